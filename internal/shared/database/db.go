package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/anyllm/gateway/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// GetAPIKeyByHash retrieves an API key by the sha256 digest of its key
// material. Returns (nil, nil) when no key matches the digest.
func (db *DB) GetAPIKeyByHash(ctx context.Context, digest string) (*models.APIKey, error) {
	query := `
		SELECT id, user_id, key_hash, key_prefix, name, rate_limit_per_minute,
		       cache_enabled, cache_ttl_seconds, revoked, last_used_at, created_at, updated_at
		FROM api_keys
		WHERE key_hash = $1
	`

	var apiKey models.APIKey
	err := db.conn.QueryRowContext(ctx, query, digest).Scan(
		&apiKey.ID,
		&apiKey.UserID,
		&apiKey.KeyHash,
		&apiKey.KeyPrefix,
		&apiKey.Name,
		&apiKey.RateLimitPerMinute,
		&apiKey.CacheEnabled,
		&apiKey.CacheTTLSeconds,
		&apiKey.Revoked,
		&apiKey.LastUsedAt,
		&apiKey.CreatedAt,
		&apiKey.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &apiKey, nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, apiKeyID)
	return err
}

// GetUser retrieves a user row. Returns (nil, nil) when the user does not exist.
func (db *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT user_id, alias, blocked, spend, budget_id,
		       budget_started_at, next_budget_reset_at, created_at
		FROM users
		WHERE user_id = $1
	`

	var user models.User
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID,
		&user.Alias,
		&user.Blocked,
		&user.Spend,
		&user.BudgetID,
		&user.BudgetStartedAt,
		&user.NextBudgetResetAt,
		&user.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &user, nil
}

// GetBudget retrieves a budget row. Returns (nil, nil) when absent.
func (db *DB) GetBudget(ctx context.Context, budgetID string) (*models.Budget, error) {
	query := `SELECT budget_id, max_budget, budget_duration_sec FROM budgets WHERE budget_id = $1`

	var budget models.Budget
	err := db.conn.QueryRowContext(ctx, query, budgetID).Scan(
		&budget.BudgetID,
		&budget.MaxBudget,
		&budget.BudgetDurationSec,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &budget, nil
}

// GetCreditBalance retrieves the prepaid credit balance for a user.
// Returns (nil, nil) when the user has no credit ledger.
func (db *DB) GetCreditBalance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	query := `SELECT user_id, balance, unlimited, updated_at FROM credit_balances WHERE user_id = $1`

	var balance models.CreditBalance
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&balance.UserID,
		&balance.Balance,
		&balance.Unlimited,
		&balance.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &balance, nil
}

// GetModelPricing retrieves pricing for a model
func (db *DB) GetModelPricing(ctx context.Context, provider, model string) (*models.ModelPricing, error) {
	query := `
		SELECT id, provider, model, input_per_1k_tokens, output_per_1k_tokens,
		       context_window, supports_streaming, created_at, updated_at
		FROM model_pricing
		WHERE provider = $1 AND model = $2
	`

	var pricing models.ModelPricing
	err := db.conn.QueryRowContext(ctx, query, provider, model).Scan(
		&pricing.ID,
		&pricing.Provider,
		&pricing.Model,
		&pricing.InputPer1kTokens,
		&pricing.OutputPer1kTokens,
		&pricing.ContextWindow,
		&pricing.SupportsStreaming,
		&pricing.CreatedAt,
		&pricing.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pricing not found for %s/%s", provider, model)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &pricing, nil
}

// LogUsage writes one accounting row for a completed request.
func (db *DB) LogUsage(ctx context.Context, entry *models.UsageLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	query := `
		INSERT INTO usage_logs (
			id, user_id, api_key_id, model, provider, endpoint,
			prompt_tokens, completion_tokens, total_tokens, cost, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		entry.ID,
		entry.UserID,
		entry.APIKeyID,
		entry.Model,
		entry.Provider,
		entry.Endpoint,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.TotalTokens,
		entry.Cost,
		entry.Status,
		entry.ErrorMessage,
	)

	return err
}

// UsageWindow is an aggregate over usage rows in a time window.
type UsageWindow struct {
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// AggregateUsage sums usage rows for a user since the given time.
func (db *DB) AggregateUsage(ctx context.Context, userID string, since time.Time) (*UsageWindow, error) {
	query := `
		SELECT COUNT(id),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost), 0.0)
		FROM usage_logs
		WHERE user_id = $1 AND timestamp >= $2
	`

	var window UsageWindow
	err := db.conn.QueryRowContext(ctx, query, userID, since).Scan(
		&window.Requests,
		&window.PromptTokens,
		&window.CompletionTokens,
		&window.TotalTokens,
		&window.Cost,
	)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &window, nil
}

// RecentUsage returns the most recent usage rows for a user.
func (db *DB) RecentUsage(ctx context.Context, userID string, limit int) ([]models.UsageLog, error) {
	query := `
		SELECT id, user_id, api_key_id, model, provider, endpoint,
		       prompt_tokens, completion_tokens, total_tokens, cost, status, error_message, timestamp
		FROM usage_logs
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := db.conn.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var logs []models.UsageLog
	for rows.Next() {
		var entry models.UsageLog
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.APIKeyID,
			&entry.Model,
			&entry.Provider,
			&entry.Endpoint,
			&entry.PromptTokens,
			&entry.CompletionTokens,
			&entry.TotalTokens,
			&entry.Cost,
			&entry.Status,
			&entry.ErrorMessage,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}
