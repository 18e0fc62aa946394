package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/anyllm/gateway/internal/gateway/budget"
	"github.com/anyllm/gateway/internal/shared/database"
	"github.com/anyllm/gateway/internal/shared/models"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100
)

type ProfileHandler struct {
	db ProfileStore
}

func NewProfileHandler(db ProfileStore) *ProfileHandler {
	return &ProfileHandler{db: db}
}

type profileInfo struct {
	UserID  string  `json:"user_id"`
	Alias   *string `json:"alias"`
	Blocked bool    `json:"blocked"`
}

type budgetInfo struct {
	BudgetID          string     `json:"budget_id"`
	MaxBudget         *float64   `json:"max_budget"`
	BudgetDurationSec *int       `json:"budget_duration_sec"`
	Spend             float64    `json:"spend"`
	BudgetStartedAt   *time.Time `json:"budget_started_at"`
	NextBudgetResetAt *time.Time `json:"next_budget_reset_at"`
}

type usageLogItem struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	Endpoint     string    `json:"endpoint"`
	PromptTokens int       `json:"prompt_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	Cost         float64   `json:"cost"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"error_message"`
}

type profileResponse struct {
	Profile     profileInfo                      `json:"profile"`
	Budget      *budgetInfo                      `json:"budget"`
	Usage       map[string]*database.UsageWindow `json:"usage"`
	RecentUsage []usageLogItem                   `json:"recent_usage"`
}

// HandleGetProfile handles GET /v1/profile. Master-key callers must
// name the user with the `user` query parameter.
func (h *ProfileHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity := IdentityFrom(ctx)
	if identity == nil {
		writeErrorStatus(w, http.StatusUnauthorized, errUnauthorized)
		return
	}

	userID, err := identity.TargetUser(r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, err)
		return
	}

	recentLimit := defaultRecentLimit
	if raw := r.URL.Query().Get("recent_limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= maxRecentLimit {
			recentLimit = n
		}
	}

	user, err := h.db.GetUser(ctx, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, budget.ErrUnknownUser)
		return
	}

	var info *budgetInfo
	if user.BudgetID != nil {
		b, err := h.db.GetBudget(ctx, *user.BudgetID)
		if err != nil {
			writeError(w, err)
			return
		}
		if b != nil {
			info = &budgetInfo{
				BudgetID:          b.BudgetID,
				MaxBudget:         b.MaxBudget,
				BudgetDurationSec: b.BudgetDurationSec,
				Spend:             user.Spend,
				BudgetStartedAt:   user.BudgetStartedAt,
				NextBudgetResetAt: user.NextBudgetResetAt,
			}
		}
	}

	now := time.Now()
	windows := map[string]time.Duration{
		"last_24h": 24 * time.Hour,
		"last_7d":  7 * 24 * time.Hour,
		"last_30d": 30 * 24 * time.Hour,
	}
	usage := make(map[string]*database.UsageWindow, len(windows))
	for name, span := range windows {
		window, err := h.db.AggregateUsage(ctx, userID, now.Add(-span))
		if err != nil {
			writeError(w, err)
			return
		}
		usage[name] = window
	}

	logs, err := h.db.RecentUsage(ctx, userID, recentLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profileResponse{
		Profile: profileInfo{
			UserID:  user.UserID,
			Alias:   user.Alias,
			Blocked: user.Blocked,
		},
		Budget:      info,
		Usage:       usage,
		RecentUsage: recentItems(logs),
	})
}

func recentItems(logs []models.UsageLog) []usageLogItem {
	items := make([]usageLogItem, 0, len(logs))
	for _, entry := range logs {
		items = append(items, usageLogItem{
			ID:           entry.ID,
			Timestamp:    entry.Timestamp,
			Model:        entry.Model,
			Provider:     entry.Provider,
			Endpoint:     entry.Endpoint,
			PromptTokens: entry.PromptTokens,
			TotalTokens:  entry.TotalTokens,
			Cost:         entry.Cost,
			Status:       entry.Status,
			ErrorMessage: entry.ErrorMessage,
		})
	}
	return items
}
