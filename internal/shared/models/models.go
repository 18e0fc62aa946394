package models

import "time"

// APIKey represents a gateway API key. Only the sha256 digest of the
// key material is ever stored; lookups go through the digest.
type APIKey struct {
	ID                 string
	UserID             string
	KeyHash            string
	KeyPrefix          string
	Name               string
	RateLimitPerMinute int
	CacheEnabled       bool
	CacheTTLSeconds    int
	Revoked            bool
	LastUsedAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// User is the billable identity a request is charged against.
type User struct {
	UserID            string
	Alias             *string
	Blocked           bool
	Spend             float64
	BudgetID          *string
	BudgetStartedAt   *time.Time
	NextBudgetResetAt *time.Time
	CreatedAt         time.Time
}

// Budget is a spend ceiling tracked per user over a reset period.
// A nil MaxBudget means unlimited.
type Budget struct {
	BudgetID          string
	MaxBudget         *float64
	BudgetDurationSec *int
}

// CreditBalance is a prepaid balance that gates admission alongside
// or instead of a budget ceiling.
type CreditBalance struct {
	UserID    string
	Balance   float64
	Unlimited bool
	UpdatedAt time.Time
}

// ModelPricing represents pricing for an LLM model
type ModelPricing struct {
	ID                string
	Provider          string
	Model             string
	InputPer1kTokens  float64
	OutputPer1kTokens float64
	ContextWindow     int
	SupportsStreaming bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UsageLog is one accounting row per completed request.
type UsageLog struct {
	ID               string
	UserID           string
	APIKeyID         *string
	Model            string
	Provider         string
	Endpoint         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
	Status           string
	ErrorMessage     *string
	Timestamp        time.Time
}
