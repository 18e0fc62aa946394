package handlers

import (
	"context"
	"time"

	"github.com/anyllm/gateway/internal/shared/database"
	"github.com/anyllm/gateway/internal/shared/models"
)

// UsageStore is the slice of the database the billing paths need:
// writing accounting rows and pricing lookups for cost calculation.
type UsageStore interface {
	LogUsage(ctx context.Context, entry *models.UsageLog) error
	GetModelPricing(ctx context.Context, provider, model string) (*models.ModelPricing, error)
}

// KeyActivityStore records API key liveness.
type KeyActivityStore interface {
	UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error
}

// ProfileStore serves the profile/usage reporting endpoint.
type ProfileStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetBudget(ctx context.Context, budgetID string) (*models.Budget, error)
	AggregateUsage(ctx context.Context, userID string, since time.Time) (*database.UsageWindow, error)
	RecentUsage(ctx context.Context, userID string, limit int) ([]models.UsageLog, error)
}
