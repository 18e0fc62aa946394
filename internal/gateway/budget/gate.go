// Package budget admits or rejects requests against per-user spend
// ceilings and prepaid credit balances before any billable work runs.
package budget

import (
	"context"
	"errors"

	"github.com/anyllm/gateway/internal/shared/models"
)

var (
	// ErrUnknownUser is returned when the target user does not exist.
	ErrUnknownUser = errors.New("user not found")

	// ErrAccountBlocked is returned when the user is explicitly blocked.
	ErrAccountBlocked = errors.New("account is blocked")

	// ErrBudgetExceeded is returned when the user's spend has reached its
	// ceiling or the prepaid credit balance is exhausted.
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// Store is the collaborator that owns budget state. Debiting and
// period-reset logic live there, not in the gate.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetBudget(ctx context.Context, budgetID string) (*models.Budget, error)
	GetCreditBalance(ctx context.Context, userID string) (*models.CreditBalance, error)
}

// Gate performs the read-only admission check. The check and the
// eventual post-call debit are deliberately not atomic: two concurrent
// requests from one user may both pass before either debits.
type Gate struct {
	store Store
}

func NewGate(store Store) *Gate {
	return &Gate{store: store}
}

// CheckAdmission rejects the request when the user is missing, blocked,
// has spent up to a non-nil ceiling, or has run out of prepaid credit.
func (g *Gate) CheckAdmission(ctx context.Context, userID string) error {
	user, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUnknownUser
	}
	if user.Blocked {
		return ErrAccountBlocked
	}

	if user.BudgetID != nil {
		budget, err := g.store.GetBudget(ctx, *user.BudgetID)
		if err != nil {
			return err
		}
		// A nil ceiling means unlimited; spend equal to the ceiling rejects.
		if budget != nil && budget.MaxBudget != nil && user.Spend >= *budget.MaxBudget {
			return ErrBudgetExceeded
		}
	}

	balance, err := g.store.GetCreditBalance(ctx, userID)
	if err != nil {
		return err
	}
	if balance != nil && !balance.Unlimited && balance.Balance <= 0 {
		return ErrBudgetExceeded
	}

	return nil
}
