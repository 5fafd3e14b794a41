package engine

import (
	"context"

	userdomain "marketplace/backend/internal/user/domain"
)

// Evaluator decides whether an account may hold sessions.
type Evaluator interface {
	// EvaluateEligibility returns true when user (nil for an unknown id) may log in or refresh.
	EvaluateEligibility(ctx context.Context, user *userdomain.User) (bool, error)
}
