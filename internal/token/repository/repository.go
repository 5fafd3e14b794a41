package repository

import (
	"context"
	"time"

	"marketplace/backend/internal/token/domain"
)

// Repository defines persistence for refresh tokens. Lookups return nil, nil when no row matches.
type Repository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	// GetLiveBySession returns the session's non-invalidated token, if any.
	GetLiveBySession(ctx context.Context, sessionID string) (*domain.RefreshToken, error)
	ListBySession(ctx context.Context, sessionID string) ([]*domain.RefreshToken, error)
	// Invalidate flips invalidated false -> true for id. It reports false when another caller already did.
	Invalidate(ctx context.Context, id string, at time.Time) (bool, error)
	InvalidateBySession(ctx context.Context, sessionID string, at time.Time) (int64, error)
	InvalidateAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
	CountLiveByUser(ctx context.Context, userID string) (int64, error)
}
