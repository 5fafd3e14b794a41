package repository

import (
	"context"
	"time"

	"marketplace/backend/internal/session/domain"
)

// Repository defines persistence for sessions. GetByID and GetByIDForUpdate return nil, nil when the row
// does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetByIDForUpdate reads the row and holds it locked until the surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	// Close sets ended_at on an open session. It reports false when the session was already closed or missing.
	Close(ctx context.Context, id string, at time.Time) (bool, error)
	// CloseAllByUser closes every open session of userID and returns the ids it closed.
	CloseAllByUser(ctx context.Context, userID string, at time.Time) ([]string, error)
}
