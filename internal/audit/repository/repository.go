package repository

import (
	"context"

	"marketplace/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUser returns userID's events, newest first, at most limit rows.
	ListByUser(ctx context.Context, userID string, limit int32) ([]*domain.AuditLog, error)
}
