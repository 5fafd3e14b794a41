package repository

import (
	"context"

	"marketplace/backend/internal/audit/domain"
	"marketplace/backend/internal/db"
)

const defaultListLimit = 50

// PostgresRepository stores audit events in audit_logs. Metadata is written as JSONB.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an audit log repository over q.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// Create inserts a. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO audit_logs (id, user_id, session_id, action, ip, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.SessionID, a.Action, a.IP, a.Metadata, a.CreatedAt)
	return err
}

// ListByUser returns the most recent events for userID.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int32) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, session_id, action, ip, metadata, created_at FROM audit_logs
		 WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		if err := rows.Scan(&a.ID, &a.UserID, &a.SessionID, &a.Action, &a.IP, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
