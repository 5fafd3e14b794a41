package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"marketplace/backend/internal/db"
	"marketplace/backend/internal/token/domain"
)

const tokenColumns = `id, token_hash, token_type, user_id, session_id, issued_at, expires_at, invalidated, last_used_at`

// PostgresRepository stores refresh tokens in the refresh_tokens table.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a token repository over q, which may be a pool or a transaction.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// Create inserts t. The partial unique index on session_id rejects a second live token for one session.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	typ := t.Type
	if typ == "" {
		typ = domain.TypeRefresh
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO refresh_tokens (`+tokenColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.TokenHash, typ, t.UserID, t.SessionID, t.IssuedAt, t.ExpiresAt, t.Invalidated, t.LastUsedAt)
	return err
}

// GetByHash returns the token whose stored hash equals tokenHash.
func (r *PostgresRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
}

// GetLiveBySession returns the session's current token.
func (r *PostgresRepository) GetLiveBySession(ctx context.Context, sessionID string) (*domain.RefreshToken, error) {
	return r.getOne(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE session_id = $1 AND invalidated = false`, sessionID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, arg string) (*domain.RefreshToken, error) {
	t, err := scanToken(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListBySession returns every token ever issued for sessionID in issue order.
func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]*domain.RefreshToken, error) {
	rows, err := r.db.Query(ctx, `SELECT `+tokenColumns+` FROM refresh_tokens WHERE session_id = $1 ORDER BY issued_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RefreshToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Invalidate is the rotation mutual-exclusion point: only the caller whose UPDATE affects the row wins.
func (r *PostgresRepository) Invalidate(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET invalidated = true, last_used_at = $2 WHERE id = $1 AND invalidated = false`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InvalidateBySession invalidates the live tokens of sessionID and returns how many it changed.
func (r *PostgresRepository) InvalidateBySession(ctx context.Context, sessionID string, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET invalidated = true, last_used_at = $2 WHERE session_id = $1 AND invalidated = false`, sessionID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// InvalidateAllByUser invalidates every live token of userID and returns how many it changed.
func (r *PostgresRepository) InvalidateAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE refresh_tokens SET invalidated = true, last_used_at = $2 WHERE user_id = $1 AND invalidated = false`, userID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountLiveByUser counts userID's non-invalidated tokens.
func (r *PostgresRepository) CountLiveByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM refresh_tokens WHERE user_id = $1 AND invalidated = false`, userID).Scan(&n)
	return n, err
}

func scanToken(row pgx.Row) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	if err := row.Scan(&t.ID, &t.TokenHash, &t.Type, &t.UserID, &t.SessionID, &t.IssuedAt, &t.ExpiresAt, &t.Invalidated, &t.LastUsedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
