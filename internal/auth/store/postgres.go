// Package store binds the session and token repositories to transactions for the session manager.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketplace/backend/internal/auth/service"
	"marketplace/backend/internal/db"
	sessionrepo "marketplace/backend/internal/session/repository"
	tokenrepo "marketplace/backend/internal/token/repository"
)

// PostgresRunner runs manager transactions on a pgx pool at read committed.
type PostgresRunner struct {
	pool *pgxpool.Pool
}

// NewPostgresRunner returns a TxRunner over pool.
func NewPostgresRunner(pool *pgxpool.Pool) *PostgresRunner {
	return &PostgresRunner{pool: pool}
}

// InTx begins a transaction, hands fn repositories bound to it, and commits when fn returns nil.
func (r *PostgresRunner) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	if r == nil || r.pool == nil {
		return errors.New("store: postgres pool is nil")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{
			sessions: sessionrepo.NewPostgresRepository(tx),
			tokens:   tokenrepo.NewPostgresRepository(tx),
		})
	})
}

type pgTx struct {
	sessions *sessionrepo.PostgresRepository
	tokens   *tokenrepo.PostgresRepository
}

func (t *pgTx) Sessions() sessionrepo.Repository { return t.sessions }
func (t *pgTx) Tokens() tokenrepo.Repository     { return t.tokens }
