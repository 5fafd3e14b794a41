// seed creates development accounts for local testing. Idempotent: accounts that already exist are left
// untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	authservice "marketplace/backend/internal/auth/service"
	"marketplace/backend/internal/auth/store"
	"marketplace/backend/internal/config"
	"marketplace/backend/internal/db"
	"marketplace/backend/internal/logger"
	"marketplace/backend/internal/policy/engine"
	"marketplace/backend/internal/security"
	userrepo "marketplace/backend/internal/user/repository"
	userservice "marketplace/backend/internal/user/service"
)

const devPassword = "marketplace-dev-1"

type devAccount struct {
	email     string
	suspended bool
}

var devAccounts = []devAccount{
	{email: "buyer@example.com"},
	{email: "seller@example.com"},
	{email: "suspended@example.com", suspended: true},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := seed(context.Background(), cfg, log); err != nil {
		log.Error("seed failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("Dev logins use password %q\n", devPassword)
}

func seed(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	tokens, err := security.NewTokenProvider(cfg.SigningSecret(), cfg.JWTIssuer, cfg.JWTAudience,
		cfg.AccessTTL(), cfg.RefreshTTL(), cfg.ClockSkewDuration())
	if err != nil {
		return err
	}
	evaluator, err := engine.NewOPAEvaluator(ctx)
	if err != nil {
		return err
	}
	accounts := userservice.NewAccountService(userrepo.NewPostgresRepository(pool), security.NewHasher(cfg.BcryptCost), evaluator, log)
	accounts.WithSessions(authservice.NewManager(store.NewPostgresRunner(pool), tokens, accounts, nil, log))

	for _, a := range devAccounts {
		u, err := accounts.Register(ctx, a.email, devPassword)
		if errors.Is(err, userservice.ErrEmailTaken) {
			log.Info("account exists, skipping", zap.String("email", a.email))
			continue
		}
		if err != nil {
			return fmt.Errorf("register %s: %w", a.email, err)
		}
		if a.suspended {
			if err := accounts.Suspend(ctx, u.ID); err != nil {
				return fmt.Errorf("suspend %s: %w", a.email, err)
			}
		}
		log.Info("account seeded", zap.String("email", a.email), zap.String("user_id", u.ID))
	}
	return nil
}
