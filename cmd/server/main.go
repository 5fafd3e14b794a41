package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketplace/backend/internal/audit"
	auditrepo "marketplace/backend/internal/audit/repository"
	"marketplace/backend/internal/auth/authenticator"
	authhandler "marketplace/backend/internal/auth/handler"
	authservice "marketplace/backend/internal/auth/service"
	"marketplace/backend/internal/auth/store"
	"marketplace/backend/internal/config"
	"marketplace/backend/internal/db"
	healthhandler "marketplace/backend/internal/health/handler"
	"marketplace/backend/internal/logger"
	"marketplace/backend/internal/policy/engine"
	"marketplace/backend/internal/ratelimit"
	"marketplace/backend/internal/security"
	"marketplace/backend/internal/server"
	"marketplace/backend/internal/server/interceptors"
	sessionrepo "marketplace/backend/internal/session/repository"
	"marketplace/backend/internal/telemetry/otel"
	userhandler "marketplace/backend/internal/user/handler"
	userrepo "marketplace/backend/internal/user/repository"
	userservice "marketplace/backend/internal/user/service"
)

const healthProbeInterval = 15 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	tokens, err := security.NewTokenProvider(cfg.SigningSecret(), cfg.JWTIssuer, cfg.JWTAudience,
		cfg.AccessTTL(), cfg.RefreshTTL(), cfg.ClockSkewDuration())
	if err != nil {
		return err
	}
	evaluator, err := engine.NewOPAEvaluator(ctx)
	if err != nil {
		return err
	}
	checks := map[string]healthhandler.Check{"policy": evaluator.HealthCheck}

	var (
		runner      authservice.TxRunner
		sessions    authenticator.SessionReader
		users       userrepo.Repository
		auditLogger audit.AuditLogger
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer pool.Close()
		runner = store.NewPostgresRunner(pool)
		sessions = sessionrepo.NewPostgresRepository(pool)
		users = userrepo.NewPostgresRepository(pool)
		auditLogger = audit.NewLogger(auditrepo.NewPostgresRepository(pool), interceptors.ClientIP, log)
		checks["postgres"] = pool.Ping
	} else {
		log.Warn("DATABASE_URL not set; sessions and accounts are kept in memory and lost on restart")
		mem := store.NewMemoryStore()
		runner, sessions = mem, mem
		users = userrepo.NewMemoryRepository()
	}

	accounts := userservice.NewAccountService(users, security.NewHasher(cfg.BcryptCost), evaluator, log)
	manager := authservice.NewManager(runner, tokens, accounts, auditLogger, log).WithFlaggedTTL(cfg.FlaggedTTL())
	accounts.WithSessions(manager)

	if cfg.ThrottleEnabled() {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() { _ = rdb.Close() }()
		windows := ratelimit.NewRedisStore(rdb)
		manager.WithThrottle(ratelimit.NewRefreshLimiter(windows, cfg.RefreshRateLimitPerMinute))
		checks["redis"] = windows.Ping
	}

	health := healthhandler.NewServer(checks, log)
	go health.Run(ctx, healthProbeInterval)

	grpcServer := server.New(server.Deps{
		Sessions: authhandler.NewServer(manager, accounts, log),
		Accounts: userhandler.NewServer(accounts, log),
		Health:   health,
	}, authenticator.New(tokens, sessions), log)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr), zap.Bool("throttle", cfg.ThrottleEnabled()))
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down gRPC server")
	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")
	return nil
}
