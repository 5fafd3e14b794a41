// Package handler serves grpc.health.v1.Health with readiness derived from dependency checks.
package handler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"marketplace/backend/internal/logger"
)

// Check reports whether one dependency (database, Redis, policy engine) is usable.
type Check func(ctx context.Context) error

// Server wraps the standard health server and flips the overall status as checks pass or fail.
type Server struct {
	*health.Server
	checks  map[string]Check
	timeout time.Duration
	log     *zap.Logger
}

// NewServer returns a health server that starts NOT_SERVING until the first Probe. checks may be empty,
// in which case every Probe reports SERVING.
func NewServer(checks map[string]Check, log *zap.Logger) *Server {
	s := &Server{
		Server:  health.NewServer(),
		checks:  checks,
		timeout: 2 * time.Second,
		log:     logger.OrNop(log),
	}
	s.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register registers the health service on r.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(r, s.Server)
}

// Probe runs every check once and returns the names of the failing ones.
func (s *Server) Probe(ctx context.Context) []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var failing []string
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.checks[name](cctx)
		cancel()
		if err != nil {
			s.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
			failing = append(failing, name)
		}
	}
	if len(failing) == 0 {
		s.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		s.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return failing
}

// Run probes immediately and then every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.Probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}
