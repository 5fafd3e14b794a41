// Package server assembles the gRPC server: services, interceptors, and instrumentation.
package server

import (
	"maps"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	authhandler "marketplace/backend/internal/auth/handler"
	healthhandler "marketplace/backend/internal/health/handler"
	"marketplace/backend/internal/server/interceptors"
	userhandler "marketplace/backend/internal/user/handler"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds the service implementations to register. Nil fields are skipped.
type Deps struct {
	Sessions authhandler.SessionServiceServer
	Accounts userhandler.AccountServiceServer
	Health   *healthhandler.Server
}

// RegisterServices registers every non-nil service in deps with s.
//
// Service → handler mapping:
//   - marketplace.session.v1.SessionService → internal/auth/handler
//   - marketplace.account.v1.AccountService → internal/user/handler
//   - grpc.health.v1.Health                 → internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Sessions != nil {
		authhandler.Register(s, deps.Sessions)
	}
	if deps.Accounts != nil {
		userhandler.Register(s, deps.Accounts)
	}
	if deps.Health != nil {
		deps.Health.Register(s)
	}
}

// PublicMethods returns the full method names that run without an access credential.
func PublicMethods() map[string]bool {
	public := map[string]bool{healthCheckMethod: true}
	maps.Copy(public, authhandler.PublicMethods())
	maps.Copy(public, userhandler.PublicMethods())
	return public
}

// New returns a gRPC server with OpenTelemetry instrumentation, access logging, and the credential gate,
// with deps registered.
func New(deps Deps, auth interceptors.Authenticator, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(log, map[string]bool{healthCheckMethod: true}),
			interceptors.AuthUnary(auth, PublicMethods(), log),
		),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, deps)
	return s
}
