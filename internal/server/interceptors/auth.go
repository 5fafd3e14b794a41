package interceptors

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketplace/backend/internal/auth/authenticator"
	"marketplace/backend/internal/logger"
)

// Authenticator classifies the access credential of one request.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (authenticator.Outcome, error)
}

// AuthUnary returns a unary server interceptor that gates protected RPCs on the request authenticator.
// Admitted requests carry user_id and session_id in context. publicMethods is the set of full method
// names that run without a credential (Login, Refresh, health checks); an admitted credential on a public
// method still sets the identity.
func AuthUnary(auth Authenticator, publicMethods map[string]bool, log *zap.Logger) grpc.UnaryServerInterceptor {
	log = logger.OrNop(log)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		public := publicMethods[info.FullMethod]
		outcome, err := auth.Authenticate(ctx, AccessCredential(ctx))
		if err != nil {
			log.Error("authenticate request", zap.String("method", info.FullMethod), zap.Error(err))
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Internal, "internal error")
		}

		if outcome.Decision == authenticator.Admit {
			return handler(WithIdentity(ctx, outcome.SubjectID, outcome.SessionID), req)
		}
		if public {
			return handler(ctx, req)
		}

		switch outcome.Decision {
		case authenticator.NeedsLogin:
			_ = SetAuthHint(ctx, HintRefresh)
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		case authenticator.NeedsRefresh:
			_ = SetAuthHint(ctx, HintRefresh)
			return nil, status.Error(codes.Unauthenticated, "access credential must be refreshed")
		default:
			if outcome.DiscardCredentials {
				_ = ClearCredentials(ctx)
				_ = SetAuthHint(ctx, HintLogin)
			}
			log.Debug("request rejected",
				zap.String("method", info.FullMethod),
				zap.String("session_id", outcome.SessionID),
				zap.Bool("discard", outcome.DiscardCredentials))
			return nil, status.Error(codes.Unauthenticated, "invalid credential")
		}
	}
}
