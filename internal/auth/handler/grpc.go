// Package handler exposes the session manager over gRPC as marketplace.session.v1.SessionService.
// Credentials travel in metadata (see interceptors.AccessCredential and interceptors.SetCredentials) and
// are echoed in the response body for clients that cannot read headers.
package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"marketplace/backend/internal/auth/service"
	"marketplace/backend/internal/logger"
	"marketplace/backend/internal/platform/rpc"
	"marketplace/backend/internal/server/interceptors"
	sessiondomain "marketplace/backend/internal/session/domain"
	userdomain "marketplace/backend/internal/user/domain"
	userservice "marketplace/backend/internal/user/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "marketplace.session.v1.SessionService"

// refreshFailed is the only message a client sees for any rejected refresh.
const refreshFailed = "refresh failed: log in again"

// SessionManager is the part of the session manager the RPCs drive.
type SessionManager interface {
	Login(ctx context.Context, userID string) (*service.Issued, error)
	Refresh(ctx context.Context, presented string) (*service.Issued, error)
	Logout(ctx context.Context, sessionID string) error
	LogoutAllSessions(ctx context.Context, userID string) error
	ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// Accounts is the account collaborator used by Login, Whoami, and UpdateEmail.
type Accounts interface {
	VerifyPassword(ctx context.Context, email, password string) (string, error)
	Get(ctx context.Context, userID string) (*userdomain.User, error)
	UpdateEmail(ctx context.Context, userID, sessionID, email string) (string, time.Time, error)
}

// SessionServiceServer is the server API for SessionService.
type SessionServiceServer interface {
	Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Logout(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
	LogoutAll(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
	Whoami(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	UpdateEmail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListSessions(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// PublicMethods lists the RPCs that run without an access credential.
func PublicMethods() map[string]bool {
	return map[string]bool{
		rpc.FullMethod(ServiceName, "Login"):   true,
		rpc.FullMethod(ServiceName, "Refresh"): true,
	}
}

// ServiceDesc describes SessionService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "Login", rpc.NewStruct, func(s SessionServiceServer, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
			return s.Login(ctx, req)
		}),
		rpc.Unary(ServiceName, "Refresh", rpc.NewStruct, func(s SessionServiceServer, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
			return s.Refresh(ctx, req)
		}),
		rpc.Unary(ServiceName, "Logout", rpc.NewEmpty, func(s SessionServiceServer, ctx context.Context, req *emptypb.Empty) (proto.Message, error) {
			return s.Logout(ctx, req)
		}),
		rpc.Unary(ServiceName, "LogoutAll", rpc.NewEmpty, func(s SessionServiceServer, ctx context.Context, req *emptypb.Empty) (proto.Message, error) {
			return s.LogoutAll(ctx, req)
		}),
		rpc.Unary(ServiceName, "Whoami", rpc.NewEmpty, func(s SessionServiceServer, ctx context.Context, req *emptypb.Empty) (proto.Message, error) {
			return s.Whoami(ctx, req)
		}),
		rpc.Unary(ServiceName, "UpdateEmail", rpc.NewStruct, func(s SessionServiceServer, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
			return s.UpdateEmail(ctx, req)
		}),
		rpc.Unary(ServiceName, "ListSessions", rpc.NewEmpty, func(s SessionServiceServer, ctx context.Context, req *emptypb.Empty) (proto.Message, error) {
			return s.ListSessions(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketplace/session/v1/session.proto",
}

// Register registers srv as SessionService on s.
func Register(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Server implements SessionServiceServer.
type Server struct {
	sessions SessionManager
	accounts Accounts
	log      *zap.Logger
}

// NewServer returns a SessionService server. log may be nil.
func NewServer(sessions SessionManager, accounts Accounts, log *zap.Logger) *Server {
	return &Server{sessions: sessions, accounts: accounts, log: logger.OrNop(log)}
}

// Login verifies email and password and opens a new session.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	email, password := rpc.String(req, "email"), rpc.String(req, "password")
	if email == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}
	userID, err := s.accounts.VerifyPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, userservice.ErrInvalidCredentials) {
			return nil, status.Error(codes.Unauthenticated, "invalid email or password")
		}
		return nil, s.internal("verify password", err)
	}
	issued, err := s.sessions.Login(ctx, userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotEligible) {
			return nil, status.Error(codes.Unauthenticated, "invalid email or password")
		}
		return nil, s.internal("login", err)
	}
	return s.sendIssued(ctx, issued)
}

// Refresh rotates the refresh credential from the request body or x-refresh-token. Every rejection
// returns the same status and clears the client's credentials.
func (s *Server) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	presented := rpc.String(req, "refresh_token")
	if presented == "" {
		presented = interceptors.RefreshCredential(ctx)
	}
	issued, err := s.sessions.Refresh(ctx, presented)
	if err != nil {
		var limited *service.RefreshRateLimitError
		switch {
		case errors.As(err, &limited):
			return nil, status.Errorf(codes.ResourceExhausted, "too many refresh attempts, retry in %s", limited.RetryAfter)
		case service.IsRefreshRejection(err):
			s.log.Debug("refresh rejected", zap.Error(err))
			_ = interceptors.ClearCredentials(ctx)
			_ = interceptors.SetAuthHint(ctx, interceptors.HintLogin)
			return nil, status.Error(codes.Unauthenticated, refreshFailed)
		default:
			return nil, s.internal("refresh", err)
		}
	}
	return s.sendIssued(ctx, issued)
}

// Logout ends the caller's session.
func (s *Server) Logout(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	sessionID, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if err := s.sessions.Logout(ctx, sessionID); err != nil {
		return nil, s.internal("logout", err)
	}
	_ = interceptors.ClearCredentials(ctx)
	return &emptypb.Empty{}, nil
}

// LogoutAll ends every session of the caller, including the current one.
func (s *Server) LogoutAll(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if err := s.sessions.LogoutAllSessions(ctx, userID); err != nil {
		return nil, s.internal("logout all", err)
	}
	_ = interceptors.ClearCredentials(ctx)
	return &emptypb.Empty{}, nil
}

// Whoami returns the admitted identity and account summary.
func (s *Server) Whoami(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	userID, _ := interceptors.GetUserID(ctx)
	sessionID, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	u, err := s.accounts.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, userservice.ErrUserNotFound) {
			return nil, status.Error(codes.NotFound, "user not found")
		}
		return nil, s.internal("whoami", err)
	}
	return rpc.Fields(map[string]interface{}{
		"user_id":    u.ID,
		"session_id": sessionID,
		"email":      u.Email,
		"status":     string(u.Status),
	}), nil
}

// UpdateEmail changes the caller's email and returns an access credential flagged for refresh.
func (s *Server) UpdateEmail(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, _ := interceptors.GetUserID(ctx)
	sessionID, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	email := rpc.String(req, "email")
	if email == "" {
		return nil, status.Error(codes.InvalidArgument, "email is required")
	}
	access, expiresAt, err := s.accounts.UpdateEmail(ctx, userID, sessionID, email)
	if err != nil {
		switch {
		case errors.Is(err, userservice.ErrEmailTaken):
			return nil, status.Error(codes.AlreadyExists, "email already registered")
		case errors.Is(err, service.ErrSessionClosed):
			_ = interceptors.ClearCredentials(ctx)
			return nil, status.Error(codes.Unauthenticated, "invalid credential")
		case errors.Is(err, userservice.ErrUserNotFound):
			return nil, status.Error(codes.NotFound, "user not found")
		}
		if errors.Is(err, userdomain.ErrInvalidUser) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, s.internal("update email", err)
	}
	_ = interceptors.SetCredentials(ctx, access, "")
	return rpc.Fields(map[string]interface{}{
		"access_token":      access,
		"access_expires_at": expiresAt,
	}), nil
}

// ListSessions returns the caller's sessions, newest first, marking the current one.
func (s *Server) ListSessions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	userID, _ := interceptors.GetUserID(ctx)
	current, ok := interceptors.GetSessionID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	list, err := s.sessions.ListSessions(ctx, userID)
	if err != nil {
		return nil, s.internal("list sessions", err)
	}
	out := make([]*structpb.Value, 0, len(list))
	for _, sess := range list {
		out = append(out, structpb.NewStructValue(rpc.Fields(map[string]interface{}{
			"id":         sess.ID,
			"started_at": sess.StartedAt,
			"ended_at":   sess.EndedAt,
			"open":       sess.IsOpen(),
			"current":    sess.ID == current,
		})))
	}
	return rpc.Fields(map[string]interface{}{"sessions": out}), nil
}

func (s *Server) sendIssued(ctx context.Context, issued *service.Issued) (*structpb.Struct, error) {
	if err := interceptors.SetCredentials(ctx, issued.AccessToken, issued.RefreshToken); err != nil {
		s.log.Debug("set credential headers", zap.Error(err))
	}
	return rpc.Fields(map[string]interface{}{
		"session_id":         issued.SessionID,
		"user_id":            issued.UserID,
		"access_token":       issued.AccessToken,
		"access_expires_at":  issued.AccessExpiresAt,
		"refresh_token":      issued.RefreshToken,
		"refresh_expires_at": issued.RefreshExpiresAt,
	}), nil
}

// internal logs err and returns a status that reveals nothing about it.
func (s *Server) internal(op string, err error) error {
	s.log.Error(op+" failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
