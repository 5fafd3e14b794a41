// Package handler exposes account management as marketplace.account.v1.AccountService.
package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"marketplace/backend/internal/logger"
	"marketplace/backend/internal/platform/rpc"
	"marketplace/backend/internal/server/interceptors"
	"marketplace/backend/internal/user/domain"
	"marketplace/backend/internal/user/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "marketplace.account.v1.AccountService"

// Accounts is the account service the RPCs drive.
type Accounts interface {
	Register(ctx context.Context, email, password string) (*domain.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	Delete(ctx context.Context, userID string) error
}

// AccountServiceServer is the server API for AccountService.
type AccountServiceServer interface {
	Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ChangePassword(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	DeleteAccount(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
}

// PublicMethods lists the RPCs that run without an access credential.
func PublicMethods() map[string]bool {
	return map[string]bool{rpc.FullMethod(ServiceName, "Register"): true}
}

// ServiceDesc describes AccountService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccountServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		rpc.Unary(ServiceName, "Register", rpc.NewStruct, func(s AccountServiceServer, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
			return s.Register(ctx, req)
		}),
		rpc.Unary(ServiceName, "ChangePassword", rpc.NewStruct, func(s AccountServiceServer, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
			return s.ChangePassword(ctx, req)
		}),
		rpc.Unary(ServiceName, "DeleteAccount", rpc.NewEmpty, func(s AccountServiceServer, ctx context.Context, req *emptypb.Empty) (proto.Message, error) {
			return s.DeleteAccount(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketplace/account/v1/account.proto",
}

// Register registers srv as AccountService on s.
func Register(s grpc.ServiceRegistrar, srv AccountServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Server implements AccountServiceServer.
type Server struct {
	accounts Accounts
	log      *zap.Logger
}

// NewServer returns an AccountService server. log may be nil.
func NewServer(accounts Accounts, log *zap.Logger) *Server {
	return &Server{accounts: accounts, log: logger.OrNop(log)}
}

// Register creates an account. The caller logs in separately.
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	u, err := s.accounts.Register(ctx, rpc.String(req, "email"), rpc.String(req, "password"))
	if err != nil {
		return nil, s.mapError("register", err)
	}
	return rpc.Fields(map[string]interface{}{
		"user_id":    u.ID,
		"email":      u.Email,
		"created_at": u.CreatedAt,
	}), nil
}

// ChangePassword replaces the caller's password. Every session of the caller ends, so the client must
// log in again.
func (s *Server) ChangePassword(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if err := s.accounts.ChangePassword(ctx, userID, rpc.String(req, "current_password"), rpc.String(req, "new_password")); err != nil {
		return nil, s.mapError("change password", err)
	}
	_ = interceptors.ClearCredentials(ctx)
	return &emptypb.Empty{}, nil
}

// DeleteAccount soft-deletes the caller's account and ends all of its sessions.
func (s *Server) DeleteAccount(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if err := s.accounts.Delete(ctx, userID); err != nil {
		return nil, s.mapError("delete account", err)
	}
	_ = interceptors.ClearCredentials(ctx)
	return &emptypb.Empty{}, nil
}

func (s *Server) mapError(op string, err error) error {
	switch {
	case errors.Is(err, service.ErrWeakPassword), errors.Is(err, domain.ErrInvalidUser):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrEmailTaken):
		return status.Error(codes.AlreadyExists, "email already registered")
	case errors.Is(err, service.ErrInvalidCredentials):
		return status.Error(codes.PermissionDenied, "current password is incorrect")
	case errors.Is(err, service.ErrUserNotFound):
		return status.Error(codes.NotFound, "user not found")
	}
	s.log.Error(op+" failed", zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}
