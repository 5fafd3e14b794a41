package handler

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"marketplace/backend/internal/auth/authenticator"
	"marketplace/backend/internal/auth/service"
	"marketplace/backend/internal/auth/store"
	"marketplace/backend/internal/platform/rpc"
	"marketplace/backend/internal/policy/engine"
	"marketplace/backend/internal/security"
	"marketplace/backend/internal/server/interceptors"
	sessiondomain "marketplace/backend/internal/session/domain"
	userrepo "marketplace/backend/internal/user/repository"
	userservice "marketplace/backend/internal/user/service"
)

const password = "correct-horse-42"

type harness struct {
	conn     *grpc.ClientConn
	accounts *userservice.AccountService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	evaluator, err := engine.NewOPAEvaluator(ctx)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	accounts := userservice.NewAccountService(userrepo.NewMemoryRepository(), security.NewHasher(bcrypt.MinCost), evaluator, nil)
	sessions := store.NewMemoryStore()
	manager := service.NewManager(sessions, tokens, accounts, nil, nil)
	accounts.WithSessions(manager)

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		interceptors.AuthUnary(authenticator.New(tokens, sessions), PublicMethods(), nil),
	))
	Register(srv, NewServer(manager, accounts, nil))
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &harness{conn: conn, accounts: accounts}
}

func (h *harness) call(t *testing.T, method string, md metadata.MD, req, resp proto.Message) (metadata.MD, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if md != nil {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	var header metadata.MD
	err := h.conn.Invoke(ctx, rpc.FullMethod(ServiceName, method), req, resp, grpc.Header(&header))
	return header, err
}

func (h *harness) register(t *testing.T, email string) string {
	t.Helper()
	u, err := h.accounts.Register(context.Background(), email, password)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u.ID
}

func (h *harness) login(t *testing.T, email string) *structpb.Struct {
	t.Helper()
	resp := &structpb.Struct{}
	req := rpc.Fields(map[string]interface{}{"email": email, "password": password})
	if _, err := h.call(t, "Login", nil, req, resp); err != nil {
		t.Fatalf("Login: %v", err)
	}
	return resp
}

func bearer(access string) metadata.MD {
	return metadata.Pairs("authorization", "Bearer "+access)
}

func headerValue(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func TestLogin_SetsCredentials(t *testing.T) {
	h := newHarness(t)
	userID := h.register(t, "buyer@example.com")

	resp := &structpb.Struct{}
	req := rpc.Fields(map[string]interface{}{"email": "buyer@example.com", "password": password})
	header, err := h.call(t, "Login", nil, req, resp)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if rpc.String(resp, "user_id") != userID {
		t.Errorf("user_id = %q, want %q", rpc.String(resp, "user_id"), userID)
	}
	if headerValue(header, interceptors.HeaderAccessToken) != rpc.String(resp, "access_token") {
		t.Error("access header does not match body")
	}
	if headerValue(header, interceptors.HeaderRefreshToken) != rpc.String(resp, "refresh_token") {
		t.Error("refresh header does not match body")
	}

	who := &structpb.Struct{}
	if _, err := h.call(t, "Whoami", bearer(rpc.String(resp, "access_token")), &emptypb.Empty{}, who); err != nil {
		t.Fatalf("Whoami: %v", err)
	}
	if rpc.String(who, "user_id") != userID || rpc.String(who, "session_id") != rpc.String(resp, "session_id") {
		t.Errorf("Whoami = %v", who)
	}
	if rpc.String(who, "email") != "buyer@example.com" {
		t.Errorf("email = %q", rpc.String(who, "email"))
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	h := newHarness(t)
	h.register(t, "buyer@example.com")

	testCases := []struct {
		name     string
		req      map[string]interface{}
		wantCode codes.Code
	}{
		{"wrong password", map[string]interface{}{"email": "buyer@example.com", "password": "nope-nope-123"}, codes.Unauthenticated},
		{"unknown email", map[string]interface{}{"email": "ghost@example.com", "password": password}, codes.Unauthenticated},
		{"missing password", map[string]interface{}{"email": "buyer@example.com"}, codes.InvalidArgument},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.call(t, "Login", nil, rpc.Fields(tc.req), &structpb.Struct{})
			if status.Code(err) != tc.wantCode {
				t.Errorf("code = %v, want %v", status.Code(err), tc.wantCode)
			}
		})
	}
}

func TestProtectedWithoutCredential(t *testing.T) {
	h := newHarness(t)
	header, err := h.call(t, "Whoami", nil, &emptypb.Empty{}, &structpb.Struct{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
	if headerValue(header, interceptors.HeaderAuthHint) != interceptors.HintRefresh {
		t.Errorf("hint = %q, want refresh", headerValue(header, interceptors.HeaderAuthHint))
	}
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	h := newHarness(t)
	h.register(t, "buyer@example.com")
	first := h.login(t, "buyer@example.com")
	r1 := rpc.String(first, "refresh_token")

	rotated := &structpb.Struct{}
	header, err := h.call(t, "Refresh", metadata.Pairs(interceptors.HeaderRefreshToken, r1), rpc.NewStruct(), rotated)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	r2 := rpc.String(rotated, "refresh_token")
	if r2 == "" || r2 == r1 {
		t.Fatalf("refresh token not rotated")
	}
	if rpc.String(rotated, "session_id") != rpc.String(first, "session_id") {
		t.Error("refresh must keep the session")
	}
	if headerValue(header, interceptors.HeaderRefreshToken) != r2 {
		t.Error("rotated refresh credential not sent in headers")
	}

	rejections := []struct {
		name string
		req  *structpb.Struct
	}{
		{"replayed", rpc.Fields(map[string]interface{}{"refresh_token": r1})},
		{"garbage", rpc.Fields(map[string]interface{}{"refresh_token": "not-a-token"})},
		{"access as refresh", rpc.Fields(map[string]interface{}{"refresh_token": rpc.String(rotated, "access_token")})},
		{"missing", rpc.NewStruct()},
	}
	for _, tc := range rejections {
		t.Run(tc.name, func(t *testing.T) {
			header, err := h.call(t, "Refresh", nil, tc.req, &structpb.Struct{})
			st := status.Convert(err)
			if st.Code() != codes.Unauthenticated || st.Message() != refreshFailed {
				t.Errorf("status = %v %q, want Unauthenticated %q", st.Code(), st.Message(), refreshFailed)
			}
			if headerValue(header, interceptors.HeaderClearCredentials) != "true" {
				t.Error("rejected refresh should clear credentials")
			}
		})
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.register(t, "buyer@example.com")
	issued := h.login(t, "buyer@example.com")
	access := rpc.String(issued, "access_token")

	header, err := h.call(t, "Logout", bearer(access), &emptypb.Empty{}, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if headerValue(header, interceptors.HeaderClearCredentials) != "true" {
		t.Error("logout should clear credentials")
	}

	header, err = h.call(t, "Whoami", bearer(access), &emptypb.Empty{}, &structpb.Struct{})
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("Whoami after logout: code = %v, want Unauthenticated", status.Code(err))
	}
	if headerValue(header, interceptors.HeaderClearCredentials) != "true" {
		t.Error("closed session should clear credentials")
	}
	req := rpc.Fields(map[string]interface{}{"refresh_token": rpc.String(issued, "refresh_token")})
	if _, err := h.call(t, "Refresh", nil, req, &structpb.Struct{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("Refresh after logout: code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestLogoutAll_EndsOtherDevices(t *testing.T) {
	h := newHarness(t)
	h.register(t, "buyer@example.com")
	phone := h.login(t, "buyer@example.com")
	laptop := h.login(t, "buyer@example.com")

	if _, err := h.call(t, "LogoutAll", bearer(rpc.String(phone, "access_token")), &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	req := rpc.Fields(map[string]interface{}{"refresh_token": rpc.String(laptop, "refresh_token")})
	if _, err := h.call(t, "Refresh", nil, req, &structpb.Struct{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("laptop refresh after logout all: code = %v, want Unauthenticated", status.Code(err))
	}
	if _, err := h.call(t, "Whoami", bearer(rpc.String(laptop, "access_token")), &emptypb.Empty{}, &structpb.Struct{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("laptop access after logout all: code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestUpdateEmail_FlagsAccessForRefresh(t *testing.T) {
	h := newHarness(t)
	h.register(t, "buyer@example.com")
	issued := h.login(t, "buyer@example.com")

	updated := &structpb.Struct{}
	req := rpc.Fields(map[string]interface{}{"email": "new@example.com"})
	if _, err := h.call(t, "UpdateEmail", bearer(rpc.String(issued, "access_token")), req, updated); err != nil {
		t.Fatalf("UpdateEmail: %v", err)
	}
	flagged := rpc.String(updated, "access_token")

	header, err := h.call(t, "Whoami", bearer(flagged), &emptypb.Empty{}, &structpb.Struct{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("Whoami with flagged access: code = %v, want Unauthenticated", status.Code(err))
	}
	if headerValue(header, interceptors.HeaderAuthHint) != interceptors.HintRefresh {
		t.Errorf("hint = %q, want refresh", headerValue(header, interceptors.HeaderAuthHint))
	}
	if headerValue(header, interceptors.HeaderClearCredentials) != "" {
		t.Error("flagged access must not clear credentials")
	}

	rotated := &structpb.Struct{}
	refreshReq := rpc.Fields(map[string]interface{}{"refresh_token": rpc.String(issued, "refresh_token")})
	if _, err := h.call(t, "Refresh", nil, refreshReq, rotated); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	who := &structpb.Struct{}
	if _, err := h.call(t, "Whoami", bearer(rpc.String(rotated, "access_token")), &emptypb.Empty{}, who); err != nil {
		t.Fatalf("Whoami: %v", err)
	}
	if rpc.String(who, "email") != "new@example.com" {
		t.Errorf("email = %q, want new@example.com", rpc.String(who, "email"))
	}
}

func TestListSessions(t *testing.T) {
	h := newHarness(t)
	h.register(t, "buyer@example.com")
	old := h.login(t, "buyer@example.com")
	current := h.login(t, "buyer@example.com")
	if _, err := h.call(t, "Logout", bearer(rpc.String(old, "access_token")), &emptypb.Empty{}, &emptypb.Empty{}); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	resp := &structpb.Struct{}
	if _, err := h.call(t, "ListSessions", bearer(rpc.String(current, "access_token")), &emptypb.Empty{}, resp); err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	list := resp.GetFields()["sessions"].GetListValue().GetValues()
	if len(list) != 2 {
		t.Fatalf("sessions = %d, want 2", len(list))
	}
	byID := map[string]*structpb.Struct{}
	for _, v := range list {
		byID[rpc.String(v.GetStructValue(), "id")] = v.GetStructValue()
	}
	cur := byID[rpc.String(current, "session_id")]
	if cur == nil || !cur.Fields["current"].GetBoolValue() || !cur.Fields["open"].GetBoolValue() {
		t.Errorf("current session entry = %v", cur)
	}
	closed := byID[rpc.String(old, "session_id")]
	if closed == nil || closed.Fields["open"].GetBoolValue() || rpc.String(closed, "ended_at") == "" {
		t.Errorf("closed session entry = %v", closed)
	}
}

type stubSessions struct {
	refreshErr error
}

func (s stubSessions) Login(ctx context.Context, userID string) (*service.Issued, error) {
	return nil, errors.New("unused")
}

func (s stubSessions) Refresh(ctx context.Context, presented string) (*service.Issued, error) {
	return nil, s.refreshErr
}

func (s stubSessions) Logout(ctx context.Context, sessionID string) error { return nil }

func (s stubSessions) LogoutAllSessions(ctx context.Context, userID string) error { return nil }

func (s stubSessions) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	return nil, nil
}

func TestRefresh_ErrorMapping(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		wantCode codes.Code
		wantMsg  string
	}{
		{"expired", service.ErrExpired, codes.Unauthenticated, refreshFailed},
		{"malformed", service.ErrMalformed, codes.Unauthenticated, refreshFailed},
		{"no token", service.ErrNoToken, codes.Unauthenticated, refreshFailed},
		{"invalidated", service.ErrInvalidated, codes.Unauthenticated, refreshFailed},
		{"session closed", service.ErrSessionClosed, codes.Unauthenticated, refreshFailed},
		{"rate limited", &service.RefreshRateLimitError{SessionID: "s", RetryAfter: 30 * time.Second}, codes.ResourceExhausted, ""},
		{"store down", errors.New("connection reset by peer"), codes.Internal, "internal error"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := NewServer(stubSessions{refreshErr: tc.err}, nil, nil)
			_, err := srv.Refresh(context.Background(), rpc.Fields(map[string]interface{}{"refresh_token": "r"}))
			st := status.Convert(err)
			if st.Code() != tc.wantCode {
				t.Errorf("code = %v, want %v", st.Code(), tc.wantCode)
			}
			if tc.wantMsg != "" && st.Message() != tc.wantMsg {
				t.Errorf("message = %q, want %q", st.Message(), tc.wantMsg)
			}
		})
	}
}

func TestRegister_Desc(t *testing.T) {
	if len(ServiceDesc.Methods) != 7 {
		t.Errorf("methods = %d, want 7", len(ServiceDesc.Methods))
	}
	public := PublicMethods()
	if !public["/marketplace.session.v1.SessionService/Login"] || !public["/marketplace.session.v1.SessionService/Refresh"] {
		t.Errorf("PublicMethods = %v", public)
	}
	if public["/marketplace.session.v1.SessionService/Logout"] {
		t.Error("Logout must require a credential")
	}
}
