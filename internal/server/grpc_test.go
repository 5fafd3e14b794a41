package server

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"marketplace/backend/internal/auth/authenticator"
	authhandler "marketplace/backend/internal/auth/handler"
	healthhandler "marketplace/backend/internal/health/handler"
	userhandler "marketplace/backend/internal/user/handler"
)

type recordingRegistrar struct {
	services []string
}

func (r *recordingRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	r.services = append(r.services, desc.ServiceName)
}

func TestRegisterServices(t *testing.T) {
	testCases := []struct {
		name string
		deps Deps
		want []string
	}{
		{"none", Deps{}, nil},
		{
			"all",
			Deps{
				Sessions: authhandler.NewServer(nil, nil, nil),
				Accounts: userhandler.NewServer(nil, nil),
				Health:   healthhandler.NewServer(nil, nil),
			},
			[]string{authhandler.ServiceName, userhandler.ServiceName, "grpc.health.v1.Health"},
		},
		{"health only", Deps{Health: healthhandler.NewServer(nil, nil)}, []string{"grpc.health.v1.Health"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg := &recordingRegistrar{}
			RegisterServices(reg, tc.deps)
			if len(reg.services) != len(tc.want) {
				t.Fatalf("registered %v, want %v", reg.services, tc.want)
			}
			for i := range tc.want {
				if reg.services[i] != tc.want[i] {
					t.Errorf("service[%d] = %q, want %q", i, reg.services[i], tc.want[i])
				}
			}
		})
	}
}

func TestPublicMethods(t *testing.T) {
	public := PublicMethods()
	for _, m := range []string{
		"/marketplace.session.v1.SessionService/Login",
		"/marketplace.session.v1.SessionService/Refresh",
		"/marketplace.account.v1.AccountService/Register",
		"/grpc.health.v1.Health/Check",
	} {
		if !public[m] {
			t.Errorf("%s should be public", m)
		}
	}
	for _, m := range []string{
		"/marketplace.session.v1.SessionService/Logout",
		"/marketplace.session.v1.SessionService/LogoutAll",
		"/marketplace.account.v1.AccountService/ChangePassword",
	} {
		if public[m] {
			t.Errorf("%s must require a credential", m)
		}
	}
}

type rejectAll struct{}

func (rejectAll) Authenticate(ctx context.Context, credential string) (authenticator.Outcome, error) {
	return authenticator.Outcome{Decision: authenticator.NeedsLogin}, nil
}

// Health checks stay reachable without a credential.
func TestNew_HealthIsPublic(t *testing.T) {
	health := healthhandler.NewServer(nil, nil)
	health.Probe(context.Background())
	srv := New(Deps{Health: health}, rejectAll{}, nil)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}
