package grpcauth

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
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"keyward.io/internal/auth"
)

const bufSize = 1024 * 1024

const (
	checkMethod = "/grpc.health.v1.Health/Check"
	watchMethod = "/grpc.health.v1.Health/Watch"
)

type harness struct {
	client  healthpb.HealthClient
	svc     *auth.Service
	members *auth.MemoryMemberships
}

func startBufGRPC(t *testing.T, policy Policy, opts ...Option) *harness {
	t.Helper()

	users := auth.NewMemoryStore()
	members := auth.NewMemoryMemberships()
	cfg := auth.TokenConfig{AppName: "keyward-test"}
	for _, p := range auth.Purposes() {
		cfg.Purposes[p] = auth.PurposeConfig{Secret: "grpc-secret-" + p.String() + "-0123456789", Expiry: time.Minute}
	}
	codec, err := auth.NewCodec(cfg, users)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	svc, err := auth.NewService(users, codec, auth.WithHasher(auth.NewHasher(auth.WithBcryptCost(bcrypt.MinCost))))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ic := New(svc, auth.NewGuard(members), policy, opts...)
	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(
		grpc.UnaryInterceptor(ic.Unary()),
		grpc.StreamInterceptor(ic.Stream()),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return &harness{client: healthpb.NewHealthClient(conn), svc: svc, members: members}
}

// member registers a user holding role in acme and returns an access token.
func (h *harness) member(t *testing.T, email string, role auth.Role) string {
	t.Helper()
	ctx := context.Background()
	user, err := h.svc.Register(ctx, email, "correct horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.members.Create(ctx, &auth.Membership{UserID: user.ID, CompanyID: "acme", Role: role, Status: auth.MembershipActive}); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	pair, err := h.svc.IssuePair(user)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	return pair.AccessToken
}

func callCtx(t *testing.T, token, company string) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return OutgoingContext(ctx, token, company)
}

func TestUnaryEnforcesPolicy(t *testing.T) {
	h := startBufGRPC(t, Policy{checkMethod: auth.RoleViewer})
	viewer := h.member(t, "viewer@example.com", auth.RoleViewer)
	guest := h.member(t, "guest@example.com", auth.RoleGuest)

	cases := []struct {
		name    string
		token   string
		company string
		want    codes.Code
	}{
		{"no credentials", "", "acme", codes.Unauthenticated},
		{"garbage token", "not-a-jwt", "acme", codes.Unauthenticated},
		{"missing company", viewer, "", codes.NotFound},
		{"other company", viewer, "globex", codes.NotFound},
		{"weaker role", guest, "acme", codes.PermissionDenied},
		{"allowed", viewer, "acme", codes.OK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := h.client.Check(callCtx(t, tc.token, tc.company), &healthpb.HealthCheckRequest{})
			if got := status.Code(err); got != tc.want {
				t.Fatalf("code = %v, want %v (err %v)", got, tc.want, err)
			}
			if tc.want == codes.OK && resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				t.Fatalf("status = %v, want SERVING", resp.GetStatus())
			}
		})
	}
}

func TestUnaryRevokedTokenRejected(t *testing.T) {
	h := startBufGRPC(t, nil)
	ctx := context.Background()
	user, err := h.svc.Register(ctx, "ada@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	pair, err := h.svc.IssuePair(user)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if _, err := h.client.Check(callCtx(t, pair.AccessToken, ""), &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("Check before revoke: %v", err)
	}
	if err := h.svc.RevokeAllSessions(ctx, user); err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	_, err = h.client.Check(callCtx(t, pair.AccessToken, ""), &healthpb.HealthCheckRequest{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
	if msg := status.Convert(err).Message(); msg != "Invalid token" {
		t.Fatalf("message = %q, want generic", msg)
	}
}

func TestPublicMethodsSkipAuthentication(t *testing.T) {
	h := startBufGRPC(t, Policy{checkMethod: auth.RoleSuperUser}, WithPublicMethods(checkMethod))
	if _, err := h.client.Check(callCtx(t, "", ""), &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("public Check: %v", err)
	}
}

func TestStreamEnforcesPolicy(t *testing.T) {
	h := startBufGRPC(t, Policy{watchMethod: auth.RoleContributor})
	admin := h.member(t, "admin@example.com", auth.RoleAdministrator)
	viewer := h.member(t, "viewer@example.com", auth.RoleViewer)

	stream, err := h.client.Watch(callCtx(t, admin, "acme"), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	msg, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", msg.GetStatus())
	}

	denied, err := h.client.Watch(callCtx(t, viewer, "acme"), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if _, err := denied.Recv(); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("code = %v, want PermissionDenied", status.Code(err))
	}
}

func TestToStatus(t *testing.T) {
	cases := map[error]codes.Code{
		auth.ErrMalformedToken:       codes.Unauthenticated,
		auth.ErrUnknownSubject:       codes.Unauthenticated,
		auth.ErrNotMember:            codes.NotFound,
		auth.ErrSecondFactorRequired: codes.PermissionDenied,
		auth.ErrSelfLockout:          codes.FailedPrecondition,
		errors.New("db down"):        codes.Internal,
	}
	for err, want := range cases {
		if got := status.Code(toStatus(err)); got != want {
			t.Errorf("toStatus(%v) = %v, want %v", err, got, want)
		}
	}
	if msg := status.Convert(toStatus(auth.ErrUnknownSubject)).Message(); msg != "Invalid token" {
		t.Fatalf("unknown subject leaked: %q", msg)
	}
}
