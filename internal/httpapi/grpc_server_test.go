package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"civicguard.org/internal/auth"
	"civicguard.org/internal/crisis"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *GRPCServer) (*grpc.ClientConn, func()) {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	srv.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	cleanup := func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	}
	return conn, cleanup
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q) error: %v", service, err)
	}
	return resp.GetStatus()
}

func TestGRPCServer_OverridesDriveServingStatus(t *testing.T) {
	srv := NewGRPCServer(ReadyProbe{})
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()
	client := healthpb.NewHealthClient(conn)

	for _, o := range crisis.Overrides() {
		if got := checkStatus(t, client, ServiceFor(o)); got != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("%s: expected SERVING at start, got %v", o, got)
		}
	}

	srv.CrisisChanged(crisis.Snapshot{
		Mode:      crisis.Elevated,
		Overrides: crisis.OverrideSet{}.With(crisis.FreezeVoting, true),
	})
	if got := checkStatus(t, client, "civic.voting"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected voting NOT_SERVING, got %v", got)
	}
	if got := checkStatus(t, client, "civic.comments"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected comments SERVING, got %v", got)
	}

	srv.CrisisChanged(crisis.Snapshot{Mode: crisis.Lockdown, Overrides: crisis.AllOn()})
	for _, o := range crisis.Overrides() {
		if got := checkStatus(t, client, ServiceFor(o)); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Fatalf("%s: expected NOT_SERVING in lockdown, got %v", o, got)
		}
	}

	srv.CrisisChanged(crisis.Snapshot{Mode: crisis.Normal})
	if got := checkStatus(t, client, "civic.sessions"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected sessions SERVING after stand-down, got %v", got)
	}
}

func TestGRPCServer_FollowsMachine(t *testing.T) {
	srv := NewGRPCServer(ReadyProbe{})
	m, err := crisis.New(context.Background(), nil, nil, crisis.WithObserver(srv))
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()
	client := healthpb.NewHealthClient(conn)

	if _, err := m.ToggleOverride(context.Background(), auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}, crisis.DisableComments); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := checkStatus(t, client, "civic.comments"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected comments NOT_SERVING, got %v", got)
	}
}

type failingReadiness struct{}

func (f failingReadiness) Check(context.Context) error { return errors.New("boom") }

func TestGRPCServer_ReadinessFailure(t *testing.T) {
	srv := NewGRPCServer(failingReadiness{})
	conn, cleanup := startBufGRPC(t, srv)
	defer cleanup()

	if err := srv.CheckReadiness(context.Background()); err == nil {
		t.Fatal("expected readiness error")
	}
	if got := checkStatus(t, healthpb.NewHealthClient(conn), ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected overall NOT_SERVING, got %v", got)
	}
}
