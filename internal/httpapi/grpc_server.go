package httpapi

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"civicguard.org/internal/crisis"
)

// Subsystems gated by an override. Each is reported as a gRPC health
// service so that platform components can watch it.
var overrideServices = map[crisis.Override]string{
	crisis.FreezeVoting:      "civic.voting",
	crisis.PauseReports:      "civic.reports",
	crisis.LockEvidenceVault: "civic.evidence",
	crisis.DisableComments:   "civic.comments",
	crisis.LegalOnlyMode:     "civic.publishing",
	crisis.ForceReAuth:       "civic.sessions",
}

// ServiceFor returns the health service name tracking o.
func ServiceFor(o crisis.Override) string { return overrideServices[o] }

// GRPCServer publishes override state through the standard gRPC health
// service. The overall service ("") follows readiness.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// NewGRPCServer creates the health publisher with every subsystem serving.
func NewGRPCServer(r readinessChecker) *GRPCServer {
	s := &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		last:      make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	for _, o := range crisis.Overrides() {
		s.set(overrideServices[o], healthpb.HealthCheckResponse_SERVING)
	}
	s.set("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// CrisisChanged implements crisis.Observer.
func (s *GRPCServer) CrisisChanged(snap crisis.Snapshot) {
	for _, o := range crisis.Overrides() {
		st := healthpb.HealthCheckResponse_SERVING
		if snap.Overrides.Get(o) {
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.set(overrideServices[o], st)
	}
}

// CheckReadiness refreshes the overall status from the readiness probe.
func (s *GRPCServer) CheckReadiness(ctx context.Context) error {
	if s.readiness == nil {
		return nil
	}
	err := s.readiness.Check(ctx)
	if err != nil {
		s.set("", healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	s.set("", healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
}

func (s *GRPCServer) set(service string, st healthpb.HealthCheckResponse_ServingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.last[service]; ok && prev == st {
		return
	}
	s.last[service] = st
	s.health.SetServingStatus(service, st)
}
