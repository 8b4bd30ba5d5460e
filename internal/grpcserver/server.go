// Package grpcserver exposes the standard gRPC health service for the
// pipeline.
//
// The overall status ("") and one status per named dependency follow the
// readiness checks, re-evaluated on every Watch tick.
package grpcserver

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"jobmate/pipeline/internal/logging"
	"jobmate/pipeline/internal/throttle"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server wraps a grpc.Server carrying only the health service.
type Server struct {
	srv      *grpc.Server
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	log      *logging.Logger
}

// NewServer constructs a Server. Until the first Refresh every service
// reports NOT_SERVING.
func NewServer(checks map[string]Check, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Server{
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		checks:   checks,
		interval: 15 * time.Second,
		log:      log.Component("grpc"),
	}
	healthpb.RegisterHealthServer(s.srv, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return s
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC health listening", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

// Refresh runs every check once and publishes the results.
func (s *Server) Refresh(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := check(cctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			s.log.Warn("readiness check failed", "check", name, "err", err)
		}
		s.health.SetServingStatus(name, status)
	}
	s.health.SetServingStatus("", overall)
}

// Watch refreshes the statuses until ctx is cancelled.
func (s *Server) Watch(ctx context.Context) {
	for {
		s.Refresh(ctx)
		if throttle.Sleep(ctx, s.interval) != nil {
			return
		}
	}
}

// Stop marks everything NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
