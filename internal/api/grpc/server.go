// Package grpcapi hosts the gRPC surface of the solver: standard health
// checking and reflection, wrapped in the metrics and logging interceptors.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"recaptcha-audio-solver/internal/observability"
	"recaptcha-audio-solver/internal/observability/metrics"
)

// ServiceName is the health-check name reported for the solver.
const ServiceName = "recaptcha.solver.Solver"

// Server wraps a grpc.Server with its health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewServer constructs the gRPC server. The solver starts out NOT_SERVING
// until SetServing is called.
func NewServer(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// grpcurl support
	reflection.Register(g)

	return &Server{grpc: g, health: hs}
}

// SetServing updates the solver's health status.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	log.Info().Str("component", "grpc").Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
