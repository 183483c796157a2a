package observability

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/roadnet-simulator/core"
	"github.com/signalsfoundry/roadnet-simulator/internal/logging"
	"github.com/signalsfoundry/roadnet-simulator/model"
)

// HealthServiceName returns the health-check service name reported for a
// population, e.g. "roadnet.population.elderly".
func HealthServiceName(kind model.PopulationKind) string {
	return "roadnet.population." + kind.String()
}

// HealthServer exposes the standard gRPC health protocol for the simulator
// as a whole (service "") and for each population.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewHealthServer builds a gRPC server carrying the health service. All
// services start NOT_SERVING until MarkServing is called.
func NewHealthServer(collector *SimCollector, log logging.Logger, kinds []model.PopulationKind) *HealthServer {
	if log == nil {
		log = logging.Noop()
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(collector.UnaryServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for _, kind := range kinds {
		hs.SetServingStatus(HealthServiceName(kind), healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return &HealthServer{grpc: srv, health: hs, log: log}
}

// MarkServing flips the overall status and each population's status to
// SERVING.
func (s *HealthServer) MarkServing(populations []*core.Population) {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, p := range populations {
		s.health.SetServingStatus(HealthServiceName(p.Kind()), healthpb.HealthCheckResponse_SERVING)
	}
}

// Serve accepts connections on lis until Stop is called.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	s.log.Info(ctx, "health server listening", logging.String("address", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Stop reports NOT_SERVING for everything and stops the server gracefully.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
