package collector

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name the collector reports under.
const ServiceName = "fleet.Collector"

// Server is the collector's gRPC endpoint. It only serves the standard
// health protocol, reflecting whether the database is reachable.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	db     Pinger
	logger *slog.Logger
}

func NewServer(db Pinger, logger *slog.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, db: db, logger: logger}
	s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) GRPC() *grpc.Server {
	return s.grpc
}

func (s *Server) setStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// CheckDatabase pings the database and updates the serving status.
func (s *Server) CheckDatabase(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("database ping failed, reporting not serving", "error", err)
		s.setStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return err
	}
	s.setStatus(grpc_health_v1.HealthCheckResponse_SERVING)
	return nil
}

// Shutdown marks the server not serving and stops it gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
