package server

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"solar-pump-rl/pkg/config"
	"solar-pump-rl/pkg/logger"
)

// ServiceName is the health-check service reported by the controller
const ServiceName = "solarpump.Controller"

// HealthServer is a gRPC server exposing the standard health service
type HealthServer struct {
	config     *config.GRPCConfig
	grpcServer *grpc.Server
	health     *health.Server
}

// NewHealthServer creates the server with every status NOT_SERVING
func NewHealthServer(cfg *config.GRPCConfig) *HealthServer {
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
		),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	if cfg.ReflectionEnabled {
		reflection.Register(grpcServer)
	}

	return &HealthServer{
		config:     cfg,
		grpcServer: grpcServer,
		health:     healthServer,
	}
}

// SetServing flips the reported status of the controller
func (s *HealthServer) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	logger.GetLogger().WithField("status", status.String()).Info("Health status updated")
}

// Start listens on the configured address and serves in the background
func (s *HealthServer) Start() error {
	if !s.config.Enabled {
		logger.GetLogger().Info("gRPC health server disabled")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logger.GetLogger().Infof("Starting gRPC health server on %s", addr)
	go s.Serve(listener)
	return nil
}

// Serve blocks serving on listener
func (s *HealthServer) Serve(listener net.Listener) {
	if err := s.grpcServer.Serve(listener); err != nil {
		logger.GetLogger().Errorf("gRPC health server failed: %v", err)
	}
}

// Stop marks the service NOT_SERVING and stops gracefully, forcing a stop when ctx expires
func (s *HealthServer) Stop(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		logger.GetLogger().Info("gRPC health server stopped gracefully")
	case <-ctx.Done():
		logger.GetLogger().Warn("Graceful shutdown timeout, forcing stop")
		s.grpcServer.Stop()
	}
}
