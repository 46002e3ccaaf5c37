package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// GatewayService is the gRPC health service name that mirrors readiness.
const GatewayService = "gateway"

// GRPCServer serves grpc.health.v1. The empty service is always SERVING
// while the process runs; GatewayService follows Connected.
type GRPCServer struct {
	gw       Gateway
	interval time.Duration
	logger   *slog.Logger

	server *grpc.Server
	health *grpchealth.Server
}

// NewGRPCServer creates a health server polling gw every interval.
func NewGRPCServer(gw Gateway, interval time.Duration, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}

	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	s := &GRPCServer{
		gw:       gw,
		interval: interval,
		logger:   logger,
		server:   server,
		health:   hs,
	}
	s.sync()
	return s
}

// Serve accepts connections on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go s.syncLoop(ctx)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	s.logger.Info("grpc health server listening", "addr", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop stops the server immediately.
func (s *GRPCServer) Stop() {
	s.server.Stop()
}

func (s *GRPCServer) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sync()
		}
	}
}

func (s *GRPCServer) sync() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.gw.Connected() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(GatewayService, status)
}
