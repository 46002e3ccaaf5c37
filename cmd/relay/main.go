package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthonian/aura-gateway/internal/bridge"
	"github.com/anthonian/aura-gateway/internal/bus"
	"github.com/anthonian/aura-gateway/internal/config"
	"github.com/anthonian/aura-gateway/internal/gateway"
	"github.com/anthonian/aura-gateway/internal/health"
	"github.com/anthonian/aura-gateway/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until the configured one is built
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	configured, err := newLogger(cfg.Logging, os.Stdout)
	if err != nil {
		logger.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}
	logger = configured.With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)
	logger.Info("configuration loaded",
		"gateway_url", cfg.Gateway.URL,
		"shard", fmt.Sprintf("%d/%d", cfg.Gateway.ShardID, cfg.Gateway.ShardCount),
		"bus_driver", cfg.Bus.Driver,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the message bus
	b, err := bus.Open(ctx, cfg.Bus, logger)
	if err != nil {
		logger.Error("failed to open message bus", "error", err)
		os.Exit(1)
	}

	br := bridge.New(bridge.Config{
		PublishBuffer:    cfg.Bus.PublishBuffer,
		PublishMaxBuffer: cfg.Bus.PublishMaxBuffer,
		PublishTimeout:   cfg.Bus.PublishTimeout,
	}, b, nil, logger.With("component", "bridge"))

	gwCfg := gateway.NewConfig(cfg.Gateway)
	gwCfg.Client.UserAgent = version.UserAgent()
	conn := gateway.NewConn(gwCfg, br, logger.With("component", "gateway"))
	br.SetSink(conn)

	if err := br.Start(ctx); err != nil {
		logger.Error("failed to start message bridge", "error", err)
		os.Exit(1)
	}

	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		if err := b.Subscribe(ctx, br.HandleCommand); err != nil && !errors.Is(err, bus.ErrClosed) {
			logger.Error("error occurred while subscribing to messages", "error", err)
		}
	}()

	// Start health servers before the gateway so probes answer during connect
	healthServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: health.NewHandler(conn, logger.With("component", "health"),
			health.WithBridge(br),
			health.WithBus(b),
			health.WithBreaker(b.State),
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	if cfg.Health.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Health.GRPCPort))
		if err != nil {
			logger.Error("failed to listen for grpc health", "error", err, "port", cfg.Health.GRPCPort)
			os.Exit(1)
		}
		grpcServer := health.NewGRPCServer(conn, cfg.Health.SyncInterval, logger.With("component", "grpc-health"))
		go func() {
			if err := grpcServer.Serve(ctx, lis); err != nil {
				logger.Error("grpc health server error", "error", err)
			}
		}()
	}

	// Run the gateway connection until shutdown
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := conn.Run(ctx); err != nil {
			logger.Error("gateway connection error", "error", err)
		}
	}()

	logger.Info("relay running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	<-runDone
	<-subDone
	if err := br.Stop(shutdownCtx); err != nil {
		logger.Error("error occurred while draining bridge", "error", err)
	}
	if err := b.Close(shutdownCtx); err != nil {
		logger.Error("error occurred while closing connection", "error", err)
	}
	healthServer.Shutdown(shutdownCtx)

	logger.Info("relay stopped")
}
