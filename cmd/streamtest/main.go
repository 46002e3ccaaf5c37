// streamtest connects to the gateway and streams the envelopes that would be
// published to the bus to the console. No bus is contacted: frames go through
// the bridge into the in-memory driver and are printed from its outbox.
// Usage: go run ./cmd/streamtest --config configs/relay.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthonian/aura-gateway/internal/bridge"
	"github.com/anthonian/aura-gateway/internal/bus"
	"github.com/anthonian/aura-gateway/internal/config"
	"github.com/anthonian/aura-gateway/internal/gateway"
	"github.com/anthonian/aura-gateway/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full envelope JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mem := bus.NewMemory(bus.DefaultOptions(), 0, logger)

	br := bridge.New(bridge.DefaultConfig(), mem, nil, logger)

	gwCfg := gateway.NewConfig(cfg.Gateway)
	gwCfg.Client.UserAgent = version.UserAgent()
	conn := gateway.NewConn(gwCfg, br, logger)
	br.SetSink(conn)

	if err := br.Start(ctx); err != nil {
		logger.Error("failed to start bridge", "error", err)
		os.Exit(1)
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := conn.Run(ctx); err != nil {
			logger.Error("gateway connection error", "error", err)
		}
	}()

	// Start console printer
	go printEnvelopes(ctx, mem, *verbose, logger)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := conn.Status()
				bridgeStats := br.Stats()
				logger.Info("stats",
					"state", st.State,
					"session_id", st.SessionID,
					"frames_received", st.FramesReceived,
					"frames_dropped", st.FramesDropped,
					"heartbeats", st.Heartbeats,
					"heartbeat_acks", st.HeartbeatAcks,
					"reconnects", st.Reconnects,
					"bridge_published", bridgeStats.FramesPublished,
					"bridge_buf", bridgeStats.Queue.Len,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	<-runDone
	br.Stop(shutdownCtx)
	mem.Close(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEnvelopes(ctx context.Context, mem *bus.Memory, verbose bool, logger *slog.Logger) {
	for {
		msg, err := mem.Outbox().Pop(ctx)
		if err != nil {
			return
		}

		if verbose {
			fmt.Printf("%s\n", msg.Body)
			continue
		}

		var env bridge.Envelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			logger.Warn("failed to decode envelope", "error", err)
			continue
		}
		fmt.Println(describe(env))
	}
}

// describe renders a one-line summary of an envelope.
func describe(env bridge.Envelope) string {
	if env.Op != gateway.OpDispatch {
		return fmt.Sprintf("[OP %d] bytes=%d", env.Op, len(env.D))
	}

	event, seq := "", "-"
	if env.T != nil {
		event = *env.T
	}
	if env.S != nil {
		seq = fmt.Sprint(*env.S)
	}
	return fmt.Sprintf("[DISPATCH] event=%s seq=%s bytes=%d", event, seq, len(env.D))
}
