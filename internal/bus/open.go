package bus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthonian/aura-gateway/internal/config"
	"github.com/anthonian/aura-gateway/internal/database"
)

// Open creates the configured driver wrapped in a send circuit breaker.
func Open(ctx context.Context, cfg config.BusConfig, logger *slog.Logger) (*Breaker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bus", "driver", cfg.Driver)

	opts := Options{
		Concurrency:   cfg.Concurrency,
		MaxDeliveries: cfg.MaxDeliveries,
		SettleTimeout: cfg.SettleTimeout,
	}

	var inner Bus
	switch cfg.Driver {
	case config.DriverServiceBus:
		sb, err := NewServiceBus(cfg.ServiceBus, opts, logger)
		if err != nil {
			return nil, err
		}
		inner = sb

	case config.DriverPostgres:
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := NewPostgres(pool, PostgresConfig{
			Table:         cfg.Postgres.Table,
			SenderQueue:   cfg.Postgres.SenderQueue,
			ReceiverQueue: cfg.Postgres.ReceiverQueue,
			PollInterval:  cfg.Postgres.PollInterval,
			LockDuration:  cfg.Postgres.LockDuration,
		}, opts, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		inner = pg

	case config.DriverMemory:
		inner = NewMemory(opts, cfg.PublishMaxBuffer, logger)

	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}

	return NewBreaker(inner, BreakerConfig{
		MaxFailures: cfg.Breaker.MaxFailures,
		Timeout:     cfg.Breaker.Timeout,
		Interval:    cfg.Breaker.Interval,
	}, logger), nil
}
