package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *RelayConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Bus.validate(); err != nil {
		return err
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}
	if c.Health.GRPCPort < 0 || c.Health.GRPCPort > 65535 {
		return fmt.Errorf("health.grpc_port must be between 0 and 65535, got %d", c.Health.GRPCPort)
	}
	if c.Health.GRPCPort != 0 && c.Health.GRPCPort == c.Health.Port {
		return fmt.Errorf("health.grpc_port cannot equal health.port (%d)", c.Health.Port)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (g *GatewayConfig) validate() error {
	if g.Token == "" {
		return errors.New("gateway.token is required")
	}
	if !strings.HasPrefix(g.URL, "ws://") && !strings.HasPrefix(g.URL, "wss://") {
		return fmt.Errorf("gateway.url must be a ws:// or wss:// URL, got %q", g.URL)
	}
	if g.Intents < 0 {
		return errors.New("gateway.intents must be >= 0")
	}
	if g.ShardCount < 1 {
		return errors.New("gateway.shard_count must be >= 1")
	}
	if g.ShardID < 0 || g.ShardID >= g.ShardCount {
		return fmt.Errorf("gateway.shard_id (%d) must be in [0, %d)", g.ShardID, g.ShardCount)
	}
	if g.MaxReconnectAttempts < 1 {
		return errors.New("gateway.max_reconnect_attempts must be >= 1")
	}
	if g.ReconnectDelay < 0 {
		return errors.New("gateway.reconnect_delay must be >= 0")
	}
	if g.BufferSize < 1 {
		return errors.New("gateway.buffer_size must be >= 1")
	}
	if g.CommandRate < 1 {
		return errors.New("gateway.command_rate must be >= 1")
	}
	if g.CommandBurst < 1 {
		return errors.New("gateway.command_burst must be >= 1")
	}
	return nil
}

func (b *BusConfig) validate() error {
	switch b.Driver {
	case DriverServiceBus:
		if b.ServiceBus.ConnectionString == "" && b.ServiceBus.Namespace == "" {
			return errors.New("bus.servicebus.connection_string or bus.servicebus.namespace is required")
		}
	case DriverPostgres:
		if err := b.Postgres.validate("bus.postgres"); err != nil {
			return err
		}
	case DriverMemory:
	default:
		return fmt.Errorf("bus.driver must be one of %s, %s, %s, got %q",
			DriverServiceBus, DriverPostgres, DriverMemory, b.Driver)
	}

	if b.Concurrency < 1 {
		return errors.New("bus.concurrency must be >= 1")
	}
	if b.PublishBuffer < 1 {
		return errors.New("bus.publish_buffer must be >= 1")
	}
	if b.PublishMaxBuffer < b.PublishBuffer {
		return fmt.Errorf("bus.publish_buffer (%d) cannot exceed publish_max_buffer (%d)", b.PublishBuffer, b.PublishMaxBuffer)
	}
	if b.MaxDeliveries < 1 {
		return errors.New("bus.max_deliveries must be >= 1")
	}
	return nil
}

func (db *PostgresConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	if !isIdentifier(db.Table) {
		return fmt.Errorf("%s.table %q is not a valid identifier", prefix, db.Table)
	}
	return nil
}

// isIdentifier reports whether s can be interpolated into SQL as a table name.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
