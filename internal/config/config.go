package config

import "time"

// RelayConfig is the root configuration for a relay instance.
type RelayConfig struct {
	Instance InstanceConfig `yaml:"instance" toml:"instance"`
	Gateway  GatewayConfig  `yaml:"gateway" toml:"gateway"`
	Bus      BusConfig      `yaml:"bus" toml:"bus"`
	Health   HealthConfig   `yaml:"health" toml:"health"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id" toml:"id"`
}

// GatewayConfig holds the gateway socket and session settings.
type GatewayConfig struct {
	URL        string           `yaml:"url" toml:"url"`
	Token      string           `yaml:"token" toml:"token"`
	Intents    int              `yaml:"intents" toml:"intents"`
	ShardID    int              `yaml:"shard_id" toml:"shard_id"`
	ShardCount int              `yaml:"shard_count" toml:"shard_count"`
	Properties PropertiesConfig `yaml:"properties" toml:"properties"`
	Presence   PresenceConfig   `yaml:"presence" toml:"presence"`

	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay" toml:"reconnect_delay"` // 0 = reconnect immediately
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" toml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size" toml:"buffer_size"`

	// Outbound command budget for frames forwarded from the bus.
	CommandRate   int           `yaml:"command_rate" toml:"command_rate"`
	CommandBurst  int           `yaml:"command_burst" toml:"command_burst"`
	CommandWindow time.Duration `yaml:"command_window" toml:"command_window"`
}

// PropertiesConfig is the client identification sent with Identify.
type PropertiesConfig struct {
	OS      string `yaml:"os" toml:"os"`
	Browser string `yaml:"browser" toml:"browser"`
	Device  string `yaml:"device" toml:"device"`
}

// PresenceConfig is the initial presence sent with Identify.
type PresenceConfig struct {
	Activities []ActivityConfig `yaml:"activities" toml:"activities"`
	AFK        bool             `yaml:"afk" toml:"afk"`
}

// ActivityConfig is a single presence activity.
type ActivityConfig struct {
	Name string `yaml:"name" toml:"name"`
	Type int    `yaml:"type" toml:"type"`
}

// BusConfig selects and configures the message bus driver.
type BusConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "servicebus", "postgres" or "memory"

	Concurrency      int           `yaml:"concurrency" toml:"concurrency"`
	PublishBuffer    int           `yaml:"publish_buffer" toml:"publish_buffer"`
	PublishMaxBuffer int           `yaml:"publish_max_buffer" toml:"publish_max_buffer"`
	PublishTimeout   time.Duration `yaml:"publish_timeout" toml:"publish_timeout"`
	SettleTimeout    time.Duration `yaml:"settle_timeout" toml:"settle_timeout"`
	MaxDeliveries    int           `yaml:"max_deliveries" toml:"max_deliveries"`

	Breaker    BreakerConfig    `yaml:"breaker" toml:"breaker"`
	ServiceBus ServiceBusConfig `yaml:"servicebus" toml:"servicebus"`
	Postgres   PostgresConfig   `yaml:"postgres" toml:"postgres"`
}

// BreakerConfig configures the circuit breaker around bus sends.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" toml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
	Interval    time.Duration `yaml:"interval" toml:"interval"`
}

// ServiceBusConfig holds Azure Service Bus settings.
// ConnectionString wins over Namespace; Namespace uses the default Azure credential chain.
type ServiceBusConfig struct {
	ConnectionString string `yaml:"connection_string" toml:"connection_string"`
	Namespace        string `yaml:"namespace" toml:"namespace"`
	SenderQueue      string `yaml:"sender_queue" toml:"sender_queue"`
	ReceiverQueue    string `yaml:"receiver_queue" toml:"receiver_queue"`
}

// PostgresConfig holds the queue-table bus settings.
type PostgresConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"ssl_mode" toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	MinConns int    `yaml:"min_conns" toml:"min_conns"`

	Table         string        `yaml:"table" toml:"table"`
	SenderQueue   string        `yaml:"sender_queue" toml:"sender_queue"`
	ReceiverQueue string        `yaml:"receiver_queue" toml:"receiver_queue"`
	PollInterval  time.Duration `yaml:"poll_interval" toml:"poll_interval"`
	LockDuration  time.Duration `yaml:"lock_duration" toml:"lock_duration"`
}

// HealthConfig holds probe server settings.
type HealthConfig struct {
	Port         int           `yaml:"port" toml:"port"`
	GRPCPort     int           `yaml:"grpc_port" toml:"grpc_port"` // 0 disables the gRPC health service
	SyncInterval time.Duration `yaml:"sync_interval" toml:"sync_interval"`
}

// LoggingConfig holds slog handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "text" or "json"
}
