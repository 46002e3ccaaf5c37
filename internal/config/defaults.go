package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultGatewayURL           = "wss://gateway.discord.gg/?v=10&encoding=json"
	DefaultIntents              = 1<<0 | 1<<1 | 1<<9 | 1<<10 | 1<<12 | 1<<13 | 1<<15
	DefaultShardCount           = 1
	DefaultOS                   = "linux"
	DefaultBrowser              = "anthonian"
	DefaultDevice               = "anthonian"
	DefaultActivityName         = "ASCA Initiative"
	DefaultMaxReconnectAttempts = 5
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultGatewayBufferSize    = 1000
	DefaultCommandRate          = 120
	DefaultCommandBurst         = 10
	DefaultCommandWindow        = 60 * time.Second

	DefaultBusDriver        = DriverServiceBus
	DefaultBusConcurrency   = 100
	DefaultPublishBuffer    = 1000
	DefaultPublishMaxBuffer = 100000
	DefaultPublishTimeout   = 10 * time.Second
	DefaultSettleTimeout    = 5 * time.Second
	DefaultMaxDeliveries    = 10
	DefaultBreakerFailures  = 5
	DefaultBreakerTimeout   = 30 * time.Second
	DefaultBreakerInterval  = 60 * time.Second
	DefaultSenderQueue      = "aura-gateway-sender"
	DefaultReceiverQueue    = "aura-gateway-receiver"

	DefaultDBPort       = 5432
	DefaultDBSSLMode    = "prefer"
	DefaultMaxConns     = 10
	DefaultMinConns     = 2
	DefaultQueueTable   = "gateway_messages"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultLockDuration = 30 * time.Second
	DefaultHealthPort   = 3000
	DefaultSyncInterval = 1 * time.Second
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

// Bus drivers.
const (
	DriverServiceBus = "servicebus"
	DriverPostgres   = "postgres"
	DriverMemory     = "memory"
)

// ApplyDefaults fills every unset optional field.
func (c *RelayConfig) ApplyDefaults() {
	c.Gateway.applyDefaults()
	c.Bus.applyDefaults()

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.SyncInterval == 0 {
		c.Health.SyncInterval = DefaultSyncInterval
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func (g *GatewayConfig) applyDefaults() {
	if g.URL == "" {
		g.URL = DefaultGatewayURL
	}
	if g.Intents == 0 {
		g.Intents = DefaultIntents
	}
	if g.ShardCount == 0 {
		g.ShardCount = DefaultShardCount
	}
	if g.Properties.OS == "" {
		g.Properties.OS = DefaultOS
	}
	if g.Properties.Browser == "" {
		g.Properties.Browser = DefaultBrowser
	}
	if g.Properties.Device == "" {
		g.Properties.Device = DefaultDevice
	}
	if g.Presence.Activities == nil {
		g.Presence.Activities = []ActivityConfig{{Name: DefaultActivityName, Type: 0}}
	}
	if g.MaxReconnectAttempts == 0 {
		g.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if g.HandshakeTimeout == 0 {
		g.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if g.WriteTimeout == 0 {
		g.WriteTimeout = DefaultWriteTimeout
	}
	if g.BufferSize == 0 {
		g.BufferSize = DefaultGatewayBufferSize
	}
	if g.CommandRate == 0 {
		g.CommandRate = DefaultCommandRate
	}
	if g.CommandBurst == 0 {
		g.CommandBurst = DefaultCommandBurst
	}
	if g.CommandWindow == 0 {
		g.CommandWindow = DefaultCommandWindow
	}
}

func (b *BusConfig) applyDefaults() {
	if b.Driver == "" {
		b.Driver = DefaultBusDriver
	}
	if b.Concurrency == 0 {
		b.Concurrency = DefaultBusConcurrency
	}
	if b.PublishBuffer == 0 {
		b.PublishBuffer = DefaultPublishBuffer
	}
	if b.PublishMaxBuffer == 0 {
		b.PublishMaxBuffer = DefaultPublishMaxBuffer
	}
	if b.PublishTimeout == 0 {
		b.PublishTimeout = DefaultPublishTimeout
	}
	if b.SettleTimeout == 0 {
		b.SettleTimeout = DefaultSettleTimeout
	}
	if b.MaxDeliveries == 0 {
		b.MaxDeliveries = DefaultMaxDeliveries
	}

	if b.Breaker.MaxFailures == 0 {
		b.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if b.Breaker.Timeout == 0 {
		b.Breaker.Timeout = DefaultBreakerTimeout
	}
	if b.Breaker.Interval == 0 {
		b.Breaker.Interval = DefaultBreakerInterval
	}

	if b.ServiceBus.SenderQueue == "" {
		b.ServiceBus.SenderQueue = DefaultSenderQueue
	}
	if b.ServiceBus.ReceiverQueue == "" {
		b.ServiceBus.ReceiverQueue = DefaultReceiverQueue
	}

	applyPostgresDefaults(&b.Postgres)
}

func applyPostgresDefaults(db *PostgresConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
	if db.Table == "" {
		db.Table = DefaultQueueTable
	}
	if db.SenderQueue == "" {
		db.SenderQueue = DefaultSenderQueue
	}
	if db.ReceiverQueue == "" {
		db.ReceiverQueue = DefaultReceiverQueue
	}
	if db.PollInterval == 0 {
		db.PollInterval = DefaultPollInterval
	}
	if db.LockDuration == 0 {
		db.LockDuration = DefaultLockDuration
	}
}
