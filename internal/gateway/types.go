package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthonian/aura-gateway/internal/config"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
	ErrFailed        = errors.New("gateway connection failed")
	ErrMalformed     = errors.New("malformed frame")
)

// Opcode selects the control meaning of a gateway frame.
type Opcode int

const (
	OpDispatch            Opcode = 0
	OpHeartbeat           Opcode = 1
	OpIdentify            Opcode = 2
	OpPresenceUpdate      Opcode = 3
	OpVoiceStateUpdate    Opcode = 4
	OpResume              Opcode = 6
	OpReconnect           Opcode = 7
	OpRequestGuildMembers Opcode = 8
	OpInvalidSession      Opcode = 9
	OpHello               Opcode = 10
	OpHeartbeatAck        Opcode = 11
)

// Dispatch event names the connection itself reacts to.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Frame is a decoded gateway payload.
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"` // Dispatch only
	T  string          `json:"t,omitempty"` // Dispatch only
}

// decodeFrame parses one inbound payload. Undecodable input wraps ErrMalformed.
func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f, nil
}

// command is an outbound frame.
type command struct {
	Op Opcode `json:"op"`
	D  any    `json:"d"`
}

// IdentifyData is the payload of an Identify (op 2) frame.
type IdentifyData struct {
	Token      string     `json:"token"`
	Intents    int        `json:"intents"`
	Shard      [2]int     `json:"shard"`
	Properties Properties `json:"properties"`
	Presence   Presence   `json:"presence"`
}

// Properties identifies the client library to the gateway.
type Properties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Presence is the initial presence sent with Identify.
type Presence struct {
	Activities []Activity `json:"activities"`
	AFK        bool       `json:"afk"`
}

// Activity is a single presence activity.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// ResumeData is the payload of a Resume (op 6) frame.
type ResumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       *int64 `json:"seq"`
}

// HelloData is the payload of a Hello (op 10) frame.
type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // Milliseconds
}

// ReadyData holds the READY dispatch fields needed to resume later.
type ReadyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// State is a GatewayConnection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a read-only snapshot of the connection for health reporting.
type Status struct {
	State          State
	Connected      bool
	SessionID      string
	Sequence       *int64
	Resumable      bool
	Attempts       int
	FramesReceived int64
	FramesDropped  int64
	Heartbeats     int64
	HeartbeatAcks  int64
	Reconnects     int64
	LastFrameAt    time.Time
}

// ClientConfig configures a WebSocket transport client.
type ClientConfig struct {
	URL              string        // wss://gateway.discord.gg/?v=10&encoding=json or a resume URL
	HandshakeTimeout time.Duration // WebSocket opening handshake deadline
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Inbound message channel buffer size
	UserAgent        string
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// Config configures a gateway connection.
type Config struct {
	URL        string
	Token      string
	Intents    int
	Shard      [2]int // [shard_id, shard_count]
	Properties Properties
	Presence   Presence

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration // 0 = reconnect immediately

	Client ClientConfig // URL is filled per connection attempt

	// Budget for bus-originated commands: CommandRate per CommandWindow.
	CommandRate   int
	CommandBurst  int
	CommandWindow time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                  config.DefaultGatewayURL,
		Intents:              config.DefaultIntents,
		Shard:                [2]int{0, 1},
		Properties:           Properties{OS: config.DefaultOS, Browser: config.DefaultBrowser, Device: config.DefaultDevice},
		Presence:             Presence{Activities: []Activity{{Name: config.DefaultActivityName}}},
		MaxReconnectAttempts: config.DefaultMaxReconnectAttempts,
		Client:               DefaultClientConfig(),
		CommandRate:          config.DefaultCommandRate,
		CommandBurst:         config.DefaultCommandBurst,
		CommandWindow:        config.DefaultCommandWindow,
	}
}

// NewConfig builds a connection config from the loaded relay configuration.
func NewConfig(g config.GatewayConfig) Config {
	activities := make([]Activity, 0, len(g.Presence.Activities))
	for _, a := range g.Presence.Activities {
		activities = append(activities, Activity{Name: a.Name, Type: a.Type})
	}

	return Config{
		URL:     g.URL,
		Token:   g.Token,
		Intents: g.Intents,
		Shard:   [2]int{g.ShardID, g.ShardCount},
		Properties: Properties{
			OS:      g.Properties.OS,
			Browser: g.Properties.Browser,
			Device:  g.Properties.Device,
		},
		Presence:             Presence{Activities: activities, AFK: g.Presence.AFK},
		MaxReconnectAttempts: g.MaxReconnectAttempts,
		ReconnectDelay:       g.ReconnectDelay,
		Client: ClientConfig{
			HandshakeTimeout: g.HandshakeTimeout,
			WriteTimeout:     g.WriteTimeout,
			BufferSize:       g.BufferSize,
		},
		CommandRate:   g.CommandRate,
		CommandBurst:  g.CommandBurst,
		CommandWindow: g.CommandWindow,
	}
}
