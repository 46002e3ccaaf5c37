// Package bridge relays gateway frames to the message bus and bus commands
// back to the gateway.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthonian/aura-gateway/internal/bus"
	"github.com/anthonian/aura-gateway/internal/gateway"
	"github.com/anthonian/aura-gateway/internal/queue"
)

// Sender publishes one message body to the bus.
type Sender interface {
	Send(ctx context.Context, body []byte) error
}

// CommandSink writes a raw frame to the gateway socket.
type CommandSink interface {
	SendCommand(ctx context.Context, data []byte) error
}

// Envelope is the bus representation of one gateway frame.
type Envelope struct {
	Op gateway.Opcode  `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  *string         `json:"t"`
}

// NewEnvelope converts a decoded frame. Absent fields become JSON null.
func NewEnvelope(f gateway.Frame) Envelope {
	env := Envelope{Op: f.Op, D: f.D, S: f.S}
	if f.T != "" {
		t := f.T
		env.T = &t
	}
	return env
}

// Command is a bus message addressed to the gateway.
type Command struct {
	Success bool            `json:"success"`
	Body    json.RawMessage `json:"body"`
}

// Config holds bridge settings.
type Config struct {
	PublishBuffer    int           // Initial publish queue capacity
	PublishMaxBuffer int           // Publish queue ceiling (0 = unbounded)
	PublishTimeout   time.Duration // Deadline for one bus send
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PublishBuffer:    1000,
		PublishMaxBuffer: 100000,
		PublishTimeout:   10 * time.Second,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	FramesQueued     int64
	FramesPublished  int64
	PublishErrors    int64
	FramesDropped    int64
	CommandsReceived int64
	CommandsSent     int64
	CommandsRejected int64
	Queue            queue.Stats
}

// Bridge publishes gateway frames in order from a single goroutine, so a
// slow bus never stalls frame processing.
type Bridge struct {
	cfg    Config
	logger *slog.Logger
	sender Sender
	sink   CommandSink

	pending *queue.Queue[Envelope]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queued           atomic.Int64
	published        atomic.Int64
	publishErrors    atomic.Int64
	dropped          atomic.Int64
	commandsReceived atomic.Int64
	commandsSent     atomic.Int64
	commandsRejected atomic.Int64
}

// New creates a bridge sending frames to sender and commands to sink.
func New(cfg Config, sender Sender, sink CommandSink, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Bridge{
		cfg:     cfg,
		logger:  logger,
		sender:  sender,
		sink:    sink,
		pending: queue.New[Envelope](cfg.PublishBuffer, cfg.PublishMaxBuffer),
	}
}

// SetSink sets the command destination. It must be called before Subscribe
// delivers the first command.
func (b *Bridge) SetSink(sink CommandSink) {
	b.sink = sink
}

// Start begins publishing queued frames. Cancelling ctx does not stop
// publishing; only Stop does, so frames queued at shutdown still drain.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))

	b.wg.Add(1)
	go b.publishLoop()

	b.logger.Info("message bridge started",
		"publish_buffer", b.cfg.PublishBuffer,
		"publish_max_buffer", b.cfg.PublishMaxBuffer,
	)
	return nil
}

// Stop drains queued frames until ctx is done, then stops publishing.
func (b *Bridge) Stop(ctx context.Context) error {
	b.logger.Info("stopping message bridge")

	b.pending.Close()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("message bridge stopped")
	case <-ctx.Done():
		b.logger.Warn("message bridge stop timed out", "pending", b.pending.Len())
		if b.cancel != nil {
			b.cancel()
		}
		<-done
	}

	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

// Publish queues a frame for the bus. It never blocks; when the queue is
// full or stopped the frame is dropped and counted.
func (b *Bridge) Publish(f gateway.Frame) {
	if err := b.pending.Push(NewEnvelope(f)); err != nil {
		b.dropped.Add(1)
		b.logger.Warn("dropping frame for bus", "op", f.Op, "t", f.T, "error", err)
		return
	}
	b.queued.Add(1)
}

// HandleCommand forwards a successful command's body to the gateway.
// It returns false, leaving the message for redelivery, when the command
// is malformed, unsuccessful or cannot be written.
func (b *Bridge) HandleCommand(ctx context.Context, msg bus.Message) bool {
	b.commandsReceived.Add(1)

	frame, err := decodeCommand(msg.Body)
	if err != nil {
		b.commandsRejected.Add(1)
		b.logger.Error("failed to send response", "id", msg.ID, "error", err)
		return false
	}

	if b.sink == nil {
		b.commandsRejected.Add(1)
		b.logger.Error("failed to send response", "id", msg.ID, "error", gateway.ErrNotConnected)
		return false
	}

	if err := b.sink.SendCommand(ctx, frame); err != nil {
		b.commandsRejected.Add(1)
		b.logger.Error("failed to send response", "id", msg.ID, "error", err)
		return false
	}

	b.commandsSent.Add(1)
	b.logger.Debug("sent response", "id", msg.ID, "size", len(frame))
	return true
}

// errUnsuccessful carries the body of a command flagged as failed.
type errUnsuccessful struct {
	body json.RawMessage
}

func (e errUnsuccessful) Error() string {
	return "command not successful: " + string(e.body)
}

// decodeCommand returns the frame to write for a command message.
// A JSON string body is the frame text itself; any other value is sent as JSON.
func decodeCommand(data []byte) ([]byte, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if !cmd.Success {
		return nil, errUnsuccessful{body: cmd.Body}
	}
	if len(cmd.Body) == 0 || string(cmd.Body) == "null" {
		return nil, errors.New("command has no body")
	}

	if cmd.Body[0] == '"' {
		var s string
		if err := json.Unmarshal(cmd.Body, &s); err != nil {
			return nil, fmt.Errorf("decode command body: %w", err)
		}
		return []byte(s), nil
	}
	return cmd.Body, nil
}

// Stats returns current statistics.
func (b *Bridge) Stats() Stats {
	return Stats{
		FramesQueued:     b.queued.Load(),
		FramesPublished:  b.published.Load(),
		PublishErrors:    b.publishErrors.Load(),
		FramesDropped:    b.dropped.Load(),
		CommandsReceived: b.commandsReceived.Load(),
		CommandsSent:     b.commandsSent.Load(),
		CommandsRejected: b.commandsRejected.Load(),
		Queue:            b.pending.Stats(),
	}
}

// publishLoop is the only caller of the bus sender, which keeps bus order
// equal to socket order.
func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		env, err := b.pending.Pop(b.ctx)
		if err != nil {
			return
		}
		// Stop gave up waiting
		if b.ctx.Err() != nil {
			b.dropped.Add(int64(b.pending.Len()) + 1)
			return
		}
		b.publish(env)
	}
}

func (b *Bridge) publish(env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		b.publishErrors.Add(1)
		b.logger.Error("failed to encode frame", "op", env.Op, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.PublishTimeout)
	defer cancel()

	if err := b.sender.Send(ctx, body); err != nil {
		b.publishErrors.Add(1)
		b.logger.Error("error occurred while sending message", "op", env.Op, "error", err)
		return
	}
	b.published.Add(1)
}
