package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Publisher receives every decoded inbound frame. Publish must not block.
type Publisher interface {
	Publish(frame Frame)
}

// Dialer creates the transport for one connection attempt.
type Dialer func(cfg ClientConfig, logger *slog.Logger) Client

// Option configures a Conn.
type Option func(*Conn)

// WithDialer replaces the WebSocket transport factory.
func WithDialer(d Dialer) Option {
	return func(c *Conn) { c.dial = d }
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventClosed
)

// event is a socket event tagged with the connection generation it belongs to.
type event struct {
	kind eventKind
	gen  uint64
	data []byte
	err  error
}

// Conn is the gateway connection state machine.
//
// Socket events, heartbeat ticks and restarts are serialized onto the Run
// goroutine, which is the only writer of the session and reconnect state.
// Other goroutines see read-only projections through Connected, State and
// Status, and may write bus-originated frames with SendCommand.
type Conn struct {
	cfg       Config
	logger    *slog.Logger
	publisher Publisher
	dial      Dialer
	limiter   *rate.Limiter

	events  chan event
	beats   chan struct{}
	restart chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine.
	session   Session
	policy    *ReconnectPolicy
	heartbeat *HeartbeatScheduler
	gen       uint64
	stopPump  chan struct{}
	redial    <-chan time.Time
	lastFrame time.Time

	clientMu sync.RWMutex
	client   Client

	state     atomic.Int32
	connected atomic.Bool

	statusMu sync.RWMutex
	status   Status

	framesReceived atomic.Int64
	framesDropped  atomic.Int64
	heartbeats     atomic.Int64
	heartbeatAcks  atomic.Int64
	reconnects     atomic.Int64
}

// NewConn creates a gateway connection. Nothing is dialed until Run.
func NewConn(cfg Config, publisher Publisher, logger *slog.Logger, opts ...Option) *Conn {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.CommandRate > 0 && cfg.CommandWindow > 0 {
		limit = rate.Every(cfg.CommandWindow / time.Duration(cfg.CommandRate))
	}
	burst := cfg.CommandBurst
	if burst < 1 {
		burst = 1
	}

	c := &Conn{
		cfg:       cfg,
		logger:    logger,
		publisher: publisher,
		dial:      NewClient,
		limiter:   rate.NewLimiter(limit, burst),
		events:    make(chan event, 64),
		beats:     make(chan struct{}, 1),
		restart:   make(chan struct{}, 1),
		policy:    NewReconnectPolicy(cfg.MaxReconnectAttempts),
	}
	c.heartbeat = NewHeartbeatScheduler(func() {
		select {
		case c.beats <- struct{}{}:
		default:
		}
	})

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects and drives the state machine until ctx is cancelled.
// A Failed connection stays in Run, idle, until Restart is called.
func (c *Conn) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("gateway connection already running")
	}
	defer c.running.Store(false)

	c.start(ctx)
	c.refreshStatus()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil

		case ev := <-c.events:
			if ev.gen != c.gen {
				continue
			}
			switch ev.kind {
			case eventFrame:
				c.onMessage(ev.data)
			case eventClosed:
				c.onError(ev.err)
			}

		case <-c.beats:
			c.sendHeartbeat()

		case <-c.redial:
			c.redial = nil
			c.start(ctx)

		case <-c.restart:
			c.onRestart(ctx)
		}

		c.refreshStatus()
	}
}

// Restart leaves the Failed state and identifies from scratch.
// It is ignored while the connection is not Failed.
func (c *Conn) Restart() {
	select {
	case c.restart <- struct{}{}:
	default:
	}
}

// Connected reports whether the socket is open and the opening handshake completed.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Status returns a snapshot for health reporting.
func (c *Conn) Status() Status {
	c.statusMu.RLock()
	s := c.status
	c.statusMu.RUnlock()

	s.State = c.State()
	s.Connected = c.Connected()
	s.FramesReceived = c.framesReceived.Load()
	s.FramesDropped = c.framesDropped.Load()
	s.Heartbeats = c.heartbeats.Load()
	s.HeartbeatAcks = c.heartbeatAcks.Load()
	s.Reconnects = c.reconnects.Load()
	return s
}

// SendCommand writes a bus-originated frame verbatim to the socket,
// waiting for the outbound command budget.
func (c *Conn) SendCommand(ctx context.Context, data []byte) error {
	if c.State() == StateFailed {
		return ErrFailed
	}

	c.clientMu.RLock()
	cl := c.client
	c.clientMu.RUnlock()

	// Checked before waiting so a dead socket does not spend the budget.
	if cl == nil || !cl.IsConnected() {
		return ErrNotConnected
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for command budget: %w", err)
	}
	return cl.Send(data)
}

// start opens a socket to the resume URL when resumable, else to the base URL.
func (c *Conn) start(ctx context.Context) {
	c.setState(StateConnecting)

	clientCfg := c.cfg.Client
	clientCfg.URL = c.session.Target(c.cfg.URL)

	c.gen++
	gen := c.gen
	cl := c.dial(clientCfg, c.logger)

	c.logger.Info("connecting to gateway",
		"url", clientCfg.URL,
		"resume", c.session.Resumable(),
	)

	if err := cl.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("gateway dial failed", "url", clientCfg.URL, "error", err)
		c.onClose(err)
		return
	}

	c.onOpen(ctx, gen, cl)
}

// onOpen sends Identify or Resume straight away instead of waiting for Hello.
func (c *Conn) onOpen(ctx context.Context, gen uint64, cl Client) {
	c.clientMu.Lock()
	c.client = cl
	c.clientMu.Unlock()

	c.connected.Store(true)
	c.setState(StateAwaitingHello)
	c.logger.Info("connected to gateway")

	c.stopPump = make(chan struct{})
	go c.pump(ctx, gen, cl, c.stopPump)

	var err error
	if c.session.Resumable() {
		c.setState(StateResuming)
		err = c.send(OpResume, ResumeData{
			Token:     c.cfg.Token,
			SessionID: c.session.ID,
			Seq:       c.session.Seq,
		})
	} else {
		c.session.Reset()
		c.setState(StateIdentifying)
		err = c.send(OpIdentify, c.identifyData())
	}

	if err != nil {
		c.logger.Warn("failed to send handshake", "error", err)
		c.onClose(err)
	}
}

func (c *Conn) identifyData() IdentifyData {
	return IdentifyData{
		Token:      c.cfg.Token,
		Intents:    c.cfg.Intents,
		Shard:      c.cfg.Shard,
		Properties: c.cfg.Properties,
		Presence:   c.cfg.Presence,
	}
}

// onMessage decodes one frame, publishes it and applies it to the state machine.
func (c *Conn) onMessage(data []byte) {
	c.framesReceived.Add(1)
	c.lastFrame = time.Now()

	f, err := decodeFrame(data)
	if err != nil {
		c.framesDropped.Add(1)
		c.logger.Warn("dropping frame", "error", err, "size", len(data))
		return
	}

	if c.publisher != nil {
		c.publisher.Publish(f)
	}

	switch f.Op {
	case OpHello:
		c.onHello(f)
	case OpHeartbeatAck:
		c.heartbeatAcks.Add(1)
		c.logger.Debug("heartbeat ack received")
	case OpHeartbeat:
		c.sendHeartbeat()
	case OpInvalidSession:
		c.onInvalidSession(f)
	case OpReconnect:
		c.logger.Info("gateway requested reconnect")
		c.onClose(nil)
	case OpDispatch:
		c.onDispatch(f)
	default:
		c.logger.Debug("ignoring frame", "op", f.Op)
	}
}

func (c *Conn) onHello(f Frame) {
	var hello HelloData
	if err := json.Unmarshal(f.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		c.framesDropped.Add(1)
		c.logger.Warn("dropping hello without heartbeat interval", "error", err, "d", string(f.D))
		return
	}

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	c.heartbeat.Arm(interval)
	c.logger.Debug("heartbeat armed", "interval", interval)
}

func (c *Conn) onInvalidSession(f Frame) {
	var resumable bool
	if err := json.Unmarshal(f.D, &resumable); err != nil {
		c.framesDropped.Add(1)
		c.logger.Warn("dropping invalid session frame", "error", err, "d", string(f.D))
		return
	}

	c.logger.Info("invalid session", "resumable", resumable)
	if !resumable {
		c.session.Invalidate()
	}
	c.onClose(nil)
}

func (c *Conn) onDispatch(f Frame) {
	if f.S != nil && !c.session.Advance(*f.S) {
		c.logger.Warn("ignoring sequence regression",
			"seq", *f.S,
			"current", *c.session.Seq,
			"event", f.T,
		)
	}

	switch f.T {
	case EventReady:
		var ready ReadyData
		if err := json.Unmarshal(f.D, &ready); err != nil {
			c.framesDropped.Add(1)
			c.logger.Warn("dropping malformed READY", "error", err)
			return
		}
		c.session.Establish(ready.SessionID, ready.ResumeGatewayURL)
		c.policy.Reset()
		c.setState(StateConnected)
		c.logger.Info("gateway session ready",
			"session_id", ready.SessionID,
			"resumable", c.session.Resumable(),
		)

	case EventResumed:
		c.policy.Reset()
		c.setState(StateConnected)
		c.logger.Info("gateway session resumed", "session_id", c.session.ID)
	}
}

// onError handles a transport failure by forcing the close path.
func (c *Conn) onError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		c.logger.Info("gateway closed connection", "code", closeErr.Code, "reason", closeErr.Text)
	} else {
		c.logger.Warn("websocket error", "error", err)
	}
	c.onClose(err)
}

// onClose tears the socket down and asks the policy what to do next.
// The heartbeat is cancelled before any reconnect can be scheduled.
func (c *Conn) onClose(cause error) {
	c.heartbeat.Cancel()
	c.drainBeats()
	c.closeSocket()

	c.logger.Info("disconnected from gateway", "cause", cause)

	switch c.policy.Decide(c.session.Resumable()) {
	case GiveUp:
		c.session.Invalidate()
		c.setState(StateFailed)
		c.logger.Error("failed to reconnect",
			"max_attempts", c.policy.MaxAttempts,
		)
	default:
		c.reconnects.Add(1)
		c.setState(StateReconnecting)
		c.redial = time.After(c.cfg.ReconnectDelay)
	}
}

func (c *Conn) onRestart(ctx context.Context) {
	if c.State() != StateFailed {
		c.logger.Debug("restart ignored", "state", c.State())
		return
	}
	c.logger.Info("restarting gateway connection")
	c.policy.Reset()
	c.session.Reset()
	c.start(ctx)
}

func (c *Conn) shutdown() {
	c.heartbeat.Cancel()
	c.drainBeats()
	c.closeSocket()
	c.redial = nil
	c.setState(StateDisconnected)
	c.logger.Info("gateway connection stopped")
}

// closeSocket invalidates the current generation and closes the transport.
func (c *Conn) closeSocket() {
	c.gen++
	if c.stopPump != nil {
		close(c.stopPump)
		c.stopPump = nil
	}

	c.clientMu.Lock()
	cl := c.client
	c.client = nil
	c.clientMu.Unlock()

	c.connected.Store(false)

	if cl != nil {
		if err := cl.Close(); err != nil {
			c.logger.Debug("close websocket", "error", err)
		}
	}
}

func (c *Conn) sendHeartbeat() {
	if err := c.send(OpHeartbeat, c.session.Seq); err != nil {
		c.logger.Warn("failed to send heartbeat", "error", err)
		return
	}
	c.heartbeats.Add(1)
}

func (c *Conn) send(op Opcode, d any) error {
	data, err := json.Marshal(command{Op: op, D: d})
	if err != nil {
		return fmt.Errorf("encode op %d: %w", op, err)
	}

	c.clientMu.RLock()
	cl := c.client
	c.clientMu.RUnlock()

	if cl == nil {
		return ErrNotConnected
	}
	return cl.Send(data)
}

func (c *Conn) drainBeats() {
	select {
	case <-c.beats:
	default:
	}
}

// pump forwards one transport's frames and terminal error onto the event loop.
func (c *Conn) pump(ctx context.Context, gen uint64, cl Client, stop <-chan struct{}) {
	post := func(ev event) bool {
		select {
		case c.events <- ev:
			return true
		case <-stop:
			return false
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case data := <-cl.Messages():
			if !post(event{kind: eventFrame, gen: gen, data: data}) {
				return
			}
		case err := <-cl.Errors():
			// Frames read before the failure still go first.
		drain:
			for {
				select {
				case data := <-cl.Messages():
					if !post(event{kind: eventFrame, gen: gen, data: data}) {
						return
					}
				default:
					break drain
				}
			}
			post(event{kind: eventClosed, gen: gen, err: err})
			return
		}
	}
}

func (c *Conn) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.logger.Debug("gateway state", "from", old, "to", s)
	}
}

func (c *Conn) refreshStatus() {
	var seq *int64
	if c.session.Seq != nil {
		v := *c.session.Seq
		seq = &v
	}

	c.statusMu.Lock()
	c.status.SessionID = c.session.ID
	c.status.Sequence = seq
	c.status.Resumable = c.session.Resumable()
	c.status.Attempts = c.policy.Attempts()
	c.status.LastFrameAt = c.lastFrame
	c.statusMu.Unlock()
}
