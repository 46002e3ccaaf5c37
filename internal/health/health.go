// Package health serves the relay's probes: plain-text liveness and
// readiness for orchestrators, a JSON component report, and the standard
// gRPC health service.
package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthonian/aura-gateway/internal/bridge"
	"github.com/anthonian/aura-gateway/internal/bus"
	"github.com/anthonian/aura-gateway/internal/gateway"
)

// Gateway is the connection view the probes report on.
type Gateway interface {
	Connected() bool
	Status() gateway.Status
	Restart()
}

// Option configures the HTTP handler.
type Option func(*handler)

// WithBridge adds bridge counters to the /health report.
func WithBridge(b interface{ Stats() bridge.Stats }) Option {
	return func(h *handler) { h.bridge = b }
}

// WithBus adds bus counters to the /health report.
func WithBus(b interface{ Stats() bus.Stats }) Option {
	return func(h *handler) { h.bus = b }
}

// WithBreaker adds the bus circuit breaker state to the /health report.
func WithBreaker(state func() string) Option {
	return func(h *handler) { h.breaker = state }
}

type handler struct {
	gw      Gateway
	logger  *slog.Logger
	bridge  interface{ Stats() bridge.Stats }
	bus     interface{ Stats() bus.Stats }
	breaker func() string
}

// NewHandler creates the HTTP handler for health checks.
func NewHandler(gw Gateway, logger *slog.Logger, opts ...Option) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{gw: gw, logger: logger}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /liveness", h.liveness)
	mux.HandleFunc("GET /readiness", h.readiness)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /restart", h.restart)
	return mux
}

func (h *handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *handler) readiness(w http.ResponseWriter, r *http.Request) {
	if !h.gw.Connected() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type gatewayReport struct {
	State          string     `json:"state"`
	Connected      bool       `json:"connected"`
	SessionID      string     `json:"session_id,omitempty"`
	Sequence       *int64     `json:"sequence"`
	Resumable      bool       `json:"resumable"`
	Attempts       int        `json:"attempts"`
	FramesReceived int64      `json:"frames_received"`
	FramesDropped  int64      `json:"frames_dropped"`
	Heartbeats     int64      `json:"heartbeats"`
	HeartbeatAcks  int64      `json:"heartbeat_acks"`
	Reconnects     int64      `json:"reconnects"`
	LastFrameAt    *time.Time `json:"last_frame_at,omitempty"`
}

// Status derives the overall status from the gateway state: healthy while
// connected, unhealthy once the connection has given up, degraded otherwise.
func Status(st gateway.Status) string {
	switch {
	case st.State == gateway.StateFailed:
		return "unhealthy"
	case st.Connected && st.State == gateway.StateConnected:
		return "healthy"
	default:
		return "degraded"
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	st := h.gw.Status()

	gw := gatewayReport{
		State:          st.State.String(),
		Connected:      st.Connected,
		SessionID:      st.SessionID,
		Sequence:       st.Sequence,
		Resumable:      st.Resumable,
		Attempts:       st.Attempts,
		FramesReceived: st.FramesReceived,
		FramesDropped:  st.FramesDropped,
		Heartbeats:     st.Heartbeats,
		HeartbeatAcks:  st.HeartbeatAcks,
		Reconnects:     st.Reconnects,
	}
	if !st.LastFrameAt.IsZero() {
		t := st.LastFrameAt
		gw.LastFrameAt = &t
	}

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     Status(st),
		Components: map[string]any{"gateway": gw},
	}

	if h.bridge != nil {
		s := h.bridge.Stats()
		health.Components["bridge"] = map[string]any{
			"frames_queued":     s.FramesQueued,
			"frames_published":  s.FramesPublished,
			"frames_dropped":    s.FramesDropped,
			"publish_errors":    s.PublishErrors,
			"commands_received": s.CommandsReceived,
			"commands_sent":     s.CommandsSent,
			"commands_rejected": s.CommandsRejected,
			"queue_len":         s.Queue.Len,
			"queue_capacity":    s.Queue.Capacity,
		}
	}

	if h.bus != nil {
		s := h.bus.Stats()
		report := map[string]any{
			"sent":          s.Sent,
			"send_errors":   s.SendErrors,
			"received":      s.Received,
			"completed":     s.Completed,
			"abandoned":     s.Abandoned,
			"dead_lettered": s.DeadLettered,
			"settle_errors": s.SettleErrors,
		}
		if h.breaker != nil {
			report["breaker"] = h.breaker()
		}
		health.Components["bus"] = report
	}

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(health); err != nil {
		h.logger.Debug("write health response", "error", err)
	}
}

// restart asks a Failed connection to identify again.
func (h *handler) restart(w http.ResponseWriter, r *http.Request) {
	st := h.gw.Status()
	if st.State != gateway.StateFailed {
		http.Error(w, "gateway is "+st.State.String(), http.StatusConflict)
		return
	}

	h.logger.Info("manual gateway restart requested", "remote", r.RemoteAddr)
	h.gw.Restart()
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("Restarting"))
}
