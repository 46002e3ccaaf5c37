package gateway

// Decision is the outcome of a ReconnectPolicy evaluation.
type Decision int

const (
	// Reconnect means a new connection should be started.
	Reconnect Decision = iota
	// GiveUp means the resumable path is exhausted; the connection is Failed.
	GiveUp
)

func (d Decision) String() string {
	if d == GiveUp {
		return "give_up"
	}
	return "reconnect"
}

// ReconnectPolicy bounds reconnection attempts on the resumable path.
//
// Fresh (non-resumable) reconnects are never counted and never refused;
// only attempts to resume a session consume the budget.
type ReconnectPolicy struct {
	MaxAttempts int
	attempts    int
}

// NewReconnectPolicy creates a policy allowing maxAttempts resume attempts.
func NewReconnectPolicy(maxAttempts int) *ReconnectPolicy {
	return &ReconnectPolicy{MaxAttempts: maxAttempts}
}

// Decide is called on every socket closure. On GiveUp the counter has
// already been reset so that a manual restart starts from zero.
func (p *ReconnectPolicy) Decide(resumable bool) Decision {
	if !resumable {
		return Reconnect
	}

	p.attempts++
	if p.attempts > p.MaxAttempts {
		p.attempts = 0
		return GiveUp
	}
	return Reconnect
}

// Reset zeroes the counter after a successful handshake.
func (p *ReconnectPolicy) Reset() {
	p.attempts = 0
}

// Attempts returns the number of resume attempts since the last reset.
func (p *ReconnectPolicy) Attempts() int {
	return p.attempts
}
