package registry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"wsrelay/internal/transport"
)

// State is the lifecycle state of a Connection.
type State int32

const (
	// StateOpen: registered and usable.
	StateOpen State = iota
	// StateClosing: close initiated, channel teardown in flight.
	StateClosing
	// StateClosed: channel confirmed closed. No operations are issued on a
	// closed connection.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// QualityParams bound the per-connection quality score. The score starts at
// Baseline, grows with message frequency scaled by Gain and saturates at Cap.
type QualityParams struct {
	Baseline float64
	Cap      float64
	Gain     float64
}

// Connection is the server-side handle for one active peer. The channel is
// exclusively owned and closed exactly once, at unregistration. Counters and
// the quality score are updated only by the message router on successful
// sends.
type Connection struct {
	id  string
	ch  transport.Channel
	clk clock.Clock
	seq uint64 // registration order, used for snapshot ordering

	quality QualityParams

	mu              sync.Mutex
	state           State
	connectedAt     time.Time
	messageCount    int64
	lastMessageTime time.Time
	qualityScore    float64
}

// Metrics is an immutable view of a connection's counters, safe to hand to
// the stats aggregator.
type Metrics struct {
	ID              string
	State           State
	ConnectedAt     time.Time
	MessageCount    int64
	LastMessageTime time.Time
	QualityScore    float64
}

func newConnection(id string, ch transport.Channel, clk clock.Clock, seq uint64, q QualityParams) *Connection {
	return &Connection{
		id:           id,
		ch:           ch,
		clk:          clk,
		seq:          seq,
		quality:      q,
		state:        StateOpen,
		connectedAt:  clk.Now(),
		qualityScore: q.Baseline,
	}
}

// ID returns the client identifier.
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send delivers v over the connection's channel. The channel serializes
// concurrent sends, so repeated Send calls are delivered in call order.
// Sending on a closed connection returns transport.ErrChannelClosed.
func (c *Connection) Send(v any) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return transport.ErrChannelClosed
	}
	c.mu.Unlock()
	return c.ch.SendJSON(v)
}

// RecordSend updates the message counters and recomputes the quality score
// after a successful delivery. The +1s term avoids a division singularity
// immediately after registration. The score never decreases on a successful
// send and never exceeds the cap.
func (c *Connection) RecordSend() {
	now := c.clk.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messageCount++
	c.lastMessageTime = now

	age := now.Sub(c.connectedAt).Seconds() + 1
	frequency := float64(c.messageCount) / age
	score := c.quality.Baseline + frequency*c.quality.Gain
	if score > c.quality.Cap {
		score = c.quality.Cap
	}
	if score > c.qualityScore {
		c.qualityScore = score
	}
}

// Metrics returns a point-in-time copy of the connection's counters.
func (c *Connection) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		ID:              c.id,
		State:           c.state,
		ConnectedAt:     c.connectedAt,
		MessageCount:    c.messageCount,
		LastMessageTime: c.lastMessageTime,
		QualityScore:    c.qualityScore,
	}
}

// closeChannel drives the OPEN -> CLOSING -> CLOSED transition. Later calls
// are no-ops; the channel is closed exactly once.
func (c *Connection) closeChannel(code int, reason string) {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.mu.Unlock()

	c.ch.Close(code, reason)

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}
