// Package registry owns the live set of active connections. It is the sole
// authority for add/remove and for starting and stopping the heartbeat
// scheduler on the empty/non-empty boundary.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"wsrelay/internal/monitoring"
	"wsrelay/internal/transport"
)

var (
	// ErrCapacityExceeded rejects a register call at the admission
	// boundary; no Connection is created.
	ErrCapacityExceeded = errors.New("registry: connection limit exceeded")

	// ErrNotFound marks an operation targeting a client id with no live
	// connection. Logged, non-fatal.
	ErrNotFound = errors.New("registry: connection not found")

	// ErrDuplicateID rejects a register call reusing a live client id.
	// An id becomes reusable once unregistered.
	ErrDuplicateID = errors.New("registry: client id already registered")
)

// Hooks are invoked on occupancy transitions, under the registry lock so
// 0->1 and 1->0 signals are strictly ordered. Wired to the heartbeat
// scheduler at composition time; both hooks must be non-blocking.
type Hooks struct {
	OnFirst func() // registry transitioned empty -> non-empty
	OnEmpty func() // registry transitioned non-empty -> empty
}

// Options configures a Registry.
type Options struct {
	MaxConnections int
	Quality        QualityParams
	Clock          clock.Clock
	Logger         zerolog.Logger
	Hooks          Hooks
}

// Registry maps client ids to live connections. All mutation is funneled
// through the internal mutex; Snapshot returns a stable copy for iteration
// under concurrent register/unregister.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection
	next  uint64

	max     int
	quality QualityParams
	clk     clock.Clock
	logger  zerolog.Logger
	hooks   Hooks
}

// New creates an empty registry.
func New(opts Options) *Registry {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		conns:   make(map[string]*Connection),
		max:     opts.MaxConnections,
		quality: opts.Quality,
		clk:     clk,
		logger:  opts.Logger.With().Str("component", "registry").Logger(),
		hooks:   opts.Hooks,
	}
}

// Register admits a new connection. It fails with ErrCapacityExceeded when
// the registry is full and ErrDuplicateID when the id is already live; the
// caller decides how to dispose of the rejected channel. Registering the
// first connection signals the heartbeat scheduler to start.
func (r *Registry) Register(id string, ch transport.Channel) (*Connection, error) {
	r.mu.Lock()

	if len(r.conns) >= r.max {
		r.mu.Unlock()
		monitoring.ConnectionsRejected.WithLabelValues(monitoring.RejectReasonCapacity).Inc()
		r.logger.Warn().
			Str("client_id", id).
			Int("max_connections", r.max).
			Msg("Connection limit exceeded")
		return nil, ErrCapacityExceeded
	}
	if _, exists := r.conns[id]; exists {
		r.mu.Unlock()
		r.logger.Warn().
			Str("client_id", id).
			Msg("Duplicate client id rejected")
		return nil, ErrDuplicateID
	}

	r.next++
	conn := newConnection(id, ch, r.clk, r.next, r.quality)
	r.conns[id] = conn
	total := len(r.conns)

	if total == 1 && r.hooks.OnFirst != nil {
		r.hooks.OnFirst()
	}
	// Gauge writes stay inside the critical section so racing
	// register/unregister calls cannot apply them out of order.
	monitoring.ConnectionsActive.Set(float64(total))
	r.mu.Unlock()

	monitoring.ConnectionsTotal.Inc()
	r.logger.Info().
		Str("client_id", id).
		Int("total", total).
		Msg("Connection registered")
	return conn, nil
}

// Unregister removes a connection and closes its channel. Idempotent: a
// second call for an absent id is a no-op. Removing the last connection
// signals the heartbeat scheduler to stop.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)
	remaining := len(r.conns)

	if remaining == 0 && r.hooks.OnEmpty != nil {
		r.hooks.OnEmpty()
	}
	monitoring.ConnectionsActive.Set(float64(remaining))
	r.mu.Unlock()

	conn.closeChannel(transport.CloseNormal, "")
	age := r.clk.Now().Sub(conn.Metrics().ConnectedAt)
	r.logger.Info().
		Str("client_id", id).
		Dur("connected_for", age).
		Int("remaining", remaining).
		Msg("Connection unregistered")
}

// Lookup returns the live connection for id, or ErrNotFound.
func (r *Registry) Lookup(id string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conn, nil
}

// Snapshot returns a point-in-time copy of the live set, ordered by
// registration sequence. Safe to iterate while register/unregister proceed
// concurrently.
func (r *Registry) Snapshot() []*Connection {
	r.mu.Lock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the current number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Cap returns the configured connection limit.
func (r *Registry) Cap() int { return r.max }
