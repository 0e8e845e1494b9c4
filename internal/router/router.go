// Package router delivers enriched payloads to one connection or fans them
// out to all, isolating per-connection failures from siblings.
package router

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"wsrelay/internal/envelope"
	"wsrelay/internal/monitoring"
	"wsrelay/internal/registry"
)

// TransportError wraps a send or receive failure on a specific connection's
// channel. The fault is isolated to that connection: the router unregisters
// it and siblings are unaffected.
type TransportError struct {
	ClientID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("router: transport failure for %s: %v", e.ClientID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Router routes messages through the registry.
type Router struct {
	reg    *registry.Registry
	clk    clock.Clock
	logger zerolog.Logger
}

// New creates a router over the given registry.
func New(reg *registry.Registry, clk clock.Clock, logger zerolog.Logger) *Router {
	if clk == nil {
		clk = clock.New()
	}
	return &Router{
		reg:    reg,
		clk:    clk,
		logger: logger.With().Str("component", "router").Logger(),
	}
}

// SendTo delivers payload to a single connection, enriched with the
// recipient id and a server timestamp. A missing id returns
// registry.ErrNotFound (logged, non-fatal). A transport failure unregisters
// the connection and returns a *TransportError.
func (r *Router) SendTo(id string, payload envelope.Payload) error {
	conn, err := r.reg.Lookup(id)
	if err != nil {
		r.logger.Warn().
			Str("client_id", id).
			Msg("Send to non-existent client")
		return err
	}

	msg := payload.Clone()
	msg["client_id"] = id
	msg["server_timestamp"] = envelope.Timestamp(r.clk.Now())

	if err := conn.Send(msg); err != nil {
		monitoring.SendFailures.Inc()
		r.logger.Error().
			Err(err).
			Str("client_id", id).
			Msg("Send failed, dropping connection")
		r.reg.Unregister(id)
		return &TransportError{ClientID: id, Err: err}
	}

	conn.RecordSend()
	monitoring.MessagesSent.Inc()
	return nil
}

// Result summarizes a broadcast pass.
type Result struct {
	Recipients int      // connections the message was delivered to
	Failed     []string // ids unregistered after the pass
}

// Option adjusts a broadcast pass.
type Option func(*broadcastOpts)

type broadcastOpts struct {
	exclude string
}

// WithExclude skips one client id during the pass.
func WithExclude(id string) Option {
	return func(o *broadcastOpts) { o.exclude = id }
}

// Broadcast fans payload out to every connection in a registry snapshot,
// enriched with type "broadcast", the connection count at snapshot time and
// a server timestamp. Per-connection failures are isolated; failed ids are
// unregistered only after the full pass so the snapshot stays stable.
func (r *Router) Broadcast(payload envelope.Payload, opts ...Option) Result {
	var o broadcastOpts
	for _, opt := range opts {
		opt(&o)
	}

	snapshot := r.reg.Snapshot()
	if len(snapshot) == 0 {
		return Result{}
	}

	msg := payload.Clone()
	msg["type"] = envelope.TypeBroadcast
	msg["server_timestamp"] = envelope.Timestamp(r.clk.Now())
	msg["connection_count"] = len(snapshot)

	var res Result
	for _, conn := range snapshot {
		if conn.ID() == o.exclude {
			continue
		}
		if err := conn.Send(msg); err != nil {
			monitoring.SendFailures.Inc()
			r.logger.Error().
				Err(err).
				Str("client_id", conn.ID()).
				Msg("Broadcast delivery failed")
			res.Failed = append(res.Failed, conn.ID())
			continue
		}
		conn.RecordSend()
		monitoring.MessagesSent.Inc()
		res.Recipients++
	}

	// Unregister after the pass completes, not during iteration.
	for _, id := range res.Failed {
		r.reg.Unregister(id)
	}

	monitoring.BroadcastsTotal.Inc()
	return res
}
