// Package hub composes the registry, router and heartbeat scheduler into
// the call surface the rest of the application consumes: connect, inbound
// dispatch, targeted and broadcast sends, disconnect, and stats.
package hub

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wsrelay/internal/envelope"
	"wsrelay/internal/heartbeat"
	"wsrelay/internal/registry"
	"wsrelay/internal/router"
	"wsrelay/internal/stats"
	"wsrelay/internal/transport"
)

// Options configures a Hub.
type Options struct {
	MaxConnections    int
	HeartbeatInterval time.Duration
	Quality           registry.QualityParams
	Clock             clock.Clock
	Logger            zerolog.Logger
}

// Hub owns the connection manager composition. The registry's occupancy
// hooks drive the heartbeat scheduler, so the loop runs exactly while at
// least one connection is live.
type Hub struct {
	reg       *registry.Registry
	router    *router.Router
	scheduler *heartbeat.Scheduler

	heartbeatInterval time.Duration
	quality           registry.QualityParams
	clk               clock.Clock
	logger            zerolog.Logger
}

// New wires the hub together.
func New(opts Options) *Hub {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	h := &Hub{
		heartbeatInterval: opts.HeartbeatInterval,
		quality:           opts.Quality,
		clk:               clk,
		logger:            opts.Logger.With().Str("component", "hub").Logger(),
	}

	h.scheduler = heartbeat.New(opts.HeartbeatInterval, clk, opts.Logger, h.heartbeatTick)
	h.reg = registry.New(registry.Options{
		MaxConnections: opts.MaxConnections,
		Quality:        opts.Quality,
		Clock:          clk,
		Logger:         opts.Logger,
		Hooks: registry.Hooks{
			OnFirst: h.scheduler.Start,
			OnEmpty: h.scheduler.Stop,
		},
	})
	h.router = router.New(h.reg, clk, opts.Logger)
	return h
}

// Registry exposes the live set for lookups and snapshots.
func (h *Hub) Registry() *registry.Registry { return h.reg }

// Router exposes the message router.
func (h *Hub) Router() *router.Router { return h.router }

// HeartbeatRunning reports whether the liveness loop is active.
func (h *Hub) HeartbeatRunning() bool { return h.scheduler.Running() }

// Connect admits a channel under clientID, generating an id when none is
// supplied. A capacity rejection closes the channel with a policy-violation
// code and creates no connection. On success the welcome message is
// delivered before Connect returns.
func (h *Hub) Connect(ch transport.Channel, clientID string) (*registry.Connection, error) {
	if clientID == "" {
		clientID = fmt.Sprintf("client_%d_%s", h.clk.Now().Unix(), uuid.NewString()[:8])
	}

	conn, err := h.reg.Register(clientID, ch)
	if err != nil {
		if errors.Is(err, registry.ErrCapacityExceeded) {
			ch.Close(transport.ClosePolicyViolation, "connection limit exceeded")
		}
		return nil, err
	}

	welcome := envelope.ConnectionEstablished(clientID, h.heartbeatInterval, h.clk.Now())
	if err := h.router.SendTo(clientID, welcome); err != nil {
		// SendTo already unregistered the connection on transport failure.
		return nil, err
	}
	return conn, nil
}

// Disconnect removes a connection. Idempotent.
func (h *Hub) Disconnect(clientID string) {
	h.reg.Unregister(clientID)
}

// HandleInbound dispatches one client message. Recognized types get a typed
// reply; everything else is echoed back as message_received. The returned
// error reflects the reply delivery only.
func (h *Hub) HandleInbound(clientID string, msg map[string]any) error {
	switch envelope.Payload(msg).Type() {
	case envelope.InboundPing:
		original, ok := msg["timestamp"].(float64)
		if !ok {
			original = envelope.Timestamp(h.clk.Now())
		}
		return h.router.SendTo(clientID, envelope.Pong(original, h.clk.Now()))

	case envelope.InboundGetStatus:
		return h.router.SendTo(clientID, envelope.StatusResponse(h.Stats()))

	case envelope.InboundSubscribe:
		subscription, ok := msg["subscription"].(string)
		if !ok || subscription == "" {
			subscription = "all"
		}
		return h.router.SendTo(clientID, envelope.SubscriptionConfirmed(subscription))

	default:
		return h.router.SendTo(clientID, envelope.MessageReceived(msg, h.clk.Now()))
	}
}

// BroadcastAck is the admin broadcast result returned to the HTTP layer.
type BroadcastAck struct {
	Success    bool    `json:"success"`
	Recipients int     `json:"recipients"`
	Timestamp  float64 `json:"timestamp"`
}

// Broadcast wraps an arbitrary administrative payload as admin_broadcast
// and fans it out to all connections.
func (h *Hub) Broadcast(content any) BroadcastAck {
	res := h.router.Broadcast(envelope.AdminBroadcast(content, h.clk.Now()))
	return BroadcastAck{
		Success:    true,
		Recipients: res.Recipients,
		Timestamp:  envelope.Timestamp(h.clk.Now()),
	}
}

// SendSystemUpdate broadcasts a system-level change notification.
func (h *Hub) SendSystemUpdate(updateType string, data map[string]any) {
	h.router.Broadcast(envelope.SystemUpdate(updateType, data, h.clk.Now()))
}

// SendPluginUpdate broadcasts a plugin status change.
func (h *Hub) SendPluginUpdate(pluginName, status string, data map[string]any) {
	h.router.Broadcast(envelope.PluginUpdate(pluginName, status, data, h.clk.Now()))
}

// SendAnalysisProgress broadcasts progress of a long-running analysis.
func (h *Hub) SendAnalysisProgress(analysisID string, progress float64, details map[string]any) {
	h.router.Broadcast(envelope.AnalysisProgress(analysisID, progress, details, h.clk.Now()))
}

// Stats aggregates the current registry snapshot.
func (h *Hub) Stats() stats.Stats {
	snapshot := h.reg.Snapshot()
	metrics := make([]registry.Metrics, 0, len(snapshot))
	for _, c := range snapshot {
		metrics = append(metrics, c.Metrics())
	}
	return stats.Compute(metrics, stats.Config{
		MaxConnections:    h.reg.Cap(),
		QualityCap:        h.quality.Cap,
		HeartbeatInterval: h.heartbeatInterval,
	}, h.clk.Now())
}

// Shutdown stops the heartbeat loop and closes every live connection.
func (h *Hub) Shutdown() {
	for _, conn := range h.reg.Snapshot() {
		h.reg.Unregister(conn.ID())
	}
	// The empty-registry hook already stopped the scheduler; Stop again is
	// a no-op, and Wait covers the race where the last tick is in flight.
	h.scheduler.Stop()
	h.scheduler.Wait()
}

func (h *Hub) heartbeatTick() error {
	payload := envelope.Heartbeat(h.heartbeatInterval, h.reg.Len(), h.clk.Now())
	res := h.router.Broadcast(payload)
	if len(res.Failed) > 0 {
		return fmt.Errorf("heartbeat: %d of %d deliveries failed",
			len(res.Failed), res.Recipients+len(res.Failed))
	}
	return nil
}
