// Package feed bridges the message bus to the hub's broadcast wrappers.
// Other parts of the system publish typed update events to NATS; the feed
// subscribes and fans them out to connected clients.
package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects consumed from the bus.
const (
	SubjectSystemUpdate     = "relay.system.update"
	SubjectPluginUpdate     = "relay.plugin.update"
	SubjectAnalysisProgress = "relay.analysis.progress"
)

// Sink receives decoded update events. Satisfied by *hub.Hub.
type Sink interface {
	SendSystemUpdate(updateType string, data map[string]any)
	SendPluginUpdate(pluginName, status string, data map[string]any)
	SendAnalysisProgress(analysisID string, progress float64, details map[string]any)
}

// Feed is a NATS subscriber delivering bus events into a Sink.
type Feed struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	sink   Sink
	logger zerolog.Logger
}

type systemUpdateEvent struct {
	UpdateType string         `json:"update_type"`
	Data       map[string]any `json:"data"`
}

type pluginUpdateEvent struct {
	PluginName string         `json:"plugin_name"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data"`
}

type analysisProgressEvent struct {
	AnalysisID string         `json:"analysis_id"`
	Progress   float64        `json:"progress"`
	Details    map[string]any `json:"details"`
}

// Connect dials NATS and subscribes to the update subjects.
func Connect(url string, sink Sink, logger zerolog.Logger) (*Feed, error) {
	f := &Feed{
		sink:   sink,
		logger: logger.With().Str("component", "feed").Logger(),
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				f.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			f.logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("feed: connect to NATS: %w", err)
	}
	f.conn = conn

	if err := f.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}

	f.logger.Info().Str("url", url).Msg("Update feed connected")
	return f, nil
}

func (f *Feed) subscribe() error {
	for subject, handler := range map[string]nats.MsgHandler{
		SubjectSystemUpdate:     f.handleSystemUpdate,
		SubjectPluginUpdate:     f.handlePluginUpdate,
		SubjectAnalysisProgress: f.handleAnalysisProgress,
	} {
		sub, err := f.conn.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("feed: subscribe %s: %w", subject, err)
		}
		f.subs = append(f.subs, sub)
	}
	return nil
}

func (f *Feed) handleSystemUpdate(msg *nats.Msg) {
	var ev systemUpdateEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		f.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Malformed system update dropped")
		return
	}
	f.sink.SendSystemUpdate(ev.UpdateType, ev.Data)
}

func (f *Feed) handlePluginUpdate(msg *nats.Msg) {
	var ev pluginUpdateEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		f.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Malformed plugin update dropped")
		return
	}
	f.sink.SendPluginUpdate(ev.PluginName, ev.Status, ev.Data)
}

func (f *Feed) handleAnalysisProgress(msg *nats.Msg) {
	var ev analysisProgressEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		f.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Malformed analysis progress dropped")
		return
	}
	f.sink.SendAnalysisProgress(ev.AnalysisID, ev.Progress, ev.Details)
}

// Stop unsubscribes and closes the NATS connection.
func (f *Feed) Stop() {
	for _, sub := range f.subs {
		sub.Unsubscribe()
	}
	if f.conn != nil {
		f.conn.Close()
	}
	f.logger.Info().Msg("Update feed stopped")
}
