package router

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsrelay/internal/envelope"
	"wsrelay/internal/registry"
	"wsrelay/internal/transport"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    []map[string]any
	sendErr error
}

func (f *fakeChannel) SendJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, map[string]any(v.(envelope.Payload)))
	return nil
}

func (f *fakeChannel) ReceiveJSON(v any) error         { return transport.ErrChannelClosed }
func (f *fakeChannel) Close(code int, reason string) error { return nil }

func (f *fakeChannel) last(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestPair(t *testing.T) (*registry.Registry, *Router, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	reg := registry.New(registry.Options{
		MaxConnections: 100,
		Quality:        registry.QualityParams{Baseline: 0.618, Cap: 1.618, Gain: 0.1},
		Clock:          mock,
		Logger:         zerolog.Nop(),
	})
	return reg, New(reg, mock, zerolog.Nop()), mock
}

func TestRouter_SendToEnrichment(t *testing.T) {
	reg, r, mock := newTestPair(t)
	ch := &fakeChannel{}
	_, err := reg.Register("c1", ch)
	require.NoError(t, err)

	payload := envelope.Payload{"type": "greeting", "text": "hello"}
	require.NoError(t, r.SendTo("c1", payload))

	got := ch.last(t)
	assert.Equal(t, "greeting", got["type"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "c1", got["client_id"])
	assert.Equal(t, envelope.Timestamp(mock.Now()), got["server_timestamp"])

	// Enrichment never leaks back into the caller's payload.
	assert.NotContains(t, payload, "client_id")
	assert.NotContains(t, payload, "server_timestamp")
}

func TestRouter_SendToNotFound(t *testing.T) {
	_, r, _ := newTestPair(t)
	err := r.SendTo("ghost", envelope.Payload{"type": "x"})
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRouter_SendToTransportFailure(t *testing.T) {
	reg, r, _ := newTestPair(t)
	boom := errors.New("broken pipe")
	_, err := reg.Register("c1", &fakeChannel{sendErr: boom})
	require.NoError(t, err)

	err = r.SendTo("c1", envelope.Payload{"type": "x"})

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "c1", terr.ClientID)
	assert.ErrorIs(t, err, boom)

	_, err = reg.Lookup("c1")
	assert.ErrorIs(t, err, registry.ErrNotFound, "failing connection is unregistered")
}

func TestRouter_SendToRecordsDelivery(t *testing.T) {
	reg, r, _ := newTestPair(t)
	ch := &fakeChannel{}
	conn, err := reg.Register("c1", ch)
	require.NoError(t, err)

	require.NoError(t, r.SendTo("c1", envelope.Payload{"type": "x"}))
	require.NoError(t, r.SendTo("c1", envelope.Payload{"type": "x"}))

	m := conn.Metrics()
	assert.Equal(t, int64(2), m.MessageCount)
	assert.Greater(t, m.QualityScore, 0.618)
}

func TestRouter_BroadcastEnrichment(t *testing.T) {
	reg, r, mock := newTestPair(t)
	chans := make([]*fakeChannel, 3)
	for i, id := range []string{"c1", "c2", "c3"} {
		chans[i] = &fakeChannel{}
		_, err := reg.Register(id, chans[i])
		require.NoError(t, err)
	}

	res := r.Broadcast(envelope.Payload{"type": "plugin_update", "plugin": "analyzer"})
	assert.Equal(t, 3, res.Recipients)
	assert.Empty(t, res.Failed)

	for _, ch := range chans {
		got := ch.last(t)
		assert.Equal(t, "broadcast", got["type"], "broadcast overrides the payload type")
		assert.Equal(t, "analyzer", got["plugin"])
		assert.Equal(t, 3, got["connection_count"])
		assert.Equal(t, envelope.Timestamp(mock.Now()), got["server_timestamp"])
	}
}

func TestRouter_BroadcastEmptyRegistry(t *testing.T) {
	_, r, _ := newTestPair(t)
	res := r.Broadcast(envelope.Payload{"type": "x"})
	assert.Equal(t, Result{}, res)
}

func TestRouter_BroadcastExclude(t *testing.T) {
	reg, r, _ := newTestPair(t)
	ch1, ch2 := &fakeChannel{}, &fakeChannel{}
	_, err := reg.Register("c1", ch1)
	require.NoError(t, err)
	_, err = reg.Register("c2", ch2)
	require.NoError(t, err)

	res := r.Broadcast(envelope.Payload{"type": "x"}, WithExclude("c1"))
	assert.Equal(t, 1, res.Recipients)
	assert.Zero(t, ch1.count())
	assert.Equal(t, 1, ch2.count())
}

func TestRouter_BroadcastFailureIsolation(t *testing.T) {
	reg, r, _ := newTestPair(t)
	good1 := &fakeChannel{}
	bad := &fakeChannel{sendErr: errors.New("reset by peer")}
	good2 := &fakeChannel{}
	_, err := reg.Register("c1", good1)
	require.NoError(t, err)
	_, err = reg.Register("c2", bad)
	require.NoError(t, err)
	_, err = reg.Register("c3", good2)
	require.NoError(t, err)

	res := r.Broadcast(envelope.Payload{"type": "heartbeat"})

	assert.Equal(t, 2, res.Recipients, "siblings still receive the message")
	assert.Equal(t, []string{"c2"}, res.Failed)

	// Count reflects the snapshot, not the survivors.
	assert.Equal(t, 3, good1.last(t)["connection_count"])
	assert.Equal(t, 3, good2.last(t)["connection_count"])

	_, err = reg.Lookup("c2")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Equal(t, 2, reg.Len())
}
