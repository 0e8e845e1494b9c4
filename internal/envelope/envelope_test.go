package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimestamp(t *testing.T) {
	assert.Equal(t, 1.7e9, Timestamp(time.Unix(1_700_000_000, 0)))
	assert.Equal(t, 1_700_000_000.25, Timestamp(time.Unix(1_700_000_000, 250_000_000)),
		"sub-second precision survives the conversion")
}

func TestPayload_CloneIsolation(t *testing.T) {
	p := Payload{"type": "heartbeat", "n": 1}
	c := p.Clone()
	c["client_id"] = "c1"
	c["n"] = 2

	assert.NotContains(t, p, "client_id")
	assert.Equal(t, 1, p["n"])
}

func TestPayload_Type(t *testing.T) {
	assert.Equal(t, "ping", Payload{"type": "ping"}.Type())
	assert.Empty(t, Payload{}.Type())
	assert.Empty(t, Payload{"type": 7}.Type())
}

func TestPong_EchoesOriginal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := Pong(123.456, now)
	assert.Equal(t, "pong", p.Type())
	assert.Equal(t, 123.456, p["original_timestamp"])
	assert.Equal(t, Timestamp(now), p["response_timestamp"])
}

func TestNilDataDefaultsToEmpty(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, map[string]any{}, SystemUpdate("restart", nil, now)["data"])
	assert.Equal(t, map[string]any{}, PluginUpdate("p", "enabled", nil, now)["data"])
	assert.Equal(t, map[string]any{}, AnalysisProgress("a", 0.5, nil, now)["details"])
}
