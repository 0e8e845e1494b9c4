// Package stats computes aggregate health metrics from a registry snapshot.
// Compute is a pure function: it never mutates a connection and never fails
// because of per-connection errors elsewhere.
package stats

import (
	"time"

	"wsrelay/internal/envelope"
	"wsrelay/internal/registry"
)

// Config carries the configured parameters echoed into the snapshot.
type Config struct {
	MaxConnections    int
	QualityCap        float64
	HeartbeatInterval time.Duration
}

// Stats is the aggregate health view exposed by get_status and the admin
// stats endpoint.
type Stats struct {
	ActiveConnections     int     `json:"active_connections"`
	MaxConnections        int     `json:"max_connections"`
	TotalMessagesSent     int64   `json:"total_messages_sent"`
	AverageConnectionTime float64 `json:"average_connection_time"`
	AverageQualityScore   float64 `json:"average_quality_score"`
	OptimizationFactor    float64 `json:"optimization_factor"`
	HeartbeatInterval     float64 `json:"heartbeat_interval"`
	Timestamp             float64 `json:"timestamp"`
}

// Compute aggregates a snapshot taken at instant now.
func Compute(snapshot []registry.Metrics, cfg Config, now time.Time) Stats {
	s := Stats{
		ActiveConnections: len(snapshot),
		MaxConnections:    cfg.MaxConnections,
		HeartbeatInterval: cfg.HeartbeatInterval.Seconds(),
		Timestamp:         envelope.Timestamp(now),
	}

	if len(snapshot) == 0 {
		return s
	}

	var totalAge, totalQuality float64
	for _, m := range snapshot {
		s.TotalMessagesSent += m.MessageCount
		totalAge += now.Sub(m.ConnectedAt).Seconds()
		totalQuality += m.QualityScore
	}

	n := float64(len(snapshot))
	s.AverageConnectionTime = totalAge / n
	s.AverageQualityScore = totalQuality / n
	if cfg.QualityCap > 0 {
		s.OptimizationFactor = s.AverageQualityScore / cfg.QualityCap
	}
	return s
}
