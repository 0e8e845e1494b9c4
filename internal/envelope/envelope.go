// Package envelope defines the JSON message envelope exchanged with
// connected clients. Outbound messages carry a "type" discriminator and a
// server timestamp expressed as floating-point seconds since the epoch;
// type-specific fields ride alongside.
package envelope

import "time"

// Outbound message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypePong                  = "pong"
	TypeStatusResponse        = "status_response"
	TypeSubscriptionConfirmed = "subscription_confirmed"
	TypeMessageReceived       = "message_received"
	TypeHeartbeat             = "heartbeat"
	TypeBroadcast             = "broadcast"
	TypeAdminBroadcast        = "admin_broadcast"
	TypeSystemUpdate          = "system_update"
	TypePluginUpdate          = "plugin_update"
	TypeAnalysisProgress      = "analysis_progress"
)

// Inbound message types recognized by the dispatch loop. Anything else is
// echoed back as message_received.
const (
	InboundPing      = "ping"
	InboundGetStatus = "get_status"
	InboundSubscribe = "subscribe"
)

// Payload is a single outbound or inbound message body. Enrichment (client
// id, server timestamp, connection count) mutates a copy, never the
// caller's map.
type Payload map[string]any

// Clone returns a shallow copy of the payload. Routers enrich the copy so
// a payload broadcast to many connections stays stable for the caller.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p)+3)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Type returns the "type" field, or "" when absent or not a string.
func (p Payload) Type() string {
	t, _ := p["type"].(string)
	return t
}

// Timestamp converts a wall-clock instant to the wire representation:
// seconds since the epoch as a float.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// ConnectionEstablished is the welcome message sent after a successful
// registration.
func ConnectionEstablished(clientID string, heartbeatInterval time.Duration, now time.Time) Payload {
	return Payload{
		"type":               TypeConnectionEstablished,
		"client_id":          clientID,
		"heartbeat_interval": heartbeatInterval.Seconds(),
		"timestamp":          Timestamp(now),
	}
}

// Pong replies to an inbound ping, echoing the client's original timestamp.
func Pong(originalTimestamp float64, now time.Time) Payload {
	return Payload{
		"type":               TypePong,
		"original_timestamp": originalTimestamp,
		"response_timestamp": Timestamp(now),
	}
}

// StatusResponse replies to get_status with the current stats snapshot.
func StatusResponse(connectionStats any) Payload {
	return Payload{
		"type":             TypeStatusResponse,
		"system_status":    "operational",
		"connection_stats": connectionStats,
	}
}

// SubscriptionConfirmed acknowledges a subscribe request.
func SubscriptionConfirmed(subscription string) Payload {
	return Payload{
		"type":         TypeSubscriptionConfirmed,
		"subscription": subscription,
	}
}

// MessageReceived echoes an unrecognized inbound message back to its sender.
func MessageReceived(original map[string]any, now time.Time) Payload {
	return Payload{
		"type":             TypeMessageReceived,
		"original_message": original,
		"processed_at":     Timestamp(now),
	}
}

// Heartbeat is the periodic liveness payload handed to the broadcast path.
func Heartbeat(interval time.Duration, activeConnections int, now time.Time) Payload {
	return Payload{
		"type":               TypeHeartbeat,
		"heartbeat_interval": interval.Seconds(),
		"server_time":        Timestamp(now),
		"active_connections": activeConnections,
	}
}

// AdminBroadcast wraps an arbitrary administrative payload for fan-out.
func AdminBroadcast(content any, now time.Time) Payload {
	return Payload{
		"type":           TypeAdminBroadcast,
		"content":        content,
		"broadcast_time": Timestamp(now),
	}
}

// SystemUpdate notifies all clients of a system-level change.
func SystemUpdate(updateType string, data map[string]any, now time.Time) Payload {
	if data == nil {
		data = map[string]any{}
	}
	return Payload{
		"type":        TypeSystemUpdate,
		"update_type": updateType,
		"data":        data,
		"timestamp":   Timestamp(now),
	}
}

// PluginUpdate notifies all clients of a plugin status change.
func PluginUpdate(pluginName, status string, data map[string]any, now time.Time) Payload {
	if data == nil {
		data = map[string]any{}
	}
	return Payload{
		"type":        TypePluginUpdate,
		"plugin_name": pluginName,
		"status":      status,
		"data":        data,
		"timestamp":   Timestamp(now),
	}
}

// AnalysisProgress streams progress of a long-running analysis to all
// clients.
func AnalysisProgress(analysisID string, progress float64, details map[string]any, now time.Time) Payload {
	if details == nil {
		details = map[string]any{}
	}
	return Payload{
		"type":        TypeAnalysisProgress,
		"analysis_id": analysisID,
		"progress":    progress,
		"details":     details,
		"timestamp":   Timestamp(now),
	}
}
