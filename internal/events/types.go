// Package events provides event types and utilities for the hub event system.
package events

// Event types for client lifecycle
const (
	ClientRegistered   = "client.registered"
	ClientEvicted      = "client.evicted"
	ClientDisconnected = "client.disconnected"
)

// Event types for sessions
const (
	SessionStarted   = "session.started"
	SessionCompleted = "session.completed"
	SessionFailed    = "session.failed"
	SessionCancelled = "session.cancelled"
)

// Event types for tasks
const (
	TaskDispatched     = "task.dispatched"
	TaskResultRecorded = "task.result.recorded"
)

// BuildSessionSubject creates a per-session subject for a session event type
func BuildSessionSubject(eventType, sessionID string) string {
	return eventType + "." + sessionID
}

// SessionWildcardSubject returns a subscription subject matching all session events
func SessionWildcardSubject() string {
	return "session.>"
}

// BuildTaskSubject creates a per-session subject for a task event type
func BuildTaskSubject(eventType, sessionID string) string {
	return eventType + "." + sessionID
}

// TaskWildcardSubject returns a subscription subject matching all task events
func TaskWildcardSubject() string {
	return "task.>"
}

// BuildClientSubject creates a per-client subject for a client event type
func BuildClientSubject(eventType, clientID string) string {
	return eventType + "." + clientID
}

// ClientWildcardSubject returns a subscription subject matching all client events
func ClientWildcardSubject() string {
	return "client.>"
}
