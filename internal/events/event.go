// Package events fans out task events to live observer connections.
package events

// Event names pushed on the live channel.
const (
	TypeSnapshot  = "snapshot"
	TypeProgress  = "progress"
	TypeCompleted = "completed"
	TypeFailed    = "failed"
	TypeCancelled = "cancelled"
	TypePing      = "ping"
)

// Event is one JSON message on the live channel.
type Event struct {
	Event  string `json:"event"`
	Task   any    `json:"task,omitempty"`
	Tasks  any    `json:"tasks,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Snapshot builds the initial message sent on connect. tasks should be a
// non-nil slice so it encodes as [] when empty.
func Snapshot(tasks any) Event {
	return Event{Event: TypeSnapshot, Tasks: tasks}
}

func Ping() Event {
	return Event{Event: TypePing}
}
