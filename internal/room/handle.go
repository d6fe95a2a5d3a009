package room

// Outbound event names delivered to handles.
const (
	EventCodeChange          = "codeChange"
	EventParticipantJoined   = "participantJoined"
	EventParticipantKicked   = "participantKicked"
	EventCurrentParticipants = "currentParticipants"
	EventSessionLocked       = "sessionLocked"
	EventSessionUnlocked     = "sessionUnlocked"
	EventTypingIndicator     = "typingIndicator"
	EventCodeOutput          = "codeOutput"
	EventError               = "error"
)

// Event is a named payload pushed to a connected participant.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Handle is one connected participant's outbound channel.
//
// Send must not block: a room calls it from its actor goroutine, so a slow
// consumer has to buffer or drop rather than stall the room.
type Handle interface {
	ID() string
	Send(Event)
}
