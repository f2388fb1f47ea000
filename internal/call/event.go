package call

import "github.com/1ureka/mentorcall/internal/protocol"

// EventKind classifies a session Event.
type EventKind int

const (
	EventState       EventKind = iota // State changed
	EventTick                         // TimeLeft changed
	EventChat                         // Message received from the peer
	EventWarning                      // Text is a user-facing warning
	EventRemoteTrack                  // Text names the remote track kind
)

// Event is a notification for the user interface.
type Event struct {
	Kind     EventKind
	State    State
	TimeLeft int
	Message  protocol.ChatMessage
	Text     string
}
