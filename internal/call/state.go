package call

// State is the call session's lifecycle state.
type State int32

const (
	StateConnecting   State = iota // acquiring media, dialing the relay
	StateNegotiating                // rooms joined, offer/answer in flight
	StateConnected                  // media flowing, countdown running
	StateDisconnected               // connectivity lost, recovery in progress
	StateFailed                     // terminal: setup failed or recovery exhausted
	StateEnded                      // terminal: timeout or hangup
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateFailed || s == StateEnded }
