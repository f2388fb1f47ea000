package signaling

import "github.com/1ureka/mentorcall/internal/protocol"

// Accept decides whether an inbound envelope reaches the handlers.
//
// The call room is shared by both participants and the relay echoes every
// message back to its sender, so call-scoped events must carry the active
// call id and must not come from self. Room acknowledgements and relay errors
// are not call-scoped and always pass.
func Accept(env *protocol.Envelope, callID, self protocol.ID) bool {
	scoped := env.Event.Relayed() ||
		env.Event == protocol.EventParticipantJoined ||
		env.Event == protocol.EventParticipantLeft

	r := env.Routing()

	if scoped && (r.CallID == nil || *r.CallID != callID) {
		return false
	}
	if r.From != nil && self != "" && *r.From == self {
		return false
	}
	return true
}
