// Package protocol defines the signaling envelope and the typed payloads
// exchanged between participants through the relay server.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mentorcall/internal/config"
)

// Event names a signaling message kind.
type Event string

// Relay events (on the wire).
const (
	EventJoinUserRoom      Event = "join_user_room"
	EventJoinCall          Event = "join_call"
	EventLeaveCall         Event = "leave_call"
	EventOffer             Event = "offer"
	EventAnswer            Event = "answer"
	EventICECandidate      Event = "ice_candidate"
	EventChatMessage       Event = "chat_message"
	EventTimerSync         Event = "timer_sync"
	EventCallEnded         Event = "call_ended"
	EventRoomJoined        Event = "room_joined"
	EventParticipantJoined Event = "participant_joined"
	EventParticipantLeft   Event = "participant_left"
	EventError             Event = "error"
)

// Client-local events, never sent on the wire.
const (
	EventDisconnect Event = "disconnect"
	EventReconnect  Event = "reconnect"
)

// Relayed reports whether the relay forwards this event to the call room.
func (e Event) Relayed() bool {
	switch e {
	case EventOffer, EventAnswer, EventICECandidate, EventChatMessage, EventTimerSync, EventCallEnded:
		return true
	}
	return false
}

// UserRoom and CallRoom build the relay room names for a user and a call.
func UserRoom(userID ID) string { return "user_" + string(userID) }
func CallRoom(callID ID) string { return "call_" + string(callID) }

// ID is an opaque identifier. The web backend emits numeric user ids and
// string call ids, so both JSON strings and numbers are accepted.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*id = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %s", b)
	}
	*id = ID(n.String())
	return nil
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// ---------------------------------------------------------------------------
// Payloads
// ---------------------------------------------------------------------------

// Routing is the subset of fields every call-scoped payload carries.
// Pointers distinguish "absent" from "empty".
type Routing struct {
	CallID *ID `json:"callId"`
	From   *ID `json:"from"`
}

// Offer carries the initiator's session description.
type Offer struct {
	CallID ID                        `json:"callId"`
	Offer  webrtc.SessionDescription `json:"offer"`
	From   ID                        `json:"from"`
	Role   config.Role               `json:"role,omitempty"`
}

// Answer carries the responder's session description.
type Answer struct {
	CallID ID                        `json:"callId"`
	Answer webrtc.SessionDescription `json:"answer"`
	From   ID                        `json:"from"`
	Role   config.Role               `json:"role,omitempty"`
}

// Candidate is an ICE candidate in browser JSON form, annotated with its
// type (host/srflx/prflx/relay) and transport protocol (udp/tcp).
type Candidate struct {
	webrtc.ICECandidateInit
	Type     string `json:"type,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// IsRelay reports whether the candidate routes through a relay (TURN) server.
func (c Candidate) IsRelay() bool { return c.Type == webrtc.ICECandidateTypeRelay.String() }

// ICECandidate carries one reachability candidate.
type ICECandidate struct {
	CallID    ID          `json:"callId"`
	Candidate Candidate   `json:"candidate"`
	From      ID          `json:"from"`
	Role      config.Role `json:"role,omitempty"`
}

// ChatMessage is one transcript entry. SenderID uses the "from" key to stay
// compatible with the web client's message shape.
type ChatMessage struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	SenderID  ID     `json:"from"`
}

// Chat carries a chat message over the signaling fallback path.
type Chat struct {
	CallID  ID          `json:"callId"`
	Message ChatMessage `json:"message"`
	From    ID          `json:"from"`
	Role    config.Role `json:"role,omitempty"`
}

// TimerSync broadcasts the sender's remaining seconds.
type TimerSync struct {
	CallID   ID  `json:"callId"`
	TimeLeft int `json:"timeLeft"`
	From     ID  `json:"from"`
}

// CallEnded announces an explicit hangup.
type CallEnded struct {
	CallID ID     `json:"callId"`
	From   ID     `json:"from"`
	Reason string `json:"reason,omitempty"`
}

// RoomJoined acknowledges a room membership.
type RoomJoined struct {
	Room             string `json:"room"`
	ParticipantCount int    `json:"participantCount"`
}

// ParticipantJoined / ParticipantLeft report call room membership changes.
type ParticipantJoined struct {
	CallID           ID  `json:"callId"`
	ParticipantCount int `json:"participantCount"`
}

type ParticipantLeft struct {
	CallID           ID  `json:"callId"`
	ParticipantCount int `json:"participantCount"`
}

// ErrorPayload reports a relay-side rejection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ICEServer is one entry of a credential response, in browser
// RTCIceServer form.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Credentials is the relay's short-lived ICE configuration for one user.
type Credentials struct {
	ICEServers []ICEServer `json:"iceServers"`
	TTL        int         `json:"ttl"` // seconds
}

// WebRTC converts the credential set into pion ICE servers.
func (c Credentials) WebRTC() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		out = append(out, server)
	}
	return out
}
