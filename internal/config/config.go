// Package config holds the participant and relay configuration types.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Role represents the participant's role in a call (mentor or mentee).
// The mentor always initiates negotiation; the mentee always answers.
type Role string

const (
	RoleMentor Role = "mentor"
	RoleMentee Role = "mentee"
)

// ParseRole converts a raw role name into a Role.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleMentor, RoleMentee:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q: must be 'mentor' or 'mentee'", raw)
	}
}

// IsInitiator reports whether this role creates the offer and data channel.
func (r Role) IsInitiator() bool { return r == RoleMentor }

// User identifies the local participant.
type User struct {
	ID       string
	Username string
	Role     Role
}

// CallBudget is the fixed length of every call session.
const CallBudget = 600 * time.Second

// Timing collects every delay, bound and retry count used by a call session.
type Timing struct {
	CallBudget time.Duration // total countdown
	SyncEvery  int           // broadcast timer_sync every N ticks

	JoinSettle       time.Duration // pause after joining rooms before wiring signaling
	OfferDelay       time.Duration // mentor waits this long after room readiness
	ParticipantDelay time.Duration // extra wait when readiness comes from participant_joined
	GatherTimeout    time.Duration // hard bound on waiting for ICE gathering
	OfferWatchdog    time.Duration // mentee warns when no offer arrives in time

	DisconnectGrace  time.Duration // tolerated "disconnected" period before restarting ICE
	RestartDelay     time.Duration // delay before an ICE restart after "failed"
	MaxRestarts      int           // ICE restarts before the call is declared failed
	RelayResendDelay time.Duration // relay candidates are re-sent once after this delay

	ConnectAttempts  int           // signaling dial attempts
	ConnectDelay     time.Duration // pause between signaling dial attempts
	HandshakeTimeout time.Duration // websocket handshake bound
	RequestTimeout   time.Duration // REST request bound

	ICEDisconnectedTimeout time.Duration // pion: no traffic → disconnected
	ICEFailedTimeout       time.Duration // pion: disconnected → failed
}

// DefaultTiming returns the production timing values.
func DefaultTiming() Timing {
	return Timing{
		CallBudget:             CallBudget,
		SyncEvery:              10,
		JoinSettle:             100 * time.Millisecond,
		OfferDelay:             2 * time.Second,
		ParticipantDelay:       1 * time.Second,
		GatherTimeout:          5 * time.Second,
		OfferWatchdog:          15 * time.Second,
		DisconnectGrace:        5 * time.Second,
		RestartDelay:           1 * time.Second,
		MaxRestarts:            3,
		RelayResendDelay:       2 * time.Second,
		ConnectAttempts:        3,
		ConnectDelay:           1 * time.Second,
		HandshakeTimeout:       30 * time.Second,
		RequestTimeout:         10 * time.Second,
		ICEDisconnectedTimeout: 5 * time.Second,
		ICEFailedTimeout:       25 * time.Second,
	}
}

// Config stores everything a participant needs to join one call.
type Config struct {
	CallID    string
	User      User
	SignalURL string // relay websocket URL, e.g. wss://relay.example.com/ws
	APIURL    string // backend REST base URL, e.g. https://api.example.com/api
	Token     string // bearer token for both the backend and the relay

	// ICEServers pins the ICE configuration. When empty the session fetches
	// short-lived credentials from the relay and falls back to DefaultSTUN.
	ICEServers []webrtc.ICEServer

	Timing Timing
	Debug  bool
}

// Validate checks that the required fields are present.
func (c *Config) Validate() error {
	switch {
	case c.CallID == "":
		return fmt.Errorf("missing call id")
	case c.User.ID == "":
		return fmt.Errorf("missing user id")
	case c.User.Role != RoleMentor && c.User.Role != RoleMentee:
		return fmt.Errorf("invalid role %q", c.User.Role)
	case c.SignalURL == "":
		return fmt.Errorf("missing signaling URL")
	}
	return nil
}

// DefaultSTUN lists the public discovery servers used when no relay
// credentials are available.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun.cloudflare.com:3478",
}

// DefaultICEServers returns an ICE configuration with only public STUN servers.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: append([]string(nil), DefaultSTUN...)}}
}
