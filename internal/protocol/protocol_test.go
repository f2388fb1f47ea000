package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mentorcall/internal/config"
)

// TestIDAcceptsStringsAndNumbers verifies that ids emitted as JSON numbers by
// the web backend compare equal to their string form.
func TestIDAcceptsStringsAndNumbers(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want ID
	}{
		{"string", `"abc-123"`, "abc-123"},
		{"integer", `42`, "42"},
		{"numeric string", `"42"`, "42"},
		{"null", `null`, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var id ID
			if err := json.Unmarshal([]byte(tc.raw), &id); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if id != tc.want {
				t.Errorf("got %q, want %q", id, tc.want)
			}
		})
	}

	var id ID
	if err := json.Unmarshal([]byte(`{"x":1}`), &id); err == nil {
		t.Error("expected error for object id")
	}
}

func TestEncodeDecodeOffer(t *testing.T) {
	data, err := Encode(EventOffer, Offer{
		CallID: "call-1",
		Offer:  webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
		From:   "7",
		Role:   config.RoleMentor,
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Event != EventOffer {
		t.Fatalf("event = %q, want offer", env.Event)
	}

	var got Offer
	if err := env.Bind(&got); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if got.CallID != "call-1" || got.From != "7" || got.Role != config.RoleMentor {
		t.Errorf("unexpected routing fields: %+v", got)
	}
	if got.Offer.Type != webrtc.SDPTypeOffer || got.Offer.SDP != "v=0" {
		t.Errorf("unexpected description: %+v", got.Offer)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed frame")
	}
	if _, err := Decode([]byte(`{"data":{}}`)); !errors.Is(err, ErrMissingEvent) {
		t.Errorf("expected ErrMissingEvent, got %v", err)
	}

	env := &Envelope{Event: EventAnswer}
	var a Answer
	if err := env.Bind(&a); err == nil {
		t.Error("expected error binding empty payload")
	}
}

func TestEnvelopeRouting(t *testing.T) {
	// Numeric call id and sender from a browser client.
	env, err := Decode([]byte(`{"event":"timer_sync","data":{"callId":12,"timeLeft":300,"from":5}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	r := env.Routing()
	if r.CallID == nil || *r.CallID != "12" {
		t.Errorf("callId = %v, want 12", r.CallID)
	}
	if r.From == nil || *r.From != "5" {
		t.Errorf("from = %v, want 5", r.From)
	}

	// Bare string payload (join_call) has no routing.
	env, err = Decode([]byte(`{"event":"join_call","data":"12"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if r := env.Routing(); r.CallID != nil || r.From != nil {
		t.Errorf("expected empty routing, got %+v", r)
	}
}

// TestCandidateWireShape verifies the candidate is flattened to the browser's
// RTCIceCandidate JSON shape plus type/protocol annotations.
func TestCandidateWireShape(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	c := Candidate{
		ICECandidateInit: webrtc.ICECandidateInit{
			Candidate:     "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ relay",
			SDPMid:        &mid,
			SDPMLineIndex: &idx,
		},
		Type:     "relay",
		Protocol: "udp",
	}

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, key := range []string{`"candidate":`, `"sdpMid":"0"`, `"sdpMLineIndex":0`, `"type":"relay"`, `"protocol":"udp"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("encoded candidate %s missing %s", data, key)
		}
	}
	if !c.IsRelay() {
		t.Error("expected relay candidate")
	}
}

func TestRelayedEvents(t *testing.T) {
	for _, e := range []Event{EventOffer, EventAnswer, EventICECandidate, EventChatMessage, EventTimerSync, EventCallEnded} {
		if !e.Relayed() {
			t.Errorf("%s should be relayed", e)
		}
	}
	for _, e := range []Event{EventJoinCall, EventJoinUserRoom, EventLeaveCall, EventRoomJoined, EventDisconnect} {
		if e.Relayed() {
			t.Errorf("%s should not be relayed", e)
		}
	}
	if CallRoom("9") != "call_9" || UserRoom("3") != "user_3" {
		t.Error("unexpected room names")
	}
}

func TestCredentialsWebRTC(t *testing.T) {
	creds := Credentials{
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.example:3478"}},
			{URLs: []string{"turn:turn.example:3478?transport=udp"}, Username: "1700000000:7", Credential: "pw"},
		},
		TTL: 3600,
	}

	servers := creds.WebRTC()
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if servers[0].Username != "" {
		t.Errorf("stun entry carries credentials: %+v", servers[0])
	}
	if servers[1].Username != "1700000000:7" || servers[1].Credential != "pw" {
		t.Errorf("turn entry = %+v", servers[1])
	}
}
