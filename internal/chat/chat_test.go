package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/1ureka/mentorcall/internal/config"
	"github.com/1ureka/mentorcall/internal/protocol"
)

type fakeDirect struct {
	open bool
	err  error
	sent [][]byte
}

func (f *fakeDirect) ChatOpen() bool { return f.open }
func (f *fakeDirect) SendChat(data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, data)
	return nil
}

type fakeRelay struct {
	err  error
	sent []protocol.Chat
}

func (f *fakeRelay) Send(event protocol.Event, payload any) error {
	if f.err != nil {
		return f.err
	}
	if event != protocol.EventChatMessage {
		return errors.New("unexpected event " + string(event))
	}
	f.sent = append(f.sent, payload.(protocol.Chat))
	return nil
}

var mentor = config.User{ID: "7", Username: "Ada", Role: config.RoleMentor}

func newChannel(direct *fakeDirect, relay *fakeRelay) *Channel {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return New(Options{
		CallID: "c1",
		Self:   mentor,
		Direct: direct,
		Relay:  relay,
		Now:    func() time.Time { return fixed },
	})
}

func TestSendPaths(t *testing.T) {
	down := errors.New("down")

	testCases := []struct {
		name       string
		direct     *fakeDirect
		relay      *fakeRelay
		wantErr    bool
		wantDirect int
		wantRelay  int
	}{
		{"both paths", &fakeDirect{open: true}, &fakeRelay{}, false, 1, 1},
		{"channel closed", &fakeDirect{}, &fakeRelay{}, false, 0, 1},
		{"channel fails", &fakeDirect{open: true, err: down}, &fakeRelay{}, false, 0, 1},
		{"relay fails", &fakeDirect{open: true}, &fakeRelay{err: down}, false, 1, 0},
		{"both fail", &fakeDirect{open: true, err: down}, &fakeRelay{err: down}, true, 0, 0},
		{"closed and relay fails", &fakeDirect{}, &fakeRelay{err: down}, true, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ch := newChannel(tc.direct, tc.relay)
			_, err := ch.Send("  hello  ")

			if tc.wantErr {
				var dfe *DeliveryFailureError
				if !errors.As(err, &dfe) {
					t.Fatalf("err = %v, want *DeliveryFailureError", err)
				}
				if n := len(ch.Transcript()); n != 0 {
					t.Errorf("transcript has %d entries after failed send", n)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := ch.Transcript(); len(got) != 1 || got[0].Text != "hello" {
				t.Errorf("transcript = %+v, want exactly one 'hello'", got)
			}
			if len(tc.direct.sent) != tc.wantDirect {
				t.Errorf("direct sends = %d, want %d", len(tc.direct.sent), tc.wantDirect)
			}
			if len(tc.relay.sent) != tc.wantRelay {
				t.Errorf("relay sends = %d, want %d", len(tc.relay.sent), tc.wantRelay)
			}
		})
	}
}

func TestSendMessageShape(t *testing.T) {
	relay := &fakeRelay{}
	ch := newChannel(&fakeDirect{}, relay)

	msg, err := ch.Send("hi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" || msg.Sender != "Ada" || msg.SenderID != "7" || msg.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("unexpected message %+v", msg)
	}

	sent := relay.sent[0]
	if sent.CallID != "c1" || sent.From != "7" || sent.Role != config.RoleMentor || sent.Message.ID != msg.ID {
		t.Errorf("unexpected relay payload %+v", sent)
	}

	if _, err := ch.Send("   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank send = %v, want ErrEmptyMessage", err)
	}
}

func TestReceiveDedupAndSelfFilter(t *testing.T) {
	ch := newChannel(&fakeDirect{}, &fakeRelay{})

	var notified []string
	ch.OnMessage(func(m protocol.ChatMessage) { notified = append(notified, m.Text) })

	peerMsg := protocol.ChatMessage{ID: "m1", Text: "from peer", Sender: "Bo", SenderID: "8"}
	data, _ := json.Marshal(peerMsg)

	if err := ch.ReceiveDirect(data); err != nil {
		t.Fatal(err)
	}

	// Same message again through the relay.
	env, _ := protocol.NewEnvelope(protocol.EventChatMessage, protocol.Chat{CallID: "c1", Message: peerMsg, From: "8"})
	if err := ch.ReceiveRelay(env); err != nil {
		t.Fatal(err)
	}

	// Our own message echoed back.
	own, _ := json.Marshal(protocol.ChatMessage{ID: "m2", Text: "mine", SenderID: "7"})
	if err := ch.ReceiveDirect(own); err != nil {
		t.Fatal(err)
	}

	// A legacy message without an id is always kept.
	legacy, _ := protocol.NewEnvelope(protocol.EventChatMessage, map[string]any{
		"callId": "c1", "from": 8, "message": map[string]any{"text": "old client", "sender": "Bo"},
	})
	if err := ch.ReceiveRelay(legacy); err != nil {
		t.Fatal(err)
	}

	got := ch.Transcript()
	if len(got) != 2 || got[0].Text != "from peer" || got[1].Text != "old client" {
		t.Fatalf("transcript = %+v", got)
	}
	if got[1].SenderID != "8" {
		t.Errorf("legacy sender id = %q, want 8", got[1].SenderID)
	}
	if len(notified) != 2 {
		t.Errorf("handlers ran %d times, want 2", len(notified))
	}

	if err := ch.ReceiveDirect([]byte("{")); err == nil {
		t.Error("malformed frame accepted")
	}
}

func TestTranscriptIsACopy(t *testing.T) {
	ch := newChannel(&fakeDirect{}, &fakeRelay{})
	if _, err := ch.Send("one"); err != nil {
		t.Fatal(err)
	}
	snap := ch.Transcript()
	snap[0].Text = "mutated"
	if ch.Transcript()[0].Text != "one" {
		t.Error("Transcript exposed internal storage")
	}
}
