package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/mentorcall/internal/protocol"
)

func envelope(t *testing.T, event protocol.Event, payload any) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestAccept(t *testing.T) {
	const call, self, peer protocol.ID = "c1", "u1", "u2"

	testCases := []struct {
		name string
		env  *protocol.Envelope
		want bool
	}{
		{"peer offer", envelope(t, protocol.EventOffer, protocol.Offer{CallID: call, From: peer}), true},
		{"own echo", envelope(t, protocol.EventOffer, protocol.Offer{CallID: call, From: self}), false},
		{"other call", envelope(t, protocol.EventAnswer, protocol.Answer{CallID: "c2", From: peer}), false},
		{"missing call id", envelope(t, protocol.EventTimerSync, map[string]any{"timeLeft": 10, "from": peer}), false},
		{"numeric ids", envelope(t, protocol.EventChatMessage, map[string]any{"callId": "c1", "from": 2}), true},
		{"room joined", envelope(t, protocol.EventRoomJoined, protocol.RoomJoined{Room: "call_c1", ParticipantCount: 1}), true},
		{"participant joined", envelope(t, protocol.EventParticipantJoined, protocol.ParticipantJoined{CallID: call, ParticipantCount: 2}), true},
		{"participant joined elsewhere", envelope(t, protocol.EventParticipantJoined, protocol.ParticipantJoined{CallID: "c9", ParticipantCount: 2}), false},
		{"relay error", envelope(t, protocol.EventError, protocol.ErrorPayload{Message: "nope"}), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Accept(tc.env, call, self); got != tc.want {
				t.Errorf("Accept = %v, want %v", got, tc.want)
			}
		})
	}
}

type replyFunc func(protocol.Event, any)

// fakeRelay is a scripted websocket endpoint. onFrame runs for every inbound
// frame on the n-th accepted connection; returning true drops that socket.
type fakeRelay struct {
	*httptest.Server
	conns   atomic.Int32
	onFrame func(n int32, env *protocol.Envelope, reply replyFunc) bool
}

func newFakeRelay(t *testing.T, onFrame func(int32, *protocol.Envelope, replyFunc) bool) *fakeRelay {
	t.Helper()
	fr := &fakeRelay{onFrame: onFrame}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	fr.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := fr.conns.Add(1)

		var mu sync.Mutex
		reply := func(event protocol.Event, payload any) {
			data, _ := protocol.Encode(event, payload)
			mu.Lock()
			defer mu.Unlock()
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			if fr.onFrame != nil && fr.onFrame(n, env, reply) {
				return
			}
		}
	}))
	t.Cleanup(fr.Close)
	return fr
}

func (fr *fakeRelay) wsURL() string { return "ws" + strings.TrimPrefix(fr.URL, "http") }

func TestConnectUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Connect(context.Background(), Options{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		Attempts:   2,
		RetryDelay: 10 * time.Millisecond,
	})
	if !errors.Is(err, ErrSignalingUnavailable) {
		t.Fatalf("err = %v, want ErrSignalingUnavailable", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("dial attempts = %d, want 2", got)
	}
}

func TestClientDispatchesFilteredInOrder(t *testing.T) {
	const call, self, peer protocol.ID = "c1", "u1", "u2"

	relay := newFakeRelay(t, func(_ int32, env *protocol.Envelope, reply replyFunc) bool {
		if env.Event != protocol.EventJoinCall {
			return false
		}
		reply(protocol.EventRoomJoined, protocol.RoomJoined{Room: protocol.CallRoom(call), ParticipantCount: 1})
		reply(protocol.EventTimerSync, protocol.TimerSync{CallID: "other", TimeLeft: 1, From: peer})
		reply(protocol.EventTimerSync, protocol.TimerSync{CallID: call, TimeLeft: 2, From: self})
		reply(protocol.EventTimerSync, protocol.TimerSync{CallID: call, TimeLeft: 3, From: peer})
		reply(protocol.EventTimerSync, protocol.TimerSync{CallID: call, TimeLeft: 4, From: peer})
		return false
	})

	c, err := Connect(context.Background(), Options{URL: relay.wsURL(), Self: self, CallID: call})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	joined := make(chan struct{}, 1)
	got := make(chan int, 4)
	c.On(protocol.EventRoomJoined, func(*protocol.Envelope) { joined <- struct{}{} })
	c.On(protocol.EventTimerSync, func(env *protocol.Envelope) {
		var ts protocol.TimerSync
		if err := env.Bind(&ts); err != nil {
			t.Error(err)
			return
		}
		got <- ts.TimeLeft
	})

	if err := c.JoinCall(call); err != nil {
		t.Fatal(err)
	}

	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("no room_joined")
	}

	for _, want := range []int{3, 4} {
		select {
		case left := <-got:
			if left != want {
				t.Fatalf("timeLeft = %d, want %d", left, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for timeLeft %d", want)
		}
	}

	select {
	case left := <-got:
		t.Fatalf("unexpected extra message %d", left)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientReconnectRejoinsRooms(t *testing.T) {
	joins := make(chan int32, 4)

	relay := newFakeRelay(t, func(n int32, env *protocol.Envelope, _ replyFunc) bool {
		if env.Event != protocol.EventJoinCall {
			return false
		}
		joins <- n
		// Drop the first socket right after the join.
		return n == 1
	})

	c, err := Connect(context.Background(), Options{
		URL:        relay.wsURL(),
		Self:       "u1",
		CallID:     "c1",
		RetryDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	reconnected := make(chan struct{}, 1)
	c.On(protocol.EventReconnect, func(*protocol.Envelope) { reconnected <- struct{}{} })

	if err := c.JoinCall("c1"); err != nil {
		t.Fatal(err)
	}
	if n := <-joins; n != 1 {
		t.Fatalf("first join on connection %d", n)
	}

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("client did not reconnect")
	}

	select {
	case n := <-joins:
		if n != 2 {
			t.Errorf("rejoin on connection %d, want 2", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client did not re-join the call room")
	}

	if !c.Connected() {
		t.Error("client should report connected after reconnect")
	}
}

func TestSendWhileClosed(t *testing.T) {
	relay := newFakeRelay(t, nil)

	c, err := Connect(context.Background(), Options{URL: relay.wsURL()})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Logf("close: %v", err)
	}

	if err := c.Send(protocol.EventTimerSync, protocol.TimerSync{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after Close = %v, want ErrNotConnected", err)
	}
	if c.Err() != nil {
		t.Errorf("Err after Close = %v, want nil", c.Err())
	}
	// Close is idempotent.
	_ = c.Close()
}

func TestTokenHeader(t *testing.T) {
	auth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	c, err := Connect(context.Background(), Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Token: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if got := <-auth; got != "Bearer abc" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestCloseDuringRedialReleasesSocket(t *testing.T) {
	var conns atomic.Int32
	redialed := make(chan struct{})
	released := make(chan struct{})
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if conns.Add(1) == 1 {
			return // drop the first socket to force a redial
		}
		close(redialed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(released)
				return
			}
		}
	}))
	defer srv.Close()

	c, err := Connect(context.Background(), Options{
		URL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		RetryDelay: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-redialed:
	case <-time.After(3 * time.Second):
		t.Fatal("client did not redial")
	}
	_ = c.Close()

	select {
	case <-released:
	case <-time.After(3 * time.Second):
		t.Fatal("redialed socket still open after Close")
	}
	if c.Connected() {
		t.Error("client reports connected after Close")
	}
}
