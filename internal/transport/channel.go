package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mentorcall/internal/util"
)

const (
	chatLabel     = "chat"
	highWaterMark = 64 * 1024 // refuse new chat frames above this buffered amount
)

// CreateDataChannel opens the ordered "chat" channel. Only the initiator
// calls this; the responder receives the channel through OnDataChannel.
func (t *Transport) CreateDataChannel() error {
	ordered := true
	dc, err := t.pc.CreateDataChannel(chatLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return err
	}
	t.bindChannel(dc)
	return nil
}

// bindChannel adopts dc as the chat channel. A newer channel replaces an
// older one.
func (t *Transport) bindChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		util.LogDebug("chat channel open")
		t.chatOpen.Store(true)
		t.mu.RLock()
		fn := t.onChatOpen
		t.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})

	dc.OnClose(func() {
		util.LogDebug("chat channel closed")
		t.mu.RLock()
		current := t.dc == dc
		t.mu.RUnlock()
		if current {
			t.chatOpen.Store(false)
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.RLock()
		fn := t.onChat
		t.mu.RUnlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

// ChatOpen reports whether the chat channel is open.
func (t *Transport) ChatOpen() bool { return t.chatOpen.Load() }

// SendChat writes one text frame on the chat channel.
func (t *Transport) SendChat(data []byte) error {
	t.mu.RLock()
	dc := t.dc
	t.mu.RUnlock()

	if dc == nil || !t.chatOpen.Load() {
		return ErrChannelClosed
	}
	if dc.BufferedAmount() > highWaterMark {
		return ErrChannelBusy
	}
	return dc.SendText(string(data))
}

// OnChat registers the handler for inbound chat frames.
func (t *Transport) OnChat(fn func([]byte)) {
	t.mu.Lock()
	t.onChat = fn
	t.mu.Unlock()
}

// OnChatOpen registers a handler invoked each time the chat channel opens.
func (t *Transport) OnChatOpen(fn func()) {
	t.mu.Lock()
	t.onChatOpen = fn
	t.mu.Unlock()
}
