// Package chat keeps the call transcript and delivers messages over the data
// channel with the relay as fallback.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/mentorcall/internal/config"
	"github.com/1ureka/mentorcall/internal/protocol"
	"github.com/1ureka/mentorcall/internal/util"
)

// ErrEmptyMessage is returned by Send for blank text.
var ErrEmptyMessage = errors.New("empty chat message")

// DirectPath is the peer-to-peer data channel.
type DirectPath interface {
	ChatOpen() bool
	SendChat(data []byte) error
}

// RelayPath is the signaling fallback.
type RelayPath interface {
	Send(event protocol.Event, payload any) error
}

// DeliveryFailureError is returned when neither path accepted a message.
type DeliveryFailureError struct {
	Direct error
	Relay  error
}

func (e *DeliveryFailureError) Error() string {
	return fmt.Sprintf("chat message not delivered (data channel: %v; signaling: %v)", e.Direct, e.Relay)
}

func (e *DeliveryFailureError) Unwrap() []error { return []error{e.Direct, e.Relay} }

var errDirectClosed = errors.New("data channel not open")

// Options configures a Channel.
type Options struct {
	CallID protocol.ID
	Self   config.User
	Direct DirectPath
	Relay  RelayPath
	Now    func() time.Time
}

// Channel is the chat endpoint of one call. It is safe for concurrent use.
type Channel struct {
	opts Options

	mu         sync.Mutex
	transcript []protocol.ChatMessage
	seen       map[string]struct{}
	handlers   []func(protocol.ChatMessage)
}

// New creates an empty Channel.
func New(opts Options) *Channel {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Channel{
		opts: opts,
		seen: make(map[string]struct{}),
	}
}

// Send delivers text to the peer. The data channel is tried when open, the
// relay always. The message is appended to the transcript once if at least
// one path accepted it.
func (c *Channel) Send(text string) (protocol.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return protocol.ChatMessage{}, ErrEmptyMessage
	}

	msg := protocol.ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    c.opts.Self.Username,
		Timestamp: c.opts.Now().UTC().Format(time.RFC3339),
		SenderID:  protocol.ID(c.opts.Self.ID),
	}

	directErr := c.sendDirect(msg)
	relayErr := c.sendRelay(msg)

	if directErr != nil && relayErr != nil {
		return protocol.ChatMessage{}, &DeliveryFailureError{Direct: directErr, Relay: relayErr}
	}
	if directErr != nil {
		util.LogDebug("chat sent via signaling only: %v", directErr)
	}

	util.Stats.AddChatSent()
	c.append(msg, false)
	return msg, nil
}

func (c *Channel) sendDirect(msg protocol.ChatMessage) error {
	if c.opts.Direct == nil || !c.opts.Direct.ChatOpen() {
		return errDirectClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.opts.Direct.SendChat(data)
}

func (c *Channel) sendRelay(msg protocol.ChatMessage) error {
	if c.opts.Relay == nil {
		return errors.New("no signaling path")
	}
	return c.opts.Relay.Send(protocol.EventChatMessage, protocol.Chat{
		CallID:  c.opts.CallID,
		Message: msg,
		From:    protocol.ID(c.opts.Self.ID),
		Role:    c.opts.Self.Role,
	})
}

// ReceiveDirect handles a frame from the data channel.
func (c *Channel) ReceiveDirect(data []byte) error {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("malformed chat frame: %w", err)
	}
	c.receive(msg)
	return nil
}

// ReceiveRelay handles a chat_message from signaling.
func (c *Channel) ReceiveRelay(env *protocol.Envelope) error {
	var chat protocol.Chat
	if err := env.Bind(&chat); err != nil {
		return err
	}
	msg := chat.Message
	if msg.SenderID == "" {
		msg.SenderID = chat.From
	}
	c.receive(msg)
	return nil
}

func (c *Channel) receive(msg protocol.ChatMessage) {
	if msg.SenderID != "" && msg.SenderID == protocol.ID(c.opts.Self.ID) {
		return
	}
	if c.append(msg, true) {
		util.Stats.AddChatRecv()
	}
}

// append adds msg unless its id was already seen. notify runs the handlers.
func (c *Channel) append(msg protocol.ChatMessage, notify bool) bool {
	c.mu.Lock()
	if msg.ID != "" {
		if _, dup := c.seen[msg.ID]; dup {
			c.mu.Unlock()
			return false
		}
		c.seen[msg.ID] = struct{}{}
	}
	c.transcript = append(c.transcript, msg)
	handlers := append([]func(protocol.ChatMessage){}, c.handlers...)
	c.mu.Unlock()

	if notify {
		for _, fn := range handlers {
			fn(msg)
		}
	}
	return true
}

// OnMessage registers a handler for messages received from the peer.
func (c *Channel) OnMessage(fn func(protocol.ChatMessage)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// Transcript returns a copy of the messages in arrival order.
func (c *Channel) Transcript() []protocol.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ChatMessage(nil), c.transcript...)
}
