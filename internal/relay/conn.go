package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/mentorcall/internal/protocol"
	"github.com/1ureka/mentorcall/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	maxMessageSize = 64 * 1024
)

// Conn is one relay client socket.
type Conn struct {
	id       string
	userID   protocol.ID // claimed or authenticated identity, may be empty
	verified bool        // userID comes from a validated token
	ws       *websocket.Conn
	srv      *Server

	send chan []byte
	done chan struct{}
}

func (c *Conn) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) emit(event protocol.Event, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		util.LogError("relay: %v", err)
		return
	}
	if !c.enqueue(data) {
		util.LogWarning("relay: dropping %s for %s, buffer full", event, c.id)
	}
}

func (c *Conn) reject(format string) {
	c.emit(protocol.EventError, protocol.ErrorPayload{Message: format})
}

// readPump is the only reader. It exits on any read error and then removes
// the socket from every room.
func (c *Conn) readPump() {
	defer func() {
		close(c.done)
		c.ws.Close()
		c.srv.disconnect(c)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				util.LogDebug("relay: %s read error: %v", c.id, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.Decode(data)
		if err != nil {
			c.reject("malformed frame")
			continue
		}
		c.handle(env, data)
	}
}

// writePump is the only writer.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Conn) handle(env *protocol.Envelope, raw []byte) {
	switch env.Event {
	case protocol.EventJoinUserRoom:
		var id protocol.ID
		if err := env.Bind(&id); err != nil || id == "" {
			c.reject("join_user_room needs a user id")
			return
		}
		if c.verified && id != c.userID {
			c.reject("cannot join another user's room")
			return
		}
		if c.userID == "" {
			c.userID = id
		}
		room := protocol.UserRoom(id)
		n := c.srv.hub.Join(c, room)
		c.emit(protocol.EventRoomJoined, protocol.RoomJoined{Room: room, ParticipantCount: n})

	case protocol.EventJoinCall:
		var callID protocol.ID
		if err := env.Bind(&callID); err != nil || callID == "" {
			c.reject("join_call needs a call id")
			return
		}
		c.srv.joinCall(c, callID)

	case protocol.EventLeaveCall:
		var callID protocol.ID
		if err := env.Bind(&callID); err != nil || callID == "" {
			return
		}
		c.srv.leaveCall(c, callID, c.srv.hub.Leave(c, protocol.CallRoom(callID)))

	default:
		if !env.Event.Relayed() {
			c.reject("unknown event " + string(env.Event))
			return
		}
		c.relay(env, raw)
	}
}

// relay forwards a call-scoped frame, unchanged, to every member of its call
// room including the sender.
func (c *Conn) relay(env *protocol.Envelope, raw []byte) {
	r := env.Routing()
	if r.CallID == nil || *r.CallID == "" {
		c.reject(string(env.Event) + " needs a callId")
		return
	}
	if c.verified && (r.From == nil || *r.From != c.userID) {
		c.reject("sender does not match the authenticated user")
		return
	}

	room := protocol.CallRoom(*r.CallID)
	if !c.srv.hub.Member(c, room) {
		c.reject("not a member of " + room)
		return
	}
	c.srv.hub.Broadcast(room, raw, nil)
}
