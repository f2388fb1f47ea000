// Package signaling is the participant side of the relay signaling channel.
// A Client holds one websocket to the relay, joins the user's and the call's
// rooms, and dispatches inbound events that belong to the active call and were
// not sent by the local participant.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/mentorcall/internal/protocol"
	"github.com/1ureka/mentorcall/internal/util"
)

var (
	// ErrSignalingUnavailable is returned when the relay cannot be reached
	// within the configured attempts.
	ErrSignalingUnavailable = errors.New("signaling unavailable")

	// ErrNotConnected is returned by Send while the socket is down.
	ErrNotConnected = errors.New("signaling not connected")
)

const (
	writeTimeout = 10 * time.Second
	closeTimeout = 2 * time.Second
)

// Handler receives one inbound envelope. Handlers run on the read goroutine in
// arrival order and must not block.
type Handler func(env *protocol.Envelope)

// Options configures a Client.
type Options struct {
	URL    string      // relay websocket URL
	Token  string      // bearer token, sent in the Authorization header
	Self   protocol.ID // local user id, used to drop echoes
	CallID protocol.ID // active call, used to drop foreign messages

	Attempts         int           // dial attempts per (re)connection, default 3
	RetryDelay       time.Duration // pause between attempts, default 1s
	HandshakeTimeout time.Duration // default 30s
}

func (o *Options) setDefaults() {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
}

// Client is a relay connection scoped to one call.
type Client struct {
	opts   Options
	dialer *websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn
	up     atomic.Bool

	writeMu sync.Mutex

	hmu      sync.RWMutex
	handlers map[protocol.Event][]Handler

	roomsMu sync.Mutex
	joins   []join // replayed after a reconnect

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

type join struct {
	event protocol.Event
	id    protocol.ID
}

// Connect dials the relay with bounded retries and starts the read loop.
// Handlers may be registered before or after Connect returns; events arriving
// before a handler exists are dropped.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	c := newClient(opts)

	conn, err := c.dial(ctx)
	if err != nil {
		c.cancel()
		return nil, err
	}

	c.setConn(conn)
	go c.readLoop()

	util.LogDebug("signaling connected: %s", c.opts.URL)
	return c, nil
}

func newClient(opts Options) *Client {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		handlers: make(map[protocol.Event][]Handler),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// dial tries to open the websocket up to opts.Attempts times.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, header)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		util.LogWarning("signaling connect attempt %d/%d failed: %v", attempt, c.opts.Attempts, err)

		if attempt == c.opts.Attempts {
			break
		}
		select {
		case <-time.After(c.opts.RetryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrSignalingUnavailable, ctx.Err())
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrSignalingUnavailable, lastErr)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.up.Store(conn != nil)
}

// install makes a redialed socket current. It reports false, closing the
// socket, when Close ran while the dial was in flight.
func (c *Client) install(next *websocket.Conn) bool {
	c.setConn(next)
	if c.ctx.Err() != nil {
		c.up.Store(false)
		next.Close()
		return false
	}
	return true
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connected reports whether the socket is currently up.
func (c *Client) Connected() bool { return c.up.Load() }

// Done is closed when the client stops for good (Close or retries exhausted).
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the terminal error once Done is closed, nil after Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close shuts the socket and waits briefly for the read loop to exit.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		if conn := c.currentConn(); conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			err = conn.Close()
		}
		c.up.Store(false)

		select {
		case <-c.done:
		case <-time.After(closeTimeout):
			util.LogWarning("signaling close timed out")
		}
	})
	return err
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

// Send emits one event. Writes are serialized; the socket may be down during
// a reconnect, in which case ErrNotConnected is returned.
func (c *Client) Send(event protocol.Event, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	conn := c.currentConn()
	if conn == nil || !c.up.Load() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}

	util.Stats.AddSignalSent()
	return nil
}

// JoinUserRoom joins the per-user room. Fire-and-forget: the relay answers
// with room_joined.
func (c *Client) JoinUserRoom(userID protocol.ID) error {
	return c.joinRoom(protocol.EventJoinUserRoom, userID)
}

// JoinCall joins the per-call room.
func (c *Client) JoinCall(callID protocol.ID) error {
	return c.joinRoom(protocol.EventJoinCall, callID)
}

// LeaveCall leaves the per-call room and stops re-joining it on reconnect.
func (c *Client) LeaveCall(callID protocol.ID) error {
	c.roomsMu.Lock()
	kept := c.joins[:0]
	for _, j := range c.joins {
		if j.event != protocol.EventJoinCall || j.id != callID {
			kept = append(kept, j)
		}
	}
	c.joins = kept
	c.roomsMu.Unlock()

	return c.Send(protocol.EventLeaveCall, callID)
}

func (c *Client) joinRoom(event protocol.Event, id protocol.ID) error {
	c.roomsMu.Lock()
	c.joins = append(c.joins, join{event: event, id: id})
	c.roomsMu.Unlock()

	return c.Send(event, id)
}

// rejoin replays every room join after a reconnect.
func (c *Client) rejoin() {
	c.roomsMu.Lock()
	joins := append([]join(nil), c.joins...)
	c.roomsMu.Unlock()

	for _, j := range joins {
		if err := c.Send(j.event, j.id); err != nil {
			util.LogWarning("failed to re-join %s %s: %v", j.event, j.id, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Inbound
// ---------------------------------------------------------------------------

// On registers a handler for event. Several handlers may share an event;
// they run in registration order.
func (c *Client) On(event protocol.Event, fn Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

func (c *Client) dispatch(env *protocol.Envelope) {
	c.hmu.RLock()
	handlers := c.handlers[env.Event]
	c.hmu.RUnlock()

	for _, fn := range handlers {
		fn(env)
	}
}

// readLoop is the single reader. On a read error it reconnects with the same
// bounded policy as Connect, replays room joins and emits "reconnect"; when
// retries are exhausted it records ErrSignalingUnavailable and exits.
func (c *Client) readLoop() {
	defer close(c.done)

	for {
		conn := c.currentConn()
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return // closed locally
			}

			util.LogWarning("signaling disconnected: %v", err)
			c.up.Store(false)
			conn.Close()
			c.dispatch(&protocol.Envelope{Event: protocol.EventDisconnect})

			next, err := c.dial(c.ctx)
			if err != nil {
				if c.ctx.Err() == nil {
					c.errMu.Lock()
					c.err = err
					c.errMu.Unlock()
					util.LogError("signaling lost: %v", err)
				}
				return
			}

			if !c.install(next) {
				return
			}
			c.rejoin()
			util.LogInfo("signaling reconnected")
			c.dispatch(&protocol.Envelope{Event: protocol.EventReconnect})
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			util.LogDebug("dropping signaling frame: %v", err)
			continue
		}

		if !Accept(env, c.opts.CallID, c.opts.Self) {
			continue
		}

		util.Stats.AddSignalRecv()
		c.dispatch(env)
	}
}
