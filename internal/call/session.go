// Package call runs one mentor/mentee call session: media, signaling,
// negotiation, the countdown, chat and teardown, all sequenced by a single
// event loop.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mentorcall/internal/backend"
	"github.com/1ureka/mentorcall/internal/chat"
	"github.com/1ureka/mentorcall/internal/config"
	"github.com/1ureka/mentorcall/internal/media"
	"github.com/1ureka/mentorcall/internal/protocol"
	"github.com/1ureka/mentorcall/internal/signaling"
	"github.com/1ureka/mentorcall/internal/transport"
	"github.com/1ureka/mentorcall/internal/util"
)

const (
	tickInterval = time.Second
	eventBuffer  = 64
)

// End reasons carried in call_ended and logs.
const (
	ReasonTimeout = "timeout"
	ReasonHangup  = "hangup"
	ReasonRemote  = "remote-hangup"
)

// Notifier reports the session lifecycle to the backend.
type Notifier interface {
	Start(ctx context.Context, callID, userID protocol.ID) error
	End(ctx context.Context, callID, userID protocol.ID) error
	Status(ctx context.Context, callID protocol.ID) (backend.Status, error)
}

// CredentialSource issues per-session ICE servers.
type CredentialSource interface {
	ICECredentials(ctx context.Context, callID, userID protocol.ID) (protocol.Credentials, error)
}

// Options configures a Session.
type Options struct {
	Config   *config.Config
	Capturer media.Capturer
	Devices  *media.Devices // shared device guard; nil creates a private one
	Notifier Notifier       // nil disables backend notifications

	// Credentials is consulted when Config.ICEServers is nil.
	Credentials CredentialSource

	RegisterCodecs  transport.CodecRegistrar
	IncludeLoopback bool

	Now func() time.Time
}

// Session is one participant's side of a call. Create it with New, drive it
// with Run; the remaining methods are safe to call from any goroutine.
type Session struct {
	opts   Options
	cfg    *config.Config
	timing config.Timing
	log    util.Logger
	callID protocol.ID
	self   protocol.ID
	now    func() time.Time

	inbox chan func()
	out   chan Event
	done  chan struct{} // closed when the loop exits

	running  atomic.Bool
	state    atomic.Int32
	timeLeft atomic.Int32

	tr   atomic.Pointer[transport.Transport]
	chat atomic.Pointer[chat.Channel]

	// Everything below is owned by the loop goroutine.
	ctx           context.Context
	sig           *signaling.Client
	lease         *media.Lease
	neg           Negotiator
	countdown     *Countdown
	restarts      int
	recovery      *time.Timer
	recoveryGen   int
	startNotified bool
	endNotified   bool
	err           error

	timersMu sync.Mutex
	timers   []*time.Timer
}

// New validates opts and returns an idle Session.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("missing config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Capturer == nil {
		return nil, errors.New("missing media capturer")
	}
	if opts.Devices == nil {
		opts.Devices = media.NewDevices()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	timing := opts.Config.Timing
	if timing == (config.Timing{}) {
		timing = config.DefaultTiming()
	}

	s := &Session{
		opts:      opts,
		cfg:       opts.Config,
		timing:    timing,
		log:       util.Prefixed(fmt.Sprintf("[call %s]", opts.Config.CallID)),
		callID:    protocol.ID(opts.Config.CallID),
		self:      protocol.ID(opts.Config.User.ID),
		now:       opts.Now,
		inbox:     make(chan func(), eventBuffer),
		out:       make(chan Event, eventBuffer),
		done:      make(chan struct{}),
		countdown: NewCountdown(timing.CallBudget, timing.SyncEvery),
	}
	s.state.Store(int32(StateConnecting))
	s.timeLeft.Store(int32(s.countdown.Left()))
	return s, nil
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// Events streams state changes, ticks, chat and warnings. It is closed when
// Run returns. Slow readers miss events rather than stall the call.
func (s *Session) Events() <-chan Event { return s.out }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// TimeLeft returns the remaining seconds.
func (s *Session) TimeLeft() int { return int(s.timeLeft.Load()) }

// Transcript returns the chat transcript so far.
func (s *Session) Transcript() []protocol.ChatMessage {
	if ch := s.chat.Load(); ch != nil {
		return ch.Transcript()
	}
	return nil
}

// Hangup ends the call locally. It is a no-op before Run.
func (s *Session) Hangup() {
	if !s.running.Load() {
		return
	}
	s.post(func() { s.end(ReasonHangup) })
}

// SendChat sends a chat message and returns it as appended to the transcript.
func (s *Session) SendChat(text string) (protocol.ChatMessage, error) {
	ch := s.chat.Load()
	if ch == nil {
		return protocol.ChatMessage{}, ErrNotReady
	}
	return ch.Send(text)
}

// ToggleAudio mutes or unmutes the microphone and returns whether it is now
// live.
func (s *Session) ToggleAudio() (bool, error) { return s.toggle(webrtc.RTPCodecTypeAudio) }

// ToggleVideo stops or resumes the camera and returns whether it is now live.
func (s *Session) ToggleVideo() (bool, error) { return s.toggle(webrtc.RTPCodecTypeVideo) }

func (s *Session) toggle(kind webrtc.RTPCodecType) (bool, error) {
	tr := s.tr.Load()
	if tr == nil {
		return false, ErrNotReady
	}
	enable := !tr.TrackEnabled(kind)
	if err := tr.SetTrackEnabled(kind, enable); err != nil {
		return false, err
	}
	return enable, nil
}

func (s *Session) transport() *transport.Transport { return s.tr.Load() }

// Run sets the call up and blocks until it ends or fails. Cancelling ctx is a
// local hangup. The returned error is nil for an ended call.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(s.out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	if err := s.setup(ctx); err != nil {
		s.log.Error("call setup failed: %v", err)
		s.err = err
		s.setState(StateFailed)
		close(s.done)
		s.teardown()
		return err
	}

	s.loop(ctx)

	close(s.done)
	s.teardown()
	return s.err
}

// ---------------------------------------------------------------------------
// Setup
// ---------------------------------------------------------------------------

func (s *Session) setup(ctx context.Context) error {
	servers := s.iceServers(ctx)

	lease, err := s.opts.Devices.Lease(ctx)
	if err != nil {
		return err
	}
	s.lease = lease

	stream, err := media.Acquire(ctx, lease, s.opts.Capturer)
	if err != nil {
		return err
	}
	if stream.AudioOnly() {
		s.warn("camera unavailable, continuing with audio only")
	}
	s.log.Info("local media ready (%s)", stream.Tier)

	tr, err := transport.New(ctx, transport.Options{
		ICEServers:          servers,
		RegisterCodecs:      s.opts.RegisterCodecs,
		DisconnectedTimeout: s.timing.ICEDisconnectedTimeout,
		FailedTimeout:       s.timing.ICEFailedTimeout,
		RelayResendDelay:    s.timing.RelayResendDelay,
		IncludeLoopback:     s.opts.IncludeLoopback,
	})
	if err != nil {
		return err
	}
	s.tr.Store(tr)

	tracks := make([]webrtc.TrackLocal, 0, len(stream.Tracks()))
	for _, t := range stream.Tracks() {
		tracks = append(tracks, t)
	}
	if err := tr.AddLocalTracks(tracks...); err != nil {
		return err
	}

	sig, err := signaling.Connect(ctx, signaling.Options{
		URL:              s.cfg.SignalURL,
		Token:            s.cfg.Token,
		Self:             s.self,
		CallID:           s.callID,
		Attempts:         s.timing.ConnectAttempts,
		RetryDelay:       s.timing.ConnectDelay,
		HandshakeTimeout: s.timing.HandshakeTimeout,
	})
	if err != nil {
		return err
	}
	s.sig = sig

	s.chat.Store(chat.New(chat.Options{
		CallID: s.callID,
		Self:   s.cfg.User,
		Direct: tr,
		Relay:  sig,
		Now:    s.now,
	}))

	s.neg = newNegotiator(s)
	if err := s.neg.Begin(); err != nil {
		return err
	}
	s.wire(tr, sig)

	if err := sig.JoinUserRoom(s.self); err != nil {
		return err
	}
	if err := sig.JoinCall(s.callID); err != nil {
		return err
	}
	s.log.Info("joined rooms %s and %s as %s", protocol.UserRoom(s.self), protocol.CallRoom(s.callID), s.cfg.User.Role)

	s.after(s.timing.JoinSettle, func() {
		if s.State() == StateConnecting {
			s.setState(StateNegotiating)
		}
	})
	return nil
}

// iceServers picks the ICE configuration: pinned servers, then per-session
// credentials, then public STUN.
func (s *Session) iceServers(ctx context.Context) []webrtc.ICEServer {
	if s.cfg.ICEServers != nil {
		return s.cfg.ICEServers
	}
	if s.opts.Credentials != nil {
		reqCtx, cancel := context.WithTimeout(ctx, s.timing.RequestTimeout)
		defer cancel()

		creds, err := s.opts.Credentials.ICECredentials(reqCtx, s.callID, s.self)
		if err == nil && len(creds.ICEServers) > 0 {
			s.log.Debug("using %d ICE servers from session credentials (ttl %ds)", len(creds.ICEServers), creds.TTL)
			return creds.WebRTC()
		}
		s.log.Warning("no relay credentials, falling back to public STUN: %v", err)
	}
	return config.DefaultICEServers()
}

// wire routes every callback into the loop.
func (s *Session) wire(tr *transport.Transport, sig *signaling.Client) {
	tr.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.post(func() { s.onPeerState(state) })
	})

	tr.OnCandidate(func(c protocol.Candidate) {
		err := sig.Send(protocol.EventICECandidate, protocol.ICECandidate{
			CallID:    s.callID,
			Candidate: c,
			From:      s.self,
			Role:      s.cfg.User.Role,
		})
		if err != nil {
			s.log.Debug("failed to send candidate: %v", err)
		}
	})

	tr.OnTrack(func(kind webrtc.RTPCodecType, mimeType string) {
		s.post(func() {
			s.log.Info("remote %s track (%s)", kind, mimeType)
			s.emit(Event{Kind: EventRemoteTrack, Text: kind.String()})
		})
	})

	tr.OnChat(func(data []byte) {
		s.post(func() {
			if err := s.chat.Load().ReceiveDirect(data); err != nil {
				s.log.Debug("%v", err)
			}
		})
	})

	s.chat.Load().OnMessage(func(m protocol.ChatMessage) {
		s.emit(Event{Kind: EventChat, Message: m})
	})

	sig.On(protocol.EventRoomJoined, func(env *protocol.Envelope) {
		var rj protocol.RoomJoined
		if err := env.Bind(&rj); err != nil {
			return
		}
		s.post(func() {
			s.log.Debug("joined %s (%d participants)", rj.Room, rj.ParticipantCount)
			if rj.Room == protocol.CallRoom(s.callID) {
				s.neg.RoomReady(false)
			}
		})
	})

	sig.On(protocol.EventParticipantJoined, func(env *protocol.Envelope) {
		var pj protocol.ParticipantJoined
		if err := env.Bind(&pj); err != nil {
			return
		}
		s.post(func() {
			s.log.Info("participant joined (%d in call)", pj.ParticipantCount)
			if pj.ParticipantCount >= 2 {
				s.neg.RoomReady(true)
			}
		})
	})

	sig.On(protocol.EventParticipantLeft, func(env *protocol.Envelope) {
		s.post(func() { s.warn("the other participant left the call room") })
	})

	sig.On(protocol.EventOffer, func(env *protocol.Envelope) {
		var msg protocol.Offer
		if err := env.Bind(&msg); err != nil {
			s.log.Warning("%v", err)
			return
		}
		s.post(func() { s.neg.HandleOffer(msg) })
	})

	sig.On(protocol.EventAnswer, func(env *protocol.Envelope) {
		var msg protocol.Answer
		if err := env.Bind(&msg); err != nil {
			s.log.Warning("%v", err)
			return
		}
		s.post(func() { s.neg.HandleAnswer(msg) })
	})

	sig.On(protocol.EventICECandidate, func(env *protocol.Envelope) {
		var msg protocol.ICECandidate
		if err := env.Bind(&msg); err != nil {
			s.log.Warning("%v", err)
			return
		}
		s.post(func() {
			if err := tr.AddRemoteCandidate(msg.Candidate); err != nil {
				s.log.Debug("%v", err)
			}
		})
	})

	sig.On(protocol.EventChatMessage, func(env *protocol.Envelope) {
		s.post(func() {
			if err := s.chat.Load().ReceiveRelay(env); err != nil {
				s.log.Debug("%v", err)
			}
		})
	})

	sig.On(protocol.EventTimerSync, func(env *protocol.Envelope) {
		var msg protocol.TimerSync
		if err := env.Bind(&msg); err != nil {
			return
		}
		s.post(func() { s.adoptRemoteTime(msg.TimeLeft) })
	})

	sig.On(protocol.EventCallEnded, func(env *protocol.Envelope) {
		s.post(func() {
			s.log.Info("the other participant ended the call")
			s.end(ReasonRemote)
		})
	})

	sig.On(protocol.EventError, func(env *protocol.Envelope) {
		var msg protocol.ErrorPayload
		_ = env.Bind(&msg)
		s.post(func() { s.warn("relay error: %s", msg.Message) })
	})

	sig.On(protocol.EventDisconnect, func(*protocol.Envelope) {
		s.post(func() { s.warn("signaling connection lost, reconnecting") })
	})

	sig.On(protocol.EventReconnect, func(*protocol.Envelope) {
		s.post(func() { s.log.Info("signaling reconnected") })
	})

	go func() {
		select {
		case <-sig.Done():
		case <-s.done:
			return
		}
		if err := sig.Err(); err != nil {
			s.post(func() { s.warn("signaling unavailable: %v", err) })
		}
	}()
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

// post queues fn for the loop. It is dropped once the loop has exited.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// after runs fn on the loop once d has elapsed.
func (s *Session) after(d time.Duration, fn func()) *time.Timer {
	t := time.AfterFunc(d, func() { s.post(fn) })
	s.timersMu.Lock()
	s.timers = append(s.timers, t)
	s.timersMu.Unlock()
	return t
}

func (s *Session) loop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for !s.State().Terminal() {
		select {
		case fn := <-s.inbox:
			fn()
		case <-ticker.C:
			s.tick()
		case <-ctx.Done():
			s.end(ReasonHangup)
		}
	}
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.log.Debug("state %s -> %s", prev, next)
	s.emit(Event{Kind: EventState, State: next})
}

func (s *Session) emit(ev Event) {
	select {
	case s.out <- ev:
	default:
	}
}

func (s *Session) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.log.Warning("%s", msg)
	s.emit(Event{Kind: EventWarning, Text: msg})
}

// ---------------------------------------------------------------------------
// Countdown
// ---------------------------------------------------------------------------

func (s *Session) tick() {
	if s.State() != StateConnected {
		return
	}

	left, broadcast, expired := s.countdown.Tick()
	s.publishTime(left)

	if broadcast {
		err := s.sig.Send(protocol.EventTimerSync, protocol.TimerSync{CallID: s.callID, TimeLeft: left, From: s.self})
		if err != nil {
			s.log.Debug("failed to send timer sync: %v", err)
		}
	}
	if expired {
		s.log.Info("time is up")
		s.end(ReasonTimeout)
	}
}

func (s *Session) adoptRemoteTime(remote int) {
	if s.State().Terminal() || !s.countdown.Adopt(remote) {
		return
	}
	s.publishTime(s.countdown.Left())
	if s.countdown.Left() == 0 && s.State() == StateConnected {
		s.end(ReasonTimeout)
	}
}

func (s *Session) publishTime(left int) {
	s.timeLeft.Store(int32(left))
	s.emit(Event{Kind: EventTick, TimeLeft: left})
}

// syncWithBackend marks the call started (first connect only) and derives the
// remaining time from the backend's started_at. Failures keep the local value.
func (s *Session) syncWithBackend() {
	notifyStart := !s.startNotified
	s.startNotified = true

	go func() {
		if notifyStart {
			ctx, cancel := context.WithTimeout(s.ctx, s.timing.RequestTimeout)
			if err := s.opts.Notifier.Start(ctx, s.callID, s.self); err != nil {
				s.log.Warning("failed to notify call start: %v", err)
			}
			cancel()
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.timing.RequestTimeout)
		defer cancel()
		st, err := s.opts.Notifier.Status(ctx, s.callID)

		s.post(func() {
			if err != nil {
				s.log.Warning("failed to fetch call status, keeping local countdown: %v", err)
				return
			}
			if st.StartedAt == nil {
				return
			}
			left := s.countdown.Sync(*st.StartedAt, s.now())
			s.log.Debug("countdown synced: %s left", util.FormatClock(left))
			s.publishTime(left)
			if left == 0 && s.State() == StateConnected {
				s.end(ReasonTimeout)
			}
		})
	}()
}

// ---------------------------------------------------------------------------
// Connectivity
// ---------------------------------------------------------------------------

func (s *Session) onPeerState(state webrtc.PeerConnectionState) {
	if s.State().Terminal() {
		return
	}

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.stopRecovery()
		s.restarts = 0
		s.setState(StateConnected)
		s.log.Success("connected")
		s.syncWithBackend()

	case webrtc.PeerConnectionStateDisconnected:
		if s.State() != StateConnected {
			return
		}
		s.setState(StateDisconnected)
		s.warn("connection interrupted, waiting %s before restarting", s.timing.DisconnectGrace)
		s.scheduleRecovery(s.timing.DisconnectGrace, state)

	case webrtc.PeerConnectionStateFailed:
		if s.State() == StateConnected {
			s.setState(StateDisconnected)
		}
		s.scheduleRecovery(s.timing.RestartDelay, state)

	case webrtc.PeerConnectionStateClosed:
		if closedLocally(s.transport()) {
			return
		}
		// pion closes the PeerConnection on the peer's DTLS close_notify.
		s.stopRecovery()
		s.log.Info("the other participant closed the connection")
		s.end(ReasonRemote)
	}
}

// scheduleRecovery replaces any pending recovery step with a restart after d.
// The restart only happens if the connection has not come back by then.
func (s *Session) scheduleRecovery(d time.Duration, last webrtc.PeerConnectionState) {
	s.stopRecovery()
	gen := s.recoveryGen
	s.recovery = s.after(d, func() {
		if gen != s.recoveryGen || s.State() == StateConnected {
			return
		}
		s.restart(last)
	})
}

// stopRecovery cancels the pending recovery step. Bumping the generation also
// voids a step whose timer already fired but has not run yet.
func (s *Session) stopRecovery() {
	s.recoveryGen++
	if s.recovery != nil {
		s.recovery.Stop()
		s.recovery = nil
	}
}

// restart spends one unit of the restart budget, or fails the call when the
// budget is exhausted. Each attempt is bounded: if the connection is not back
// within DisconnectGrace + GatherTimeout, the next attempt starts.
func (s *Session) restart(last webrtc.PeerConnectionState) {
	if s.State().Terminal() {
		return
	}
	if s.restarts >= s.timing.MaxRestarts {
		s.stopRecovery()
		s.err = &ConnectivityFailureError{Restarts: s.restarts, Last: last.String()}
		s.log.Error("%v", s.err)
		s.emit(Event{Kind: EventWarning, Text: "connection failed, please retry the call"})
		s.setState(StateFailed)
		return
	}
	s.restarts++
	s.log.Info("recovering connection (attempt %d/%d)", s.restarts, s.timing.MaxRestarts)
	s.neg.Restart()
	s.scheduleRecovery(s.timing.DisconnectGrace+s.timing.GatherTimeout, last)
}

func closedLocally(tr *transport.Transport) bool {
	if tr == nil {
		return true
	}
	select {
	case <-tr.Done():
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Ending
// ---------------------------------------------------------------------------

// end moves to Ended, tells the peer (unless the peer ended it) and posts
// /end exactly once.
func (s *Session) end(reason string) {
	if s.State().Terminal() {
		return
	}
	s.log.Info("ending call (%s)", reason)
	s.setState(StateEnded)

	if reason != ReasonRemote && s.sig != nil {
		if err := s.sig.Send(protocol.EventCallEnded, protocol.CallEnded{CallID: s.callID, From: s.self, Reason: reason}); err != nil {
			s.log.Debug("failed to announce call end: %v", err)
		}
	}

	if s.endNotified {
		return
	}
	s.endNotified = true

	ctx, cancel := context.WithTimeout(context.Background(), s.timing.RequestTimeout)
	defer cancel()
	if err := s.opts.Notifier.End(ctx, s.callID, s.self); err != nil {
		s.log.Warning("failed to notify call end: %v", err)
	}
}

// teardown releases everything the session holds. Every step runs even when
// an earlier one fails.
func (s *Session) teardown() {
	s.timersMu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.timersMu.Unlock()

	var errs []error

	if tr := s.tr.Load(); tr != nil {
		errs = append(errs, tr.Close())
	}

	if s.sig != nil {
		if err := s.sig.LeaveCall(s.callID); err != nil && !errors.Is(err, signaling.ErrNotConnected) {
			errs = append(errs, err)
		}
		errs = append(errs, s.sig.Close())
	}

	if s.lease != nil {
		errs = append(errs, s.lease.Release())
	}

	if err := errors.Join(errs...); err != nil {
		s.log.Warning("teardown: %v", err)
	}
	s.log.Info("call resources released")
}

type nopNotifier struct{}

func (nopNotifier) Start(context.Context, protocol.ID, protocol.ID) error { return nil }
func (nopNotifier) End(context.Context, protocol.ID, protocol.ID) error   { return nil }
func (nopNotifier) Status(context.Context, protocol.ID) (backend.Status, error) {
	return backend.Status{}, nil
}
