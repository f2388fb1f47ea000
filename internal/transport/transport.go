// Package transport wraps the pion PeerConnection of one call: local tracks,
// the chat data channel, offer/answer application with signaling-state
// guards, candidate forwarding and connection-state fan-out.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mentorcall/internal/protocol"
	"github.com/1ureka/mentorcall/internal/util"
)

const gatherPoll = 500 * time.Millisecond

// Options configures a Transport.
type Options struct {
	ICEServers     []webrtc.ICEServer
	RegisterCodecs CodecRegistrar // nil registers pion's default codecs

	DisconnectedTimeout time.Duration // default 5s
	FailedTimeout       time.Duration // default 25s
	RelayResendDelay    time.Duration // relay candidates are forwarded again after this; 0 disables

	// IncludeLoopback gathers loopback host candidates, for single-host
	// setups where no other interface is reachable.
	IncludeLoopback bool
}

func (o *Options) setDefaults() {
	if o.DisconnectedTimeout <= 0 {
		o.DisconnectedTimeout = 5 * time.Second
	}
	if o.FailedTimeout <= 0 {
		o.FailedTimeout = 25 * time.Second
	}
}

// Transport owns one PeerConnection. It is safe for concurrent use, though
// the call session drives negotiation from a single goroutine.
type Transport struct {
	pc   *webrtc.PeerConnection
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	negMu       sync.Mutex // serializes offer/answer application
	lastOffer   sdp.Origin
	appliedOnce bool
	pending     []webrtc.ICECandidateInit

	mu         sync.RWMutex
	dc         *webrtc.DataChannel
	senders    map[webrtc.RTPCodecType]*localSender
	onState    func(webrtc.PeerConnectionState)
	onTrack    func(kind webrtc.RTPCodecType, mimeType string)
	onChat     func([]byte)
	onChatOpen func()

	chatOpen atomic.Bool
}

type localSender struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

// New creates a Transport backed by a new PeerConnection. The Transport is
// closed by Close or when ctx is cancelled.
func New(ctx context.Context, opts Options) (*Transport, error) {
	opts.setDefaults()

	api, err := newAPI(opts)
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: opts.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	tCtx, tCancel := context.WithCancel(ctx)

	t := &Transport{
		pc:      pc,
		opts:    opts,
		ctx:     tCtx,
		cancel:  tCancel,
		senders: make(map[webrtc.RTPCodecType]*localSender),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state)
		t.mu.RLock()
		fn := t.onState
		t.mu.RUnlock()
		if fn != nil {
			fn(state)
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != chatLabel {
			util.LogDebug("ignoring data channel %q", dc.Label())
			return
		}
		t.bindChannel(dc)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.mu.RLock()
		fn := t.onTrack
		t.mu.RUnlock()
		if fn != nil {
			fn(track.Kind(), track.Codec().MimeType)
		}
		go drain(track)
	})

	go func() {
		<-tCtx.Done()
		_ = pc.Close()
	}()

	return t, nil
}

// drain consumes a remote track so interceptors keep producing feedback.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done is closed once the Transport is shut down locally, by Close or by the
// context passed to New.
func (t *Transport) Done() <-chan struct{} { return t.ctx.Done() }

// Close shuts down the chat channel and the PeerConnection.
func (t *Transport) Close() error {
	t.cancel()

	t.mu.RLock()
	dc := t.dc
	t.mu.RUnlock()

	var dcErr error
	if dc != nil {
		dcErr = dc.Close()
	}
	t.chatOpen.Store(false)
	return errors.Join(dcErr, t.pc.Close())
}

// SignalingState returns the current offer/answer state.
func (t *Transport) SignalingState() webrtc.SignalingState { return t.pc.SignalingState() }

// OnConnectionStateChange registers the connection-state handler.
func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

// OnTrack registers a handler for remote tracks. The track itself is drained
// by the Transport.
func (t *Transport) OnTrack(fn func(kind webrtc.RTPCodecType, mimeType string)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Local media
// ---------------------------------------------------------------------------

// AddLocalTracks attaches tracks to the connection, at most one per kind.
func (t *Transport) AddLocalTracks(tracks ...webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, track := range tracks {
		if _, ok := t.senders[track.Kind()]; ok {
			return fmt.Errorf("a %s track is already attached", track.Kind())
		}

		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		t.senders[track.Kind()] = &localSender{sender: sender, track: track}

		// RTCP must be read for the interceptors to work.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

// SetTrackEnabled detaches (mute) or reattaches the local track of kind on
// its sender. No renegotiation is needed.
func (t *Transport) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) error {
	t.mu.RLock()
	ls, ok := t.senders[kind]
	t.mu.RUnlock()
	if !ok {
		return ErrNoTrack
	}

	if enabled {
		return ls.sender.ReplaceTrack(ls.track)
	}
	return ls.sender.ReplaceTrack(nil)
}

// TrackEnabled reports whether the local track of kind is currently sent.
func (t *Transport) TrackEnabled(kind webrtc.RTPCodecType) bool {
	t.mu.RLock()
	ls, ok := t.senders[kind]
	t.mu.RUnlock()
	return ok && ls.sender.Track() != nil
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer creates an offer and applies it locally. restart requests new
// ICE credentials.
func (t *Transport) CreateOffer(restart bool) (webrtc.SessionDescription, error) {
	t.negMu.Lock()
	defer t.negMu.Unlock()

	switch t.pc.SignalingState() {
	case webrtc.SignalingStateStable, webrtc.SignalingStateHaveLocalOffer:
	default:
		return webrtc.SessionDescription{}, &NegotiationError{Op: "offer", Err: ErrOutOfState}
	}

	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: restart})
	if err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "offer", Err: err}
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "offer", Err: err}
	}
	return offer, nil
}

// HandleRemoteOffer applies a remote offer and returns the local answer.
// Offers are only accepted in "stable"; a re-delivered offer with the origin
// of the last applied one returns ErrDuplicateOffer and changes nothing.
func (t *Transport) HandleRemoteOffer(desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	origin, err := parseRemote(desc, webrtc.SDPTypeOffer)
	if err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "offer", Err: err}
	}

	t.negMu.Lock()
	defer t.negMu.Unlock()

	if t.appliedOnce && sameOrigin(origin, t.lastOffer) {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "offer", Err: ErrDuplicateOffer}
	}
	if state := t.pc.SignalingState(); state != webrtc.SignalingStateStable {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "offer", Err: fmt.Errorf("%w: %s", ErrOutOfState, state)}
	}

	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "offer", Err: err}
	}
	t.flushPending()

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "answer", Err: err}
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, &NegotiationError{Op: "answer", Err: err}
	}

	t.lastOffer = origin
	t.appliedOnce = true
	return answer, nil
}

// HandleRemoteAnswer applies a remote answer. Answers are only accepted in
// "have-local-offer".
func (t *Transport) HandleRemoteAnswer(desc webrtc.SessionDescription) error {
	if _, err := parseRemote(desc, webrtc.SDPTypeAnswer); err != nil {
		return &NegotiationError{Op: "answer", Err: err}
	}

	t.negMu.Lock()
	defer t.negMu.Unlock()

	if state := t.pc.SignalingState(); state != webrtc.SignalingStateHaveLocalOffer {
		return &NegotiationError{Op: "answer", Err: fmt.Errorf("%w: %s", ErrOutOfState, state)}
	}

	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return &NegotiationError{Op: "answer", Err: err}
	}
	t.flushPending()
	return nil
}

// LocalDescription returns the current local description, including the
// candidates gathered so far.
func (t *Transport) LocalDescription() *webrtc.SessionDescription { return t.pc.LocalDescription() }

// WaitGathering polls the gathering state until it completes, limit elapses
// or ctx ends. Only ctx produces an error; an incomplete gathering after limit
// is not a failure since candidates keep trickling.
func (t *Transport) WaitGathering(ctx context.Context, limit time.Duration) error {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	ticker := time.NewTicker(gatherPoll)
	defer ticker.Stop()

	for {
		if t.pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			util.LogDebug("ICE gathering still running after %s, proceeding", limit)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ---------------------------------------------------------------------------
// Candidates
// ---------------------------------------------------------------------------

// OnCandidate registers the handler for local candidates. Relay candidates
// are handed to fn a second time after RelayResendDelay.
func (t *Transport) OnCandidate(fn func(protocol.Candidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			util.LogDebug("ICE gathering complete")
			return
		}

		cand := toCandidate(c)
		util.Stats.AddCandidate()
		util.LogDebug("local candidate: %s/%s %s:%d", cand.Type, cand.Protocol, c.Address, c.Port)
		fn(cand)

		if cand.IsRelay() && t.opts.RelayResendDelay > 0 {
			time.AfterFunc(t.opts.RelayResendDelay, func() {
				if t.ctx.Err() == nil {
					fn(cand)
				}
			})
		}
	})
}

// AddRemoteCandidate adds a candidate received through signaling. Candidates
// that arrive before the remote description are queued and applied with it.
func (t *Transport) AddRemoteCandidate(c protocol.Candidate) error {
	t.negMu.Lock()
	defer t.negMu.Unlock()

	if t.pc.RemoteDescription() == nil {
		t.pending = append(t.pending, c.ICECandidateInit)
		return nil
	}
	if err := t.pc.AddICECandidate(c.ICECandidateInit); err != nil {
		return &NegotiationError{Op: "candidate", Err: err}
	}
	return nil
}

// flushPending applies queued candidates. Caller holds negMu.
func (t *Transport) flushPending() {
	for _, c := range t.pending {
		if err := t.pc.AddICECandidate(c); err != nil {
			util.LogWarning("failed to add queued candidate: %v", err)
		}
	}
	t.pending = nil
}

func toCandidate(c *webrtc.ICECandidate) protocol.Candidate {
	return protocol.Candidate{
		ICECandidateInit: c.ToJSON(),
		Type:             c.Typ.String(),
		Protocol:         c.Protocol.String(),
	}
}

// parseRemote validates the description type and SDP body and returns its
// origin line.
func parseRemote(desc webrtc.SessionDescription, want webrtc.SDPType) (sdp.Origin, error) {
	if desc.Type != want {
		return sdp.Origin{}, fmt.Errorf("expected %s, got %s", want, desc.Type)
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return sdp.Origin{}, fmt.Errorf("malformed SDP: %w", err)
	}
	return parsed.Origin, nil
}

func sameOrigin(a, b sdp.Origin) bool {
	return a.SessionID == b.SessionID && a.SessionVersion == b.SessionVersion
}
