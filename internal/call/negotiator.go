package call

import (
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mentorcall/internal/protocol"
	"github.com/1ureka/mentorcall/internal/transport"
)

// Negotiator drives the offer/answer exchange for one role. Every method runs
// on the session loop.
type Negotiator interface {
	// Begin runs once before the rooms are joined.
	Begin() error
	// RoomReady reports that the call room is joined; viaParticipant is set
	// when the signal came from a participant_joined notice.
	RoomReady(viaParticipant bool)
	HandleOffer(msg protocol.Offer)
	HandleAnswer(msg protocol.Answer)
	// Restart asks for an ICE restart. Only the initiator acts on it.
	Restart()
}

func newNegotiator(s *Session) Negotiator {
	if s.cfg.User.Role.IsInitiator() {
		return &Initiator{s: s}
	}
	return &Responder{s: s}
}

// Initiator is the mentor side: it owns the chat channel and sends offers.
type Initiator struct {
	s *Session

	scheduled bool // an offer is queued or in flight
	sent      bool // an offer went out for the current negotiation
}

func (n *Initiator) Begin() error {
	return n.s.transport().CreateDataChannel()
}

func (n *Initiator) RoomReady(viaParticipant bool) {
	if n.sent && viaParticipant {
		// The peer joined after the offer went out and never saw it.
		n.s.after(n.s.timing.ParticipantDelay, func() {
			if n.s.transport().SignalingState() == webrtc.SignalingStateHaveLocalOffer {
				n.send()
			}
		})
		return
	}
	if n.scheduled || n.sent {
		n.s.log.Debug("offer already sent, ignoring room readiness")
		return
	}
	n.scheduled = true

	delay := n.s.timing.OfferDelay
	if viaParticipant {
		delay += n.s.timing.ParticipantDelay
	}
	n.s.after(delay, func() { n.offer(false) })
}

func (n *Initiator) Restart() {
	n.s.log.Info("issuing ICE restart")
	n.offer(true)
}

// offer creates and applies the local offer, then waits for gathering off
// the loop and sends the description with the candidates found so far.
func (n *Initiator) offer(restart bool) {
	s := n.s
	if s.State().Terminal() {
		return
	}

	tr := s.transport()
	if _, err := tr.CreateOffer(restart); err != nil {
		s.log.Warning("failed to create offer: %v", err)
		n.scheduled = false
		return
	}

	go func() {
		if err := tr.WaitGathering(s.ctx, s.timing.GatherTimeout); err != nil {
			return
		}
		s.post(func() { n.send() })
	}()
}

func (n *Initiator) send() {
	s := n.s
	local := s.transport().LocalDescription()
	if local == nil {
		n.scheduled = false
		return
	}

	err := s.sig.Send(protocol.EventOffer, protocol.Offer{
		CallID: s.callID,
		Offer:  *local,
		From:   s.self,
		Role:   s.cfg.User.Role,
	})
	if err != nil {
		s.log.Warning("failed to send offer: %v", err)
		n.scheduled = false
		return
	}

	n.sent = true
	s.log.Info("offer sent")
}

func (n *Initiator) HandleOffer(protocol.Offer) {
	n.s.log.Warning("ignoring offer: this side initiates")
}

func (n *Initiator) HandleAnswer(msg protocol.Answer) {
	s := n.s
	if err := s.transport().HandleRemoteAnswer(msg.Answer); err != nil {
		if errors.Is(err, transport.ErrOutOfState) {
			s.log.Debug("dropping answer: %v", err)
			return
		}
		s.log.Warning("failed to apply answer: %v", err)
		n.scheduled, n.sent = false, false
		return
	}
	s.log.Info("answer applied")
}

// Responder is the mentee side: it answers offers and never initiates.
type Responder struct {
	s *Session

	answered bool
}

func (n *Responder) Begin() error {
	s := n.s
	s.after(s.timing.OfferWatchdog, func() {
		if !n.answered && s.transport().SignalingState() == webrtc.SignalingStateStable {
			s.warn("no offer received after %s, still waiting for the mentor", s.timing.OfferWatchdog)
		}
	})
	return nil
}

func (n *Responder) RoomReady(bool) {}

func (n *Responder) Restart() {
	n.s.log.Debug("waiting for the initiator's restart offer")
}

func (n *Responder) HandleOffer(msg protocol.Offer) {
	s := n.s
	tr := s.transport()
	answer, err := tr.HandleRemoteOffer(msg.Offer)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrDuplicateOffer) && !n.answered && tr.LocalDescription() != nil:
		// Applied before but the answer never left; send it again.
		answer = *tr.LocalDescription()
	case errors.Is(err, transport.ErrDuplicateOffer), errors.Is(err, transport.ErrOutOfState):
		s.log.Debug("dropping offer: %v", err)
		return
	default:
		s.log.Warning("failed to apply offer: %v", err)
		return
	}

	err = s.sig.Send(protocol.EventAnswer, protocol.Answer{
		CallID: s.callID,
		Answer: answer,
		From:   s.self,
		Role:   s.cfg.User.Role,
	})
	if err != nil {
		s.log.Warning("failed to send answer: %v", err)
		return
	}

	n.answered = true
	s.log.Info("answer sent")
}

func (n *Responder) HandleAnswer(protocol.Answer) {
	n.s.log.Debug("ignoring answer: this side responds")
}
