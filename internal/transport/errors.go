package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfState is returned when a description arrives in a signaling
	// state that cannot accept it (an offer outside "stable", an answer
	// outside "have-local-offer"). Such messages are dropped.
	ErrOutOfState = errors.New("description not acceptable in current signaling state")

	// ErrDuplicateOffer marks a re-delivered offer that was already applied.
	ErrDuplicateOffer = errors.New("offer already applied")

	ErrNoTrack       = errors.New("no local track of that kind")
	ErrChannelClosed = errors.New("chat channel is not open")
	ErrChannelBusy   = errors.New("chat channel buffer is full")
)

// NegotiationError wraps a failed offer/answer/candidate step.
type NegotiationError struct {
	Op  string // "offer", "answer", "candidate"
	Err error
}

func (e *NegotiationError) Error() string { return fmt.Sprintf("negotiation %s: %v", e.Op, e.Err) }
func (e *NegotiationError) Unwrap() error { return e.Err }
