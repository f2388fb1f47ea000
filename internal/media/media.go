// Package media acquires local camera/microphone tracks for a call with a
// descending-quality fallback, and enforces exclusive device ownership
// through leases.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mentorcall/internal/util"
)

// Track is a local media track that can be bound to a PeerConnection and
// stopped. pion/mediadevices tracks satisfy it.
type Track interface {
	webrtc.TrackLocal
	Close() error
}

// Tier is one step of the capture fallback chain.
type Tier int

const (
	TierHD Tier = iota
	TierStandard
	TierBasic
	TierAudioOnly
)

// Tiers is the fixed fallback order.
var Tiers = []Tier{TierHD, TierStandard, TierBasic, TierAudioOnly}

func (t Tier) String() string {
	switch t {
	case TierHD:
		return "hd"
	case TierStandard:
		return "standard"
	case TierBasic:
		return "basic"
	case TierAudioOnly:
		return "audio-only"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Constraints describes what a capture attempt asks the devices for.
// Zero Width/Height means any resolution.
type Constraints struct {
	Video            bool
	Width, Height    int
	Audio            bool
	EchoCancellation bool
	NoiseSuppression bool
}

// Constraints returns the capture request for this tier.
func (t Tier) Constraints() Constraints {
	switch t {
	case TierHD:
		return Constraints{Video: true, Width: 1280, Height: 720, Audio: true, EchoCancellation: true, NoiseSuppression: true}
	case TierStandard:
		return Constraints{Video: true, Width: 640, Height: 480, Audio: true}
	case TierBasic:
		return Constraints{Video: true, Audio: true}
	default:
		return Constraints{Audio: true}
	}
}

// Capturer opens local devices.
type Capturer interface {
	Capture(ctx context.Context, c Constraints) ([]Track, error)
}

// Stream is the set of local tracks owned by one call.
type Stream struct {
	Tier   Tier
	tracks []Track
}

// Tracks returns every local track.
func (s *Stream) Tracks() []Track { return s.tracks }

// AudioOnly reports whether the camera could not be opened.
func (s *Stream) AudioOnly() bool { return s.Track(webrtc.RTPCodecTypeVideo) == nil }

// Track returns the first track of the given kind, or nil.
func (s *Stream) Track(kind webrtc.RTPCodecType) Track {
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Acquire walks the fallback tiers in order. Every failed tier is logged and
// the next is attempted exactly once; the acquired tracks are bound to lease.
// If every tier fails a *MediaUnavailableError classified from the last
// failure is returned and nothing is left open.
func Acquire(ctx context.Context, lease *Lease, capturer Capturer) (*Stream, error) {
	var lastErr error

	for _, tier := range Tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tracks, err := capturer.Capture(ctx, tier.Constraints())
		if err == nil && len(tracks) == 0 {
			err = ErrNoDevice
		}
		if err != nil {
			closeTracks(tracks)
			lastErr = err
			util.LogWarning("%s media constraints failed: %v", tier, err)
			continue
		}

		if err := lease.Bind(tracks); err != nil {
			return nil, err
		}

		util.LogSuccess("%s media access successful (%d tracks)", tier, len(tracks))
		return &Stream{Tier: tier, tracks: tracks}, nil
	}

	return nil, &MediaUnavailableError{Cause: Classify(lastErr), Err: lastErr}
}

// closeTracks stops every track, ignoring errors.
func closeTracks(tracks []Track) error {
	var errs []error
	for _, t := range tracks {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s track: %w", t.Kind(), err))
		}
	}
	return errors.Join(errs...)
}
