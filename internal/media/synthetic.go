package media

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// SyntheticCapturer produces silent VP8/Opus tracks without touching any
// device. It lets a participant join from a headless host and negotiate real
// media sections.
type SyntheticCapturer struct {
	// NoVideo makes every video request fail, as if no camera were attached.
	NoVideo bool
}

// Capture implements Capturer.
func (c *SyntheticCapturer) Capture(ctx context.Context, cons Constraints) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cons.Video && c.NoVideo {
		return nil, ErrNoDevice
	}

	streamID := "synthetic-" + uuid.NewString()
	var tracks []Track

	if cons.Video {
		t, err := NewStaticTrack(webrtc.RTPCodecTypeVideo, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	if cons.Audio {
		t, err := NewStaticTrack(webrtc.RTPCodecTypeAudio, streamID)
		if err != nil {
			closeTracks(tracks)
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

// StaticTrack is a sample-based local track that records whether it was stopped.
type StaticTrack struct {
	*webrtc.TrackLocalStaticSample
	stopped atomic.Bool
}

// NewStaticTrack creates a VP8 (video) or Opus (audio) sample track.
func NewStaticTrack(kind webrtc.RTPCodecType, streamID string) (*StaticTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == webrtc.RTPCodecTypeVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	sample, err := webrtc.NewTrackLocalStaticSample(codec, kind.String()+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	return &StaticTrack{TrackLocalStaticSample: sample}, nil
}

// Close marks the track stopped.
func (t *StaticTrack) Close() error {
	t.stopped.Store(true)
	return nil
}

// Stopped reports whether Close was called.
func (t *StaticTrack) Stopped() bool { return t.stopped.Load() }
