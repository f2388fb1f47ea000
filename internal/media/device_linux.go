//go:build linux && cgo

package media

import (
	"context"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// DeviceCapturer opens the camera (V4L2) and microphone (malgo) through
// pion/mediadevices and encodes them with VP8 + Opus.
type DeviceCapturer struct {
	selector *mediadevices.CodecSelector
}

// NewDeviceCapturer builds the VP8/Opus codec selector.
func NewDeviceCapturer() (*DeviceCapturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceCapturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// RegisterCodecs registers the encoder codecs on the PeerConnection's media
// engine so the SDP offers what the tracks actually produce.
func (c *DeviceCapturer) RegisterCodecs(m *webrtc.MediaEngine) error {
	c.selector.Populate(m)
	return nil
}

// Capture implements Capturer. Echo cancellation and noise suppression are
// not exposed by the mediadevices drivers and are ignored.
func (c *DeviceCapturer) Capture(ctx context.Context, cons Constraints) ([]Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := mediadevices.MediaStreamConstraints{Codec: c.selector}
	if cons.Video {
		req.Video = func(tc *mediadevices.MediaTrackConstraints) {
			if cons.Width > 0 && cons.Height > 0 {
				tc.Width = prop.Int(cons.Width)
				tc.Height = prop.Int(cons.Height)
			}
		}
	}
	if cons.Audio {
		req.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(req)
	if err != nil {
		return nil, err
	}

	var tracks []Track
	for _, t := range stream.GetTracks() {
		tracks = append(tracks, t)
	}
	return tracks, nil
}
