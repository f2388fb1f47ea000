//go:build !(linux && cgo)

package media

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// DeviceCapturer is unavailable on this platform: capture drivers need
// Linux and cgo. Every Capture call fails with ErrNoDevice.
type DeviceCapturer struct{}

// NewDeviceCapturer returns a capturer that reports no devices.
func NewDeviceCapturer() (*DeviceCapturer, error) {
	return &DeviceCapturer{}, nil
}

// RegisterCodecs registers pion's default codecs.
func (c *DeviceCapturer) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

// Capture implements Capturer.
func (c *DeviceCapturer) Capture(context.Context, Constraints) ([]Track, error) {
	return nil, fmt.Errorf("capture drivers not built in: %w", ErrNoDevice)
}
