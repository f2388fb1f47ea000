package media

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// scriptedCapturer fails the first `failures` attempts with err and records
// every constraint it was asked for.
type scriptedCapturer struct {
	failures int
	err      error
	calls    []Constraints
	partial  []*StaticTrack // tracks returned alongside failures
}

func (c *scriptedCapturer) Capture(ctx context.Context, cons Constraints) ([]Track, error) {
	c.calls = append(c.calls, cons)
	if len(c.calls) <= c.failures {
		// Hand back a half-opened track together with the error; Acquire
		// must stop it.
		t, _ := NewStaticTrack(webrtc.RTPCodecTypeAudio, "partial")
		c.partial = append(c.partial, t)
		return []Track{t}, c.err
	}
	return (&SyntheticCapturer{}).Capture(ctx, cons)
}

func TestAcquireFallbackOrder(t *testing.T) {
	for failures := 0; failures < len(Tiers); failures++ {
		t.Run(fmt.Sprintf("%d failures", failures), func(t *testing.T) {
			devices := NewDevices()
			lease, err := devices.Lease(context.Background())
			if err != nil {
				t.Fatalf("Lease failed: %v", err)
			}
			defer lease.Release()

			capt := &scriptedCapturer{failures: failures, err: ErrDeviceBusy}
			stream, err := Acquire(context.Background(), lease, capt)
			if err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}

			if len(capt.calls) != failures+1 {
				t.Fatalf("got %d attempts, want %d", len(capt.calls), failures+1)
			}
			for i, cons := range capt.calls {
				if cons != Tiers[i].Constraints() {
					t.Errorf("attempt %d used %+v, want %s constraints", i, cons, Tiers[i])
				}
			}
			if stream.Tier != Tiers[failures] {
				t.Errorf("stream tier = %s, want %s", stream.Tier, Tiers[failures])
			}
			if got := stream.AudioOnly(); got != (stream.Tier == TierAudioOnly) {
				t.Errorf("AudioOnly = %v for tier %s", got, stream.Tier)
			}
			for _, p := range capt.partial {
				if !p.Stopped() {
					t.Error("partial track from failed tier left open")
				}
			}
		})
	}
}

func TestAcquireExhausted(t *testing.T) {
	testCases := []struct {
		err  error
		want Cause
	}{
		{ErrPermissionDenied, CausePermissionDenied},
		{fmt.Errorf("open /dev/video0: %w", ErrDeviceBusy), CauseDeviceBusy},
		{errors.New("failed to find the best driver that fits the constraints"), CauseNoDevice},
		{errors.New("something odd"), CauseUnknown},
	}

	for _, tc := range testCases {
		t.Run(string(tc.want), func(t *testing.T) {
			lease, _ := NewDevices().Lease(context.Background())
			defer lease.Release()

			capt := &scriptedCapturer{failures: len(Tiers), err: tc.err}
			stream, err := Acquire(context.Background(), lease, capt)
			if stream != nil {
				t.Fatal("expected no stream")
			}

			var mu *MediaUnavailableError
			if !errors.As(err, &mu) {
				t.Fatalf("expected MediaUnavailableError, got %v", err)
			}
			if mu.Cause != tc.want {
				t.Errorf("cause = %s, want %s", mu.Cause, tc.want)
			}
			if len(capt.calls) != len(Tiers) {
				t.Errorf("got %d attempts, want %d", len(capt.calls), len(Tiers))
			}
			for _, p := range capt.partial {
				if !p.Stopped() {
					t.Error("partial track left open")
				}
			}
		})
	}
}

func TestAcquireCancelled(t *testing.T) {
	lease, _ := NewDevices().Lease(context.Background())
	defer lease.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Acquire(ctx, lease, &SyntheticCapturer{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSyntheticCapturerWithoutCamera(t *testing.T) {
	lease, _ := NewDevices().Lease(context.Background())
	defer lease.Release()

	stream, err := Acquire(context.Background(), lease, &SyntheticCapturer{NoVideo: true})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if stream.Tier != TierAudioOnly || !stream.AudioOnly() {
		t.Errorf("expected audio-only stream, got %s", stream.Tier)
	}
	if stream.Track(webrtc.RTPCodecTypeAudio) == nil {
		t.Error("missing audio track")
	}
}

// TestLeaseStopBeforeAcquire verifies that a new lease stops the tracks of a
// lease whose call never tore down.
func TestLeaseStopBeforeAcquire(t *testing.T) {
	devices := NewDevices()
	devices.settle = time.Millisecond

	first, err := devices.Lease(context.Background())
	if err != nil {
		t.Fatalf("Lease failed: %v", err)
	}
	stream, err := Acquire(context.Background(), first, &SyntheticCapturer{})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	second, err := devices.Lease(context.Background())
	if err != nil {
		t.Fatalf("second Lease failed: %v", err)
	}

	for _, tr := range stream.Tracks() {
		if !tr.(*StaticTrack).Stopped() {
			t.Errorf("stale %s track still running", tr.Kind())
		}
	}

	// Binding to the revoked lease stops the new tracks at once.
	late, _ := NewStaticTrack(webrtc.RTPCodecTypeAudio, "late")
	if err := first.Bind([]Track{late}); !errors.Is(err, ErrLeaseRevoked) {
		t.Errorf("expected ErrLeaseRevoked, got %v", err)
	}
	if !late.Stopped() {
		t.Error("late track not stopped")
	}

	// Releasing the stale lease must not free the devices held by the new one.
	first.Release()
	if !devices.Active() {
		t.Error("stale release freed the active lease")
	}

	second.Release()
	second.Release()
	if devices.Active() {
		t.Error("devices still leased after release")
	}
}
