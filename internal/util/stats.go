package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/chat counter.
var Stats = &stats{}

type stats struct {
	SignalSent atomic.Int64 // signaling envelopes written to the relay
	SignalRecv atomic.Int64 // signaling envelopes accepted after filtering
	Candidates atomic.Int64 // local ICE candidates forwarded
	ChatSent   atomic.Int64 // chat messages appended locally
	ChatRecv   atomic.Int64 // chat messages received from the peer
}

func (s *stats) AddSignalSent() { s.SignalSent.Add(1) }
func (s *stats) AddSignalRecv() { s.SignalRecv.Add(1) }
func (s *stats) AddCandidate()  { s.Candidates.Add(1) }
func (s *stats) AddChatSent()   { s.ChatSent.Add(1) }
func (s *stats) AddChatRecv()   { s.ChatRecv.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	signalSent, signalRecv, candidates, chatSent, chatRecv int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		signalSent: s.SignalSent.Load(),
		signalRecv: s.SignalRecv.Load(),
		candidates: s.Candidates.Load(),
		chatSent:   s.ChatSent.Load(),
		chatRecv:   s.ChatRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics
// every 10 seconds while anything changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Debug(formatStats(prev, cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns the delta between two snapshots for display in the logger.
func formatStats(prev, cur snapshot) string {
	return fmt.Sprintf("Signal: %3d↑ %3d↓ | ICE: %3d | Chat: %2d↑ %2d↓",
		cur.signalSent-prev.signalSent,
		cur.signalRecv-prev.signalRecv,
		cur.candidates-prev.candidates,
		cur.chatSent-prev.chatSent,
		cur.chatRecv-prev.chatRecv,
	)
}

// FormatClock renders a countdown in seconds as m:ss.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
