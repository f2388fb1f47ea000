package util

import (
	"fmt"
	"testing"
)

func TestFormatClock(t *testing.T) {
	testCases := []struct {
		seconds int
		want    string
	}{
		{600, "10:00"},
		{599, "9:59"},
		{61, "1:01"},
		{9, "0:09"},
		{0, "0:00"},
		{-3, "0:00"},
	}

	for _, tc := range testCases {
		if got := FormatClock(tc.seconds); got != tc.want {
			t.Errorf("FormatClock(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestFormatStatsDelta(t *testing.T) {
	prev := snapshot{signalSent: 10, signalRecv: 4, candidates: 2, chatSent: 1, chatRecv: 0}
	cur := snapshot{signalSent: 15, signalRecv: 9, candidates: 6, chatSent: 3, chatRecv: 2}

	want := "Signal:   5↑   5↓ | ICE:   4 | Chat:  2↑  2↓"
	if got := formatStats(prev, cur); got != want {
		t.Errorf("formatStats = %q, want %q", got, want)
	}
}

func TestPionLoggerFactoryScopes(t *testing.T) {
	logger := NewPionLoggerFactory().NewLogger("ice")
	pl, ok := logger.(*pionLogger)
	if !ok {
		t.Fatalf("unexpected logger type %T", logger)
	}
	if got := pl.tag("gathering"); got != "pion/ice: gathering" {
		t.Errorf("tag = %q", got)
	}
	// Must not panic at any level.
	logger.Trace("t")
	logger.Debugf("%d", 1)
	logger.Info("i")
	logger.Warnf("w %s", "x")
	logger.Error("e")
}

func TestPrefixedLoggerKeepsPercentInPrefix(t *testing.T) {
	testCases := []struct {
		prefix string
		format string
		args   []interface{}
		want   string
	}{
		{"[call 42]", "joined %s", []interface{}{"room"}, "[call 42] joined room"},
		{"[call 100%]", "left %d", []interface{}{3}, "[call 100%] left 3"},
		{"[call %s%d]", "no args", nil, "[call %s%d] no args"},
	}

	for _, tc := range testCases {
		t.Run(tc.prefix, func(t *testing.T) {
			f, a := Prefixed(tc.prefix).tag(tc.format, tc.args)
			if got := fmt.Sprintf(f, a...); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
