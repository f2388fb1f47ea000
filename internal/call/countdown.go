package call

import "time"

// Countdown is the call's remaining time in whole seconds. It is owned by the
// session loop and not safe for concurrent use.
type Countdown struct {
	budget int
	every  int
	left   int
}

// NewCountdown starts a countdown at budget. A sync is due whenever the
// remaining time is a positive multiple of every.
func NewCountdown(budget time.Duration, every int) *Countdown {
	secs := int(budget / time.Second)
	if every <= 0 {
		every = 10
	}
	return &Countdown{budget: secs, every: every, left: secs}
}

// Left returns the remaining seconds.
func (c *Countdown) Left() int { return c.left }

// Sync derives the remaining time from the backend's start time,
// max(0, budget - elapsed), and keeps it only if it is not above the current
// value. A start time in the future counts as zero elapsed.
func (c *Countdown) Sync(startedAt, now time.Time) int {
	elapsed := int(now.Sub(startedAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	c.left = min(c.left, max(0, c.budget-elapsed))
	return c.left
}

// Adopt takes a peer's remaining time if it is lower than ours, so both
// sides converge and the displayed value never goes up.
func (c *Countdown) Adopt(remote int) bool {
	if remote < 0 || remote >= c.left {
		return false
	}
	c.left = remote
	return true
}

// Tick advances one second. broadcast is set when the new value should be
// sent to the peer; expired is set once the countdown reaches zero.
func (c *Countdown) Tick() (left int, broadcast, expired bool) {
	if c.left > 0 {
		c.left--
	}
	return c.left, c.left > 0 && c.left%c.every == 0, c.left == 0
}
