package media

import (
	"context"
	"sync"
	"time"

	"github.com/1ureka/mentorcall/internal/util"
)

// releaseSettle gives the OS time to free devices after stale tracks stop.
const releaseSettle = 500 * time.Millisecond

// Devices guards the local capture devices. At most one Lease is active at a
// time; it is the only shared mutable state between call sessions.
type Devices struct {
	mu     sync.Mutex
	active *Lease
	settle time.Duration
}

// NewDevices returns an idle device guard.
func NewDevices() *Devices {
	return &Devices{settle: releaseSettle}
}

// Lease grants exclusive use of the capture devices. If a previous lease is
// still active (its call has not finished tearing down) it is revoked first:
// its tracks are stopped and the call waits briefly for devices to settle.
func (d *Devices) Lease(ctx context.Context) (*Lease, error) {
	d.mu.Lock()
	stale := d.active
	l := &Lease{owner: d}
	d.active = l
	d.mu.Unlock()

	if stale == nil {
		return l, nil
	}

	n := stale.revoke()
	util.LogWarning("stopped %d tracks held by a previous call", n)

	select {
	case <-time.After(d.settle):
		return l, nil
	case <-ctx.Done():
		l.Release()
		return nil, ctx.Err()
	}
}

// Active reports whether some lease currently owns the devices.
func (d *Devices) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active != nil
}

// Lease is an ownership token for the capture devices. Tracks bound to it
// are stopped when it is released or revoked.
type Lease struct {
	owner *Devices

	mu      sync.Mutex
	tracks  []Track
	revoked bool
}

// Bind attaches tracks to the lease. If the lease was already revoked or
// released the tracks are stopped immediately and ErrLeaseRevoked is returned.
func (l *Lease) Bind(tracks []Track) error {
	l.mu.Lock()
	if l.revoked {
		l.mu.Unlock()
		closeTracks(tracks)
		return ErrLeaseRevoked
	}
	l.tracks = append(l.tracks, tracks...)
	l.mu.Unlock()
	return nil
}

// Release stops every bound track and frees the devices. Idempotent.
func (l *Lease) Release() error {
	l.owner.mu.Lock()
	if l.owner.active == l {
		l.owner.active = nil
	}
	l.owner.mu.Unlock()

	l.mu.Lock()
	tracks := l.tracks
	l.tracks = nil
	l.revoked = true
	l.mu.Unlock()

	return closeTracks(tracks)
}

// revoke stops the bound tracks without touching the owner (the owner has
// already handed the devices to a newer lease). Returns the number stopped.
func (l *Lease) revoke() int {
	l.mu.Lock()
	tracks := l.tracks
	l.tracks = nil
	l.revoked = true
	l.mu.Unlock()

	closeTracks(tracks)
	return len(tracks)
}
