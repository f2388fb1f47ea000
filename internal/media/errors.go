package media

import (
	"errors"
	"fmt"
	"strings"
)

// Cause classifies why local media could not be acquired.
type Cause string

const (
	CausePermissionDenied Cause = "permission-denied"
	CauseDeviceBusy       Cause = "device-busy"
	CauseNoDevice         Cause = "no-device"
	CauseUnknown          Cause = "unknown"
)

// Sentinels capturers wrap so Classify does not have to guess.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceBusy       = errors.New("device busy")
	ErrNoDevice         = errors.New("no capture device")
	ErrLeaseRevoked     = errors.New("device lease revoked")
)

// MediaUnavailableError is returned when every fallback tier failed.
type MediaUnavailableError struct {
	Cause Cause
	Err   error
}

func (e *MediaUnavailableError) Error() string {
	return fmt.Sprintf("media unavailable (%s): %v", e.Cause, e.Err)
}

func (e *MediaUnavailableError) Unwrap() error { return e.Err }

// Hint returns a user-facing explanation for the cause.
func (e *MediaUnavailableError) Hint() string {
	switch e.Cause {
	case CausePermissionDenied:
		return "camera/microphone access denied; allow device permissions and retry"
	case CauseDeviceBusy:
		return "camera/microphone is used by another application; close other video apps and retry"
	case CauseNoDevice:
		return "no camera/microphone found; connect a device and retry"
	}
	return "failed to access camera/microphone"
}

// Classify maps a capture error to a Cause. Wrapped sentinels win; otherwise
// the OS/driver message is matched against well-known phrases.
func Classify(err error) Cause {
	switch {
	case err == nil:
		return CauseUnknown
	case errors.Is(err, ErrPermissionDenied):
		return CausePermissionDenied
	case errors.Is(err, ErrDeviceBusy):
		return CauseDeviceBusy
	case errors.Is(err, ErrNoDevice):
		return CauseNoDevice
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "permission", "not allowed", "notallowed", "operation not permitted"):
		return CausePermissionDenied
	case containsAny(msg, "busy", "in use", "not readable", "notreadable"):
		return CauseDeviceBusy
	case containsAny(msg, "not found", "notfound", "no such", "failed to find", "no device"):
		return CauseNoDevice
	}
	return CauseUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
