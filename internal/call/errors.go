package call

import (
	"errors"
	"fmt"
)

// ConnectivityFailureError is returned by Run when the peer connection could
// not be recovered within the restart budget.
type ConnectivityFailureError struct {
	Restarts int
	Last     string // last connection state observed
}

func (e *ConnectivityFailureError) Error() string {
	return fmt.Sprintf("connection failed after %d restart attempts (last state %s)", e.Restarts, e.Last)
}

var (
	// ErrNotReady is returned by commands issued before Run has set up the call.
	ErrNotReady = errors.New("call is not set up yet")

	errAlreadyRunning = errors.New("session already started")
)
