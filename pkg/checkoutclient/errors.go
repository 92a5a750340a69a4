package checkoutclient

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongState is returned when an operation is not legal in the
	// session's current state.
	ErrWrongState = errors.New("checkoutclient: operation not allowed in current state")

	// ErrRequeued is returned when the server invalidated the ticket and
	// the session fell back to IDLE.  The caller decides whether to Join
	// again.
	ErrRequeued = errors.New("checkoutclient: ticket invalidated, rejoin the queue")

	// ErrNotAdmitted is returned by challenge operations while the ticket
	// is still waiting.
	ErrNotAdmitted = errors.New("checkoutclient: ticket not yet admitted")
)

// APIError carries a non-2xx server response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("checkoutclient: server returned %d: %s", e.Status, e.Message)
}

// IsConflict reports whether the error is an APIError with a 409 status,
// such as joining a queue the client is already in.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == 409
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}
