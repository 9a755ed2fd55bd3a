package daemon

import "errors"

// Non-fatal outcomes of the lifecycle operations. Callers decide how to
// report them; none of them means the operation failed.
var (
	// ErrAlreadyRunning is returned by Start and Detach while a liveness flag exists.
	ErrAlreadyRunning = errors.New("logging is already running")
	// ErrNotRunning is returned by Stop when there is no liveness flag.
	ErrNotRunning = errors.New("logging is not currently running")
	// ErrProcessGone is returned by Stop when the recorded process no longer
	// exists. The flag has been cleaned up regardless.
	ErrProcessGone = errors.New("process not found")
)

// reportedError marks a failure the controller has already shown on the
// console.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// Reported tells whether err was already shown to the operator.
func Reported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}
