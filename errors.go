package uthread

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by library-misuse failures (spec §7: state is
// left unchanged, the call returns -1/an error, nothing is fatal).
var (
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrInvalidQuantum     = errors.New("quantum_usec must be positive")
	ErrNilEntry           = errors.New("entry point is nil")
	ErrThreadTableFull    = errors.New("thread table is full")
	ErrInvalidTID         = errors.New("invalid thread id")
	ErrMainThreadBlock    = errors.New("the main thread (tid 0) cannot be blocked")
	ErrMainThreadSleep    = errors.New("the main thread (tid 0) cannot sleep")
	ErrInvalidSleepCount  = errors.New("sleep count must be positive")
	ErrNotInitialized     = errors.New("scheduler not initialized")
)

// misuseError wraps a sentinel with the offending call for logging,
// matching the corpus's fmt.Errorf("%s: %w", ...) wrapping idiom.
func misuseError(call string, err error) error {
	return fmt.Errorf("uthread: %s: %w", call, err)
}

// fatalError reports a failure of an underlying OS primitive. Per spec §7
// these are not recoverable: the caller logs it with the "system error:"
// prefix and exits the process.
type fatalError struct {
	op  string
	err error
}

func (e *fatalError) Error() string {
	return fmt.Sprintf("%s: %s", e.op, e.err)
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func newFatalError(op string, err error) *fatalError {
	return &fatalError{op: op, err: err}
}
