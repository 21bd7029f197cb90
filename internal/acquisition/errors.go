package acquisition

import (
	stderrors "errors"
	"io"
	"os"

	"codeberg.org/mutker/racedash/internal/errors"
)

const (
	ErrInvalidConfig     = errors.ErrInvalidConfig
	ErrInvalidState      = errors.ErrorCode("acquisition_invalid_state")
	ErrPersistentFailure = errors.ErrorCode("acquisition_persistent_failure")
	ErrTooManyFailures   = errors.ErrorCode("acquisition_too_many_failures")
	ErrTickPanic         = errors.ErrorCode("acquisition_tick_panic")
	ErrDecodeFrame       = errors.ErrorCode("acquisition_decode_failed")
	ErrOpenDriver        = errors.ErrorCode("acquisition_open_driver_failed")
)

// ErrDisconnected reports that the hardware link is gone.
var ErrDisconnected = stderrors.New("source disconnected")

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return "transient: " + e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

// Transient marks err as a failure that affects a single tick only.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &transientError{err: err}
}

// IsPersistent reports whether err means the source cannot produce data anymore.
// Errors explicitly marked Transient never are.
func IsPersistent(err error) bool {
	var t *transientError
	if errors.As(err, &t) {
		return false
	}

	return errors.Is(err, ErrDisconnected) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, os.ErrClosed)
}
