package supervisor

import "codeberg.org/mutker/racedash/internal/errors"

const (
	ErrAlreadyRunning = errors.ErrAlreadyRunning
	ErrStartSource    = errors.ErrStartSource
	ErrRestartSource  = errors.ErrRestartSource
	ErrShutdown       = errors.ErrorCode("supervisor_shut_down")
)
