package metrics

import "codeberg.org/mutker/racedash/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrRegister      = errors.ErrInitMetrics
	ErrServe         = errors.ErrServeMetrics
	ErrShutdown      = errors.ErrShutdownMetrics
)
