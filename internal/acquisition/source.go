package acquisition

import (
	"context"

	"codeberg.org/mutker/racedash/internal/signal"
)

// Source produces the next batch of channel values. Next is called from a
// single goroutine; implementations need no locking of their own.
type Source interface {
	// Next returns the values for one tick. An empty batch is valid and
	// leaves the buffer untouched.
	Next(ctx context.Context) (signal.Batch, error)
	Close() error
}

// Factory builds the Source described by cfg.
type Factory func(cfg Config) (Source, error)

// NewFactory returns a Factory that uses simulated for simulated
// configurations and opens a Hardware source through open otherwise.
func NewFactory(simulated func() Source, open DriverOpener, decoder Decoder) Factory {
	return func(cfg Config) (Source, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		if cfg.Simulate {
			return simulated(), nil
		}

		driver, err := open(cfg)
		if err != nil {
			return nil, err
		}

		return NewHardware(driver, decoder), nil
	}
}
