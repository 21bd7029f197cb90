package acquisition

import (
	"context"
	"fmt"

	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/signal"
)

// Driver reads raw frames from a hardware link.
type Driver interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// Decoder turns one frame into channel values.
type Decoder interface {
	Decode(frame []byte) (signal.Batch, error)
}

// DriverOpener connects to the hardware described by cfg.
type DriverOpener func(cfg Config) (Driver, error)

// Hardware reads one frame per tick and decodes it.
type Hardware struct {
	driver  Driver
	decoder Decoder
}

func NewHardware(driver Driver, decoder Decoder) *Hardware {
	return &Hardware{
		driver:  driver,
		decoder: decoder,
	}
}

// Next reads and decodes a single frame. Read errors are returned as is so
// the worker can classify them; decode errors and out-of-range values are
// always transient.
func (h *Hardware) Next(ctx context.Context) (signal.Batch, error) {
	frame, err := h.driver.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}

	batch, err := h.decoder.Decode(frame)
	if err != nil {
		return nil, Transient(errors.New().Wrap(ErrDecodeFrame, err))
	}

	for c, value := range batch {
		if !c.Range().Contains(value) {
			return nil, Transient(errors.New().WithData(ErrDecodeFrame,
				fmt.Sprintf("%s=%g outside [%g, %g]", c, value, c.Range().Min, c.Range().Max)))
		}
	}

	return batch, nil
}

func (h *Hardware) Close() error {
	return h.driver.Close()
}
