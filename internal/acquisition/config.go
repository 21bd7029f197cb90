package acquisition

import (
	"github.com/go-playground/validator/v10"

	"codeberg.org/mutker/racedash/internal/errors"
)

var validate = validator.New()

const (
	ModeSimulated = "simulated"
	ModeHardware  = "hardware"
)

// Config selects and parameterizes a worker's source. It is immutable for the
// lifetime of a worker; a new configuration means a new worker.
type Config struct {
	Simulate bool   `json:"simulate" mapstructure:"simulate"`
	Port     string `json:"port" mapstructure:"port" validate:"required_if=Simulate false"`
	Baud     int    `json:"baud" mapstructure:"baud" validate:"required_if=Simulate false,gte=0"`
}

// Validate checks the hardware connection parameters. Simulated
// configurations need neither a port nor a baud rate.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.New().Wrap(ErrInvalidConfig, err)
	}

	return nil
}

// Mode returns ModeSimulated or ModeHardware.
func (c Config) Mode() string {
	if c.Simulate {
		return ModeSimulated
	}

	return ModeHardware
}
