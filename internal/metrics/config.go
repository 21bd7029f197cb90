package metrics

import (
	"time"

	"github.com/go-playground/validator/v10"

	"codeberg.org/mutker/racedash/internal/errors"
)

const (
	defaultAddr            = "127.0.0.1:9464"
	defaultStreamInterval  = 33 * time.Millisecond
	defaultShutdownTimeout = 5 * time.Second
)

var validate = validator.New()

// Config controls the HTTP read surface.
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
	// StreamInterval is how often /stream clients receive a snapshot.
	StreamInterval time.Duration `mapstructure:"stream_interval" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Addr:           defaultAddr,
		StreamInterval: defaultStreamInterval,
	}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.New().Wrap(ErrInvalidConfig, err)
	}

	return nil
}
