package publish

import (
	"time"

	"github.com/go-playground/validator/v10"

	"codeberg.org/mutker/racedash/internal/errors"
)

const (
	defaultURL           = "nats://127.0.0.1:4222"
	defaultSubject       = "racedash.snapshot"
	defaultInterval      = 100 * time.Millisecond
	defaultReconnectWait = 2 * time.Second
)

var validate = validator.New()

type Config struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url" validate:"required_if=Enabled true"`
	Subject  string        `mapstructure:"subject" validate:"required"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		URL:      defaultURL,
		Subject:  defaultSubject,
		Interval: defaultInterval,
	}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.New().Wrap(ErrInvalidConfig, err)
	}

	return nil
}
