package telemetry

import (
	"time"

	"github.com/go-playground/validator/v10"

	"codeberg.org/mutker/racedash/internal/errors"
)

const (
	defaultDirPerm       = 0o755
	defaultDBPath        = "/var/lib/racedash/telemetry.db"
	defaultInterval      = 100 * time.Millisecond
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
)

var validate = validator.New()

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	DBPath        string        `mapstructure:"db_path" validate:"required_if=Enabled true"`
	Interval      time.Duration `mapstructure:"interval" validate:"gt=0"`
	BatchSize     int           `mapstructure:"batch_size" validate:"gt=0"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gt=0"`
	// BackupDir defaults to a backups directory next to the database.
	BackupDir string `mapstructure:"backup_dir"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		DBPath:        defaultDBPath,
		Interval:      defaultInterval,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
	}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.New().Wrap(ErrInvalidConfig, err)
	}

	return nil
}
