package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/racedash/internal/config"
	"codeberg.org/mutker/racedash/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "racedash.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
history_size = 250
tick_interval = "5ms"
stop_timeout = "1s"
monitor = true

[can]
enabled = true
simulate = false
port = "/dev/ttyUSB0"
baud = 500000

[sensors]
enabled = false

[http]
addr = "0.0.0.0:9000"

[telemetry]
enabled = true
db_path = "/path/to/telemetry.db"
batch_size = 20
`)
	t.Setenv("RACEDASH_CONFIG", path)

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250, cfg.HistorySize)
	assert.Equal(t, 5*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, time.Second, cfg.StopTimeout)
	assert.True(t, cfg.Monitor)
	assert.False(t, cfg.CAN.Simulate)
	assert.Equal(t, "/dev/ttyUSB0", cfg.CAN.Port)
	assert.Equal(t, 500000, cfg.CAN.Baud)
	assert.False(t, cfg.Sensors.Enabled)
	assert.Equal(t, "0.0.0.0:9000", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.Enabled, "unset keys keep defaults")
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "/path/to/telemetry.db", cfg.Telemetry.DBPath)
	assert.Equal(t, 20, cfg.Telemetry.BatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Telemetry.Interval)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RACEDASH_CONFIG", "")

	cfg, err := config.Load(config.WithArgs(nil))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultConfig(), cfg)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, 100, cfg.HistorySize)
	assert.Equal(t, 500*time.Millisecond, cfg.StopTimeout)
	assert.Equal(t, 5, cfg.MaxConsecutiveErrors)
	assert.True(t, cfg.CAN.Simulate)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, `
This is not a valid TOML file
`)

	_, err := config.Load(config.WithConfigFile(path), config.WithArgs(nil))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
	assert.Contains(t, err.Error(), "Failed to read configuration")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := config.Load(config.WithConfigFile(filepath.Join(t.TempDir(), "nope.toml")), config.WithArgs(nil))

	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
log_level = "invalid"
`)

	_, err := config.Load(config.WithConfigFile(path), config.WithArgs(nil))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestHardwareSourceRequiresPort(t *testing.T) {
	path := writeConfig(t, `
[can]
simulate = false
baud = 500000
`)

	_, err := config.Load(config.WithConfigFile(path), config.WithArgs(nil))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "Invalid can source")
}

func TestDisabledSourceIsNotValidated(t *testing.T) {
	path := writeConfig(t, `
[sensors]
enabled = false
simulate = false
`)

	_, err := config.Load(config.WithConfigFile(path), config.WithArgs(nil))
	assert.NoError(t, err)
}

func TestFlagsOverrideFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log_level = "error"

[can]
port = "/dev/ttyS0"
`)
	t.Setenv("RACEDASH_LOG_LEVEL", "warning")
	t.Setenv("RACEDASH_CAN_BAUD", "250000")

	cfg, err := config.Load(
		config.WithConfigFile(path),
		config.WithArgs([]string{"--log-level", "debug", "--simulate=false", "--telemetry"}),
	)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.CAN.Simulate)
	assert.Equal(t, "/dev/ttyS0", cfg.CAN.Port)
	assert.Equal(t, 250000, cfg.CAN.Baud)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "error"
`)
	t.Setenv("RACEDASH_LOG_LEVEL", "warning")

	cfg, err := config.Load(config.WithConfigFile(path), config.WithArgs(nil))
	require.NoError(t, err)
	assert.Equal(t, "warning", cfg.LogLevel)
}

func TestUnknownFlag(t *testing.T) {
	t.Setenv("RACEDASH_CONFIG", "")

	_, err := config.Load(config.WithArgs([]string{"--fanspeed", "80"}))
	assert.True(t, errors.HasCode(err, errors.ErrBindFlags))
}

func TestPublishFlags(t *testing.T) {
	t.Setenv("RACEDASH_CONFIG", "")

	cfg, err := config.Load(config.WithArgs([]string{"--publish", "--nats-url", "nats://pit:4222"}))
	require.NoError(t, err)
	assert.True(t, cfg.Publish.Enabled)
	assert.Equal(t, "nats://pit:4222", cfg.Publish.URL)
	assert.Equal(t, "racedash.snapshot", cfg.Publish.Subject)
}

func TestWatchRequiresFile(t *testing.T) {
	t.Setenv("RACEDASH_CONFIG", "")

	l, err := config.NewLoader(config.WithArgs(nil))
	require.NoError(t, err)
	_, err = l.Load()
	require.NoError(t, err)

	err = l.Watch(context.Background(), func(*config.Config, error) {})
	assert.True(t, errors.HasCode(err, errors.ErrMissingConfig))
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, `
[can]
simulate = true
`)

	l, err := config.NewLoader(config.WithConfigFile(path), config.WithArgs(nil))
	require.NoError(t, err)
	_, err = l.Load()
	require.NoError(t, err)
	assert.Equal(t, path, l.ConfigFile())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *config.Config, 8)
	require.NoError(t, l.Watch(ctx, func(cfg *config.Config, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- cfg:
		default:
		}
	}))

	require.NoError(t, os.WriteFile(path, []byte(`
[can]
simulate = false
port = "/dev/ttyUSB1"
baud = 115200
`), 0o600))

	// A rewrite can surface as several events, the first one possibly on a
	// truncated file.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.CAN.Simulate {
				continue
			}
			assert.Equal(t, "/dev/ttyUSB1", cfg.CAN.Port)
			assert.Equal(t, 115200, cfg.CAN.Baud)
			return
		case <-timeout:
			t.Fatal("config change not observed")
		}
	}
}
