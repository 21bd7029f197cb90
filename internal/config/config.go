// Package config loads racedash settings from a TOML file, the environment
// and command line flags, in increasing order of precedence.
package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/racedash/internal/acquisition"
	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/metrics"
	"codeberg.org/mutker/racedash/internal/publish"
	"codeberg.org/mutker/racedash/internal/signal"
	"codeberg.org/mutker/racedash/internal/supervisor"
	"codeberg.org/mutker/racedash/internal/telemetry"
)

const (
	DefaultEnvPrefix       = "RACEDASH"
	DefaultConfigName      = "racedash"
	DefaultLogLevel        = string(LogLevelInfo)
	DefaultMonitorInterval = 100 * time.Millisecond
	DefaultPIDFile         = "racedash.pid"
)

var validate = validator.New()

// SourceConfig configures one supervised acquisition source.
type SourceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Simulate bool   `mapstructure:"simulate"`
	Port     string `mapstructure:"port"`
	Baud     int    `mapstructure:"baud"`
}

// Acquisition returns the worker configuration for the source.
func (s SourceConfig) Acquisition() acquisition.Config {
	return acquisition.Config{
		Simulate: s.Simulate,
		Port:     s.Port,
		Baud:     s.Baud,
	}
}

type Config struct {
	LogLevel             string           `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	HistorySize          int              `mapstructure:"history_size" validate:"gt=0"`
	TickInterval         time.Duration    `mapstructure:"tick_interval" validate:"gt=0"`
	SensorInterval       time.Duration    `mapstructure:"sensor_interval" validate:"gt=0"`
	StopTimeout          time.Duration    `mapstructure:"stop_timeout" validate:"gt=0"`
	MaxConsecutiveErrors int              `mapstructure:"max_consecutive_errors" validate:"gt=0"`
	Monitor              bool             `mapstructure:"monitor"`
	MonitorInterval      time.Duration    `mapstructure:"monitor_interval" validate:"gt=0"`
	PIDFile              string           `mapstructure:"pid_file"`
	CAN                  SourceConfig     `mapstructure:"can"`
	Sensors              SourceConfig     `mapstructure:"sensors"`
	HTTP                 metrics.Config   `mapstructure:"http"`
	Telemetry            telemetry.Config `mapstructure:"telemetry"`
	Publish              publish.Config   `mapstructure:"publish"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:             DefaultLogLevel,
		HistorySize:          signal.DefaultHistorySize,
		TickInterval:         acquisition.SimulatedInterval,
		SensorInterval:       acquisition.SensorInterval,
		StopTimeout:          supervisor.DefaultStopTimeout,
		MaxConsecutiveErrors: acquisition.DefaultMaxConsecutiveErrors,
		MonitorInterval:      DefaultMonitorInterval,
		PIDFile:              DefaultPIDFile,
		CAN:                  SourceConfig{Enabled: true, Simulate: true},
		Sensors:              SourceConfig{Enabled: true, Simulate: true},
		HTTP:                 metrics.DefaultConfig(),
		Telemetry:            telemetry.DefaultConfig(),
		Publish:              publish.DefaultConfig(),
	}
}

// Validate checks field constraints and the connection parameters of every
// enabled source.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if err := validate.Struct(c); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	for _, src := range []struct {
		name string
		cfg  SourceConfig
	}{{"can", c.CAN}, {"sensors", c.Sensors}} {
		if !src.cfg.Enabled {
			continue
		}
		if err := src.cfg.Acquisition().Validate(); err != nil {
			return errFactory.Wrap(errors.ErrInvalidConfig, err).WithMessage("Invalid " + src.name + " source")
		}
	}

	return nil
}

// Loader reads the configuration and keeps the viper instance for Watch.
type Loader struct {
	v    *viper.Viper
	opts options
}

var _ Watcher = (*Loader)(nil)

func NewLoader(opts ...Option) (*Loader, error) {
	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errors.New().Wrap(errors.ErrInvalidArgument, err)
		}
	}

	if !o.argsSet {
		o.args = os.Args[1:]
	}

	return &Loader{
		v:    viper.New(),
		opts: o,
	}, nil
}

// Load reads configuration from all sources and validates it.
func Load(opts ...Option) (*Config, error) {
	l, err := NewLoader(opts...)
	if err != nil {
		return nil, err
	}

	return l.Load()
}

func (l *Loader) Load() (*Config, error) {
	errFactory := errors.New()
	v := l.v

	setDefaults(v, DefaultConfig())

	fs := pflag.NewFlagSet(DefaultConfigName, pflag.ContinueOnError)
	configFlag := fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("monitor", false, "Log the signal snapshot periodically")
	fs.Int("history-size", signal.DefaultHistorySize, "Samples kept per channel")
	fs.Bool("simulate", true, "Use the simulated CAN source")
	fs.String("port", "", "CAN interface device path")
	fs.Int("baud", 0, "CAN interface baud rate")
	fs.String("http-addr", metrics.DefaultConfig().Addr, "HTTP listen address")
	fs.Bool("telemetry", false, "Record snapshots to the telemetry database")
	fs.String("telemetry-db", telemetry.DefaultConfig().DBPath, "Telemetry database path")
	fs.Bool("publish", false, "Publish snapshots to NATS")
	fs.String("nats-url", publish.DefaultConfig().URL, "NATS server URL")

	if err := fs.Parse(l.opts.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	for key, flag := range map[string]string{
		"log_level":         "log-level",
		"monitor":           "monitor",
		"history_size":      "history-size",
		"can.simulate":      "simulate",
		"can.port":          "port",
		"can.baud":          "baud",
		"http.addr":         "http-addr",
		"telemetry.enabled": "telemetry",
		"telemetry.db_path": "telemetry-db",
		"publish.enabled":   "publish",
		"publish.url":       "nats-url",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(l.opts.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := l.opts.configPath
	if path == "" {
		path = *configFlag
	}
	if path == "" {
		path = os.Getenv(l.opts.envPrefix + "_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath("$HOME/.config/racedash")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	return l.decode()
}

// ConfigFile returns the path of the file that was read, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the config file on change. It needs a config file to have
// been read by Load.
func (l *Loader) Watch(ctx context.Context, callback func(*Config, error)) error {
	if l.v.ConfigFileUsed() == "" {
		return errors.New().WithMessage(errors.ErrMissingConfig, "No configuration file to watch")
	}

	l.v.OnConfigChange(func(fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		callback(l.decode())
	})
	l.v.WatchConfig()

	return nil
}

func (l *Loader) decode() (*Config, error) {
	errFactory := errors.New()

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("history_size", d.HistorySize)
	v.SetDefault("tick_interval", d.TickInterval)
	v.SetDefault("sensor_interval", d.SensorInterval)
	v.SetDefault("stop_timeout", d.StopTimeout)
	v.SetDefault("max_consecutive_errors", d.MaxConsecutiveErrors)
	v.SetDefault("monitor", d.Monitor)
	v.SetDefault("monitor_interval", d.MonitorInterval)
	v.SetDefault("pid_file", d.PIDFile)

	for prefix, src := range map[string]SourceConfig{"can": d.CAN, "sensors": d.Sensors} {
		v.SetDefault(prefix+".enabled", src.Enabled)
		v.SetDefault(prefix+".simulate", src.Simulate)
		v.SetDefault(prefix+".port", src.Port)
		v.SetDefault(prefix+".baud", src.Baud)
	}

	v.SetDefault("http.enabled", d.HTTP.Enabled)
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.stream_interval", d.HTTP.StreamInterval)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.db_path", d.Telemetry.DBPath)
	v.SetDefault("telemetry.interval", d.Telemetry.Interval)
	v.SetDefault("telemetry.batch_size", d.Telemetry.BatchSize)
	v.SetDefault("telemetry.flush_interval", d.Telemetry.FlushInterval)
	v.SetDefault("telemetry.backup_dir", d.Telemetry.BackupDir)

	v.SetDefault("publish.enabled", d.Publish.Enabled)
	v.SetDefault("publish.url", d.Publish.URL)
	v.SetDefault("publish.subject", d.Publish.Subject)
	v.SetDefault("publish.interval", d.Publish.Interval)
}

func parseLogLevel(level string) (LogLevel, error) {
	l := LogLevel(level)
	if l == "warn" {
		l = LogLevelWarning
	}

	if !l.IsValid() {
		return "", errors.New().WithData(errors.ErrInvalidLogLevel, level)
	}

	return l, nil
}
