package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"codeberg.org/mutker/racedash/internal/acquisition"
	"codeberg.org/mutker/racedash/internal/channel"
	"codeberg.org/mutker/racedash/internal/config"
	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/metrics"
	"codeberg.org/mutker/racedash/internal/pid"
	"codeberg.org/mutker/racedash/internal/publish"
	"codeberg.org/mutker/racedash/internal/signal"
	"codeberg.org/mutker/racedash/internal/supervisor"
	"codeberg.org/mutker/racedash/internal/telemetry"
)

// source pairs a supervisor with the configuration it was last given.
type source struct {
	sup *supervisor.Supervisor
	cfg config.SourceConfig
}

var (
	cfg    *config.Config
	loader *config.Loader
)

func init() {
	var err error
	loader, err = config.NewLoader()
	if err == nil {
		cfg, err = loader.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, logger.IsService())
	logger.Debug().Str("config_file", loader.ConfigFile()).Msg("Config loaded")
}

func main() {
	pidPath := pid.Path(cfg.PIDFile)
	if err := pid.Write(pidPath); err != nil {
		logger.FatalWithCode(errors.New().Wrap(errors.ErrInitApp, err)).Str("pid_file", pidPath).Msg("Failed to write PID file")
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.FatalWithCode(errors.New().Wrap(errors.ErrInitApp, err)).Msg("Failed to initialize metrics")
	}

	buf := signal.NewBuffer(cfg.HistorySize, signal.WithObserver(collector))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	sources := map[string]*source{
		"can": newSource("can", buf, collector, cfg.CAN, cfg.TickInterval, func() acquisition.Source {
			return acquisition.NewSimulated()
		}),
		"sensors": newSource("sensors", buf, collector, cfg.Sensors, cfg.SensorInterval, func() acquisition.Source {
			return acquisition.NewSimulatedSensors()
		}),
	}
	for _, src := range sources {
		if !src.cfg.Enabled {
			continue
		}
		if err := src.sup.Start(src.cfg.Acquisition()); err != nil {
			logger.Error().Err(err).Str("source", src.sup.Name()).Msg("Failed to start source")
		}
	}

	recorder, err := telemetry.NewService(cfg.Telemetry, logger.New("telemetry"))
	if err != nil {
		logger.FatalWithCode(errors.New().Wrap(errors.ErrInitApp, err)).Msg("Failed to initialize telemetry")
	}

	var wg sync.WaitGroup
	if cfg.Telemetry.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			telemetry.Sample(ctx, buf, recorder, cfg.Telemetry.Interval, logger.New("telemetry"))
		}()
	}

	var publisher *publish.Publisher
	if cfg.Publish.Enabled {
		publisher, err = publish.Connect(cfg.Publish, logger.New("publish"))
		if err != nil {
			logger.Error().Err(err).Msg("Snapshot publishing unavailable")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				publisher.Run(ctx, buf, cfg.Publish.Interval)
			}()
		}
	}

	var server *metrics.Server
	if cfg.HTTP.Enabled {
		providers := []metrics.StatusProvider{sources["can"].sup, sources["sensors"].sup}
		streamer := metrics.NewStreamer(buf, cfg.HTTP.StreamInterval, logger.New("stream"))
		server = metrics.NewServer(cfg.HTTP, collector, buf, providers, logger.New("http"),
			metrics.WithStreamer(streamer),
			metrics.WithHistoryStore(recorder))
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server unavailable")
			server = nil
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				streamer.Run(ctx)
			}()
		}
	}

	var mu sync.Mutex
	err = loader.Watch(ctx, func(next *config.Config, err error) {
		if err != nil {
			logger.Warn().Err(err).Msg("Ignoring invalid configuration change")
			return
		}

		mu.Lock()
		defer mu.Unlock()
		applyConfig(next, sources)
	})
	if err != nil {
		logger.Debug().Err(err).Msg("Configuration changes will not be applied at runtime")
	}

	if err := loop(ctx, buf); err != nil {
		logger.Error().Err(errors.New().Wrap(errors.ErrMainLoop, err)).Msg("Error in main loop")
	}

	cancel()
	mu.Lock()
	cleanup(sources, server, publisher, recorder, &wg)
	mu.Unlock()
}

func newSource(
	name string,
	buf *signal.Buffer,
	collector *metrics.Collector,
	sc config.SourceConfig,
	interval time.Duration,
	simulated func() acquisition.Source,
) *source {
	factory := acquisition.NewFactory(simulated, acquisition.OpenFile, acquisition.LineDecoder{})

	sup := supervisor.New(name, buf, factory,
		supervisor.WithStopTimeout(cfg.StopTimeout),
		supervisor.WithObserver(collector),
		supervisor.WithWorkerOptions(
			acquisition.WithInterval(interval),
			acquisition.WithMaxConsecutiveErrors(cfg.MaxConsecutiveErrors),
			acquisition.WithObserver(collector),
		),
	)

	return &source{sup: sup, cfg: sc}
}

// applyConfig restarts every source whose settings changed. Settings that
// size long-lived structures, like history_size, need a process restart.
func applyConfig(next *config.Config, sources map[string]*source) {
	if level, err := logger.ParseLevel(next.LogLevel); err == nil {
		logger.SetLogLevel(level)
	}

	for name, sc := range map[string]config.SourceConfig{"can": next.CAN, "sensors": next.Sensors} {
		src := sources[name]
		if src.cfg == sc {
			continue
		}
		src.cfg = sc

		if !sc.Enabled {
			src.sup.Stop()
			logger.Info().Str("source", name).Msg("Source disabled")
			continue
		}

		if err := src.sup.Restart(sc.Acquisition()); err != nil {
			logger.Error().Err(err).Str("source", name).Msg("Failed to restart source")
			continue
		}
		logger.Info().Str("source", name).Str("mode", sc.Acquisition().Mode()).Msg("Source restarted")
	}
}

func loop(ctx context.Context, reader signal.Reader) error {
	if !cfg.Monitor {
		<-ctx.Done()
		return nil
	}

	if cfg.MonitorInterval <= 0 {
		return errors.New().WithData(errors.ErrInvalidInterval, cfg.MonitorInterval.String())
	}

	ticker := time.NewTicker(cfg.MonitorInterval)
	defer ticker.Stop()

	logger.Info().Msg("Monitor mode activated. Logging signal snapshot...")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logSnapshot(reader.GetAll())
		}
	}
}

func logSnapshot(s signal.Snapshot) {
	logger.Info().
		Float64("rpm", s.Get(channel.RPM)).
		Float64("speed", s.Get(channel.Speed)).
		Int("gear", channel.Gear(s.Get(channel.Speed))).
		Float64("throttle", s.Get(channel.Throttle)).
		Float64("brake", s.Get(channel.Brake)).
		Float64("coolant_temp", s.Get(channel.CoolantTemp)).
		Float64("oil_pressure", s.Get(channel.OilPressure)).
		Uint64("seq", s.Seq).
		Msg("")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	ossignal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup(
	sources map[string]*source,
	server *metrics.Server,
	publisher *publish.Publisher,
	recorder telemetry.Recorder,
	wg *sync.WaitGroup,
) {
	if server != nil {
		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Failed to shut down HTTP server")
		}
	}

	for name, src := range sources {
		if !src.sup.Shutdown() {
			logger.ErrorWithCode(errors.New().WithData(errors.ErrShutdownSource, name)).Msg("Source did not stop cleanly")
		}
	}

	wg.Wait()
	if publisher != nil {
		publisher.Close()
	}
	if err := recorder.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close telemetry recorder")
	}

	logger.Info().Msg("Exiting...")
}
