// Package supervisor owns the acquisition worker for one logical source and
// replaces it when the source configuration changes.
package supervisor

import (
	"sync"
	"time"

	"codeberg.org/mutker/racedash/internal/acquisition"
	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/signal"
)

const (
	DefaultStopTimeout = 500 * time.Millisecond

	ModeIdle = "idle"
)

// Observer receives supervisor events.
type Observer interface {
	Restarted(source string, err error)
	Abandoned(source string)
}

type nopObserver struct{}

func (nopObserver) Restarted(string, error) {}
func (nopObserver) Abandoned(string)        {}

// Status describes a supervisor and its current worker.
type Status struct {
	Source           string    `json:"source"`
	Mode             string    `json:"mode"`
	State            string    `json:"state"`
	WorkerID         string    `json:"worker_id,omitempty"`
	Restarts         int       `json:"restarts"`
	LastRestart      time.Time `json:"last_restart,omitzero"`
	LastRestartError string    `json:"last_restart_error,omitempty"`
	LastFailure      string    `json:"last_failure,omitempty"`
	Abandoned        int       `json:"abandoned"`
}

// Supervisor keeps at most one running worker per source. Control calls are
// serialized; Status never waits on them.
type Supervisor struct {
	name        string
	buf         signal.Writer
	factory     acquisition.Factory
	workerOpts  []acquisition.Option
	stopTimeout time.Duration
	log         logger.Logger
	observer    Observer

	control sync.Mutex

	mu          sync.Mutex
	current     *acquisition.Worker
	abandoned   []*acquisition.Worker
	restarts    int
	lastRestart time.Time
	restartErr  error
	lastFailure error
	closed      bool
}

type Option func(*Supervisor)

// WithStopTimeout bounds how long Restart, Stop and Shutdown wait for a worker.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithWorkerOptions adds options applied to every worker the supervisor creates.
func WithWorkerOptions(opts ...acquisition.Option) Option {
	return func(s *Supervisor) {
		s.workerOpts = append(s.workerOpts, opts...)
	}
}

func WithObserver(o Observer) Option {
	return func(s *Supervisor) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns an idle supervisor for the named source.
func New(name string, buf signal.Writer, factory acquisition.Factory, opts ...Option) *Supervisor {
	s := &Supervisor{
		name:        name,
		buf:         buf,
		factory:     factory,
		stopTimeout: DefaultStopTimeout,
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = logger.New("supervisor")
	}
	s.log = s.log.With("source", name)

	return s
}

func (s *Supervisor) Name() string {
	return s.name
}

// Start launches a worker for cfg. It fails with ErrAlreadyRunning while the
// current worker is running.
func (s *Supervisor) Start(cfg acquisition.Config) error {
	s.control.Lock()
	defer s.control.Unlock()

	if w := s.worker(); w != nil && w.State() == acquisition.StateRunning {
		return errors.New().WithData(ErrAlreadyRunning, s.name)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.launch(cfg)
}

// Restart replaces the current worker with one built from cfg. An invalid
// cfg is rejected before anything is stopped. A worker that does not stop
// within the stop timeout is abandoned and the restart goes ahead.
func (s *Supervisor) Restart(cfg acquisition.Config) error {
	s.control.Lock()
	defer s.control.Unlock()

	if err := cfg.Validate(); err != nil {
		s.recordRestart(err)
		return err
	}

	s.stopCurrent()
	s.pruneAbandoned()

	err := s.launch(cfg)
	if err != nil {
		err = errors.New().Wrap(ErrRestartSource, err)
	}
	s.recordRestart(err)

	return err
}

// Stop stops the current worker and reports whether it finished within the
// stop timeout.
func (s *Supervisor) Stop() bool {
	s.control.Lock()
	defer s.control.Unlock()

	return s.stopCurrent()
}

// Join waits up to timeout for the current worker to stop.
func (s *Supervisor) Join(timeout time.Duration) bool {
	w := s.worker()
	if w == nil {
		return true
	}

	return w.Join(timeout)
}

// Shutdown stops the current worker and every abandoned one, waiting up to
// the stop timeout for each. The supervisor accepts no further starts.
func (s *Supervisor) Shutdown() bool {
	s.control.Lock()
	defer s.control.Unlock()

	s.mu.Lock()
	s.closed = true
	workers := append([]*acquisition.Worker(nil), s.abandoned...)
	if s.current != nil {
		workers = append(workers, s.current)
	}
	s.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}

	allStopped := true
	for _, w := range workers {
		if !w.Join(s.stopTimeout) {
			allStopped = false
			s.log.Warn().Str("worker_id", w.ID()).Msg("Worker did not stop before shutdown timeout")
		}
	}
	s.pruneAbandoned()

	return allStopped
}

// Status returns a copy of the supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Source:      s.name,
		Mode:        ModeIdle,
		State:       acquisition.StateStopped.String(),
		Restarts:    s.restarts,
		LastRestart: s.lastRestart,
		Abandoned:   len(s.abandoned),
	}

	if s.current != nil {
		st.WorkerID = s.current.ID()
		st.State = s.current.State().String()
		if s.current.State() != acquisition.StateStopped {
			st.Mode = s.current.Config().Mode()
		}
	}

	if s.restartErr != nil {
		st.LastRestartError = s.restartErr.Error()
	}

	if s.lastFailure != nil {
		st.LastFailure = s.lastFailure.Error()
	}

	return st
}

func (s *Supervisor) worker() *acquisition.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current
}

func (s *Supervisor) launch(cfg acquisition.Config) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return errors.New().WithData(ErrShutdown, s.name)
	}

	source, err := s.factory(cfg)
	if err != nil {
		return errors.New().Wrap(ErrStartSource, err)
	}

	opts := append([]acquisition.Option{acquisition.WithName(s.name)}, s.workerOpts...)

	w, err := acquisition.New(s.buf, cfg, source, opts...)
	if err != nil {
		_ = source.Close()
		return errors.New().Wrap(ErrStartSource, err)
	}

	if err := w.Start(); err != nil {
		w.Stop()
		return errors.New().Wrap(ErrStartSource, err)
	}

	s.mu.Lock()
	s.current = w
	s.lastFailure = nil
	s.mu.Unlock()

	go s.monitor(w)

	s.log.Info().Str("mode", cfg.Mode()).Str("worker_id", w.ID()).Msg("Source started")

	return nil
}

// stopCurrent stops the current worker and abandons it if it overruns the
// stop timeout. Callers hold s.control.
func (s *Supervisor) stopCurrent() bool {
	w := s.worker()
	if w == nil {
		return true
	}

	w.Stop()
	if w.Join(s.stopTimeout) {
		return true
	}

	s.log.Warn().
		Str("worker_id", w.ID()).
		Dur("timeout", s.stopTimeout).
		Msg("Worker did not stop in time, abandoning it")

	s.mu.Lock()
	s.abandoned = append(s.abandoned, w)
	if s.current == w {
		s.current = nil
	}
	s.mu.Unlock()
	s.observer.Abandoned(s.name)

	return false
}

// pruneAbandoned forgets abandoned workers that have since stopped.
func (s *Supervisor) pruneAbandoned() {
	s.mu.Lock()
	defer s.mu.Unlock()

	alive := s.abandoned[:0]
	for _, w := range s.abandoned {
		if w.State() != acquisition.StateStopped {
			alive = append(alive, w)
		}
	}
	clear(s.abandoned[len(alive):])
	s.abandoned = alive
}

func (s *Supervisor) recordRestart(err error) {
	s.mu.Lock()
	s.restarts++
	s.lastRestart = time.Now()
	s.restartErr = err
	s.mu.Unlock()

	s.observer.Restarted(s.name, err)
	if err != nil {
		s.log.Warn().Err(err).Msg("Restart failed")
	}
}

// monitor records a worker's failure once it stops on its own.
func (s *Supervisor) monitor(w *acquisition.Worker) {
	<-w.Done()

	err := w.Err()
	if err == nil {
		return
	}

	s.mu.Lock()
	current := s.current == w
	if current {
		s.lastFailure = err
	}
	s.mu.Unlock()

	if current {
		s.log.Error().Err(err).Str("worker_id", w.ID()).Msg("Source stopped on failure")
	}
}
