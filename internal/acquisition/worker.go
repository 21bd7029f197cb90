package acquisition

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/signal"
)

const DefaultMaxConsecutiveErrors = 5

// State is the lifecycle position of a Worker. It only moves forward.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopRequested
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopRequested:
		return "stop_requested"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Tick error kinds reported to an Observer.
const (
	KindTransient  = "transient"
	KindPersistent = "persistent"
	KindPanic      = "panic"
)

// Observer receives worker lifecycle and error events. Calls come from the
// worker goroutine and must not block.
type Observer interface {
	TickError(source, kind string)
	StateChanged(source string, state State)
}

type nopObserver struct{}

func (nopObserver) TickError(string, string)   {}
func (nopObserver) StateChanged(string, State) {}

// Worker polls one Source on a fixed interval and writes each batch to the
// buffer.
type Worker struct {
	id       string
	name     string
	cfg      Config
	source   Source
	buf      signal.Writer
	interval time.Duration
	maxErrs  int
	log      logger.Logger
	observer Observer

	// stateMu orders state transitions with their observer notifications.
	stateMu sync.Mutex
	state   atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Option configures a Worker.
type Option func(*Worker)

// WithName sets the logical source name used in logs and metrics.
func WithName(name string) Option {
	return func(w *Worker) {
		w.name = name
	}
}

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithMaxConsecutiveErrors sets how many transient errors in a row stop the worker.
func WithMaxConsecutiveErrors(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxErrs = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(w *Worker) {
		if o != nil {
			w.observer = o
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// New creates a worker in StateCreated. The source is owned by the worker
// from here on and closed when the worker stops.
func New(buf signal.Writer, cfg Config, source Source, opts ...Option) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if buf == nil || source == nil {
		return nil, errors.New().WithMessage(errors.ErrInvalidArgument, "worker needs a buffer and a source")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:       uuid.NewString(),
		name:     "default",
		cfg:      cfg,
		source:   source,
		buf:      buf,
		interval: SimulatedInterval,
		maxErrs:  DefaultMaxConsecutiveErrors,
		observer: nopObserver{},
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.log == nil {
		w.log = logger.New("worker")
	}
	w.log = w.log.With("source", w.name).With("worker_id", w.id)

	return w, nil
}

func (w *Worker) ID() string {
	return w.id
}

func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) Config() Config {
	return w.cfg
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Err returns the failure that stopped the worker, or nil after a requested stop.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

// Done is closed once the worker has stopped and released its source.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Start launches the worker goroutine. A worker can be started once.
func (w *Worker) Start() error {
	w.stateMu.Lock()
	if !w.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		w.stateMu.Unlock()
		return errors.New().WithData(ErrInvalidState, w.State().String())
	}
	w.observer.StateChanged(w.name, StateRunning)
	w.stateMu.Unlock()
	w.log.Debug().Str("mode", w.cfg.Mode()).Dur("interval", w.interval).Msg("Worker started")

	go w.run()

	return nil
}

// Stop requests termination and returns immediately. It is safe to call
// any number of times from any goroutine. A worker that was never started
// goes straight to StateStopped.
func (w *Worker) Stop() {
	w.stateMu.Lock()
	if w.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		w.cancel()
		w.closeSource()
		w.observer.StateChanged(w.name, StateStopped)
		close(w.done)
		w.stateMu.Unlock()

		return
	}

	if w.state.CompareAndSwap(int32(StateRunning), int32(StateStopRequested)) {
		w.observer.StateChanged(w.name, StateStopRequested)
	}
	w.stateMu.Unlock()

	w.cancel()
}

// Join waits up to timeout for the worker to stop and reports whether it did.
func (w *Worker) Join(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-w.done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}

func (w *Worker) run() {
	defer w.finish()
	defer func() {
		if r := recover(); r != nil {
			w.observer.TickError(w.name, KindPanic)
			w.fail(errors.New().WithData(ErrTickPanic, fmt.Sprint(r)))
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	consecutive := 0
	for {
		if w.ctx.Err() != nil {
			return
		}

		batch, err := w.source.Next(w.ctx)
		switch {
		case err == nil:
			consecutive = 0
			if len(batch) > 0 {
				w.buf.UpdateBatch(batch)
			}
		case w.ctx.Err() != nil:
			return
		case IsPersistent(err):
			w.observer.TickError(w.name, KindPersistent)
			w.fail(errors.New().Wrap(ErrPersistentFailure, err))

			return
		default:
			consecutive++
			w.observer.TickError(w.name, KindTransient)
			w.log.Debug().Err(err).Int("consecutive", consecutive).Msg("Transient read error, tick skipped")

			if consecutive >= w.maxErrs {
				w.fail(errors.New().Wrap(ErrTooManyFailures, err))

				return
			}
		}

		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) fail(err errors.Error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()

	w.log.ErrorWithCode(err).Msg("Worker stopped on failure")
}

func (w *Worker) finish() {
	w.cancel()
	w.closeSource()
	w.stateMu.Lock()
	w.state.Store(int32(StateStopped))
	w.observer.StateChanged(w.name, StateStopped)
	w.stateMu.Unlock()
	w.log.Debug().Msg("Worker stopped")
	close(w.done)
}

func (w *Worker) closeSource() {
	if err := w.source.Close(); err != nil {
		w.log.Warn().Err(err).Msg("Failed to close source")
	}
}
