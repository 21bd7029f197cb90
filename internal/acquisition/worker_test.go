package acquisition_test

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/racedash/internal/acquisition"
	"codeberg.org/mutker/racedash/internal/channel"
	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/signal"
)

var simulatedConfig = acquisition.Config{Simulate: true}

// scriptedDriver replays frames and errors in order, then reports EOF.
type scriptedDriver struct {
	mu     sync.Mutex
	steps  []step
	closed bool
}

type step struct {
	frame string
	err   error
}

func (d *scriptedDriver) ReadFrame(_ context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.steps) == 0 {
		return nil, io.EOF
	}
	s := d.steps[0]
	d.steps = d.steps[1:]

	return []byte(s.frame), s.err
}

func (d *scriptedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true

	return nil
}

func (d *scriptedDriver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closed
}

type panicSource struct{}

func (panicSource) Next(context.Context) (signal.Batch, error) {
	panic("decoder exploded")
}

func (panicSource) Close() error { return nil }

type eofSource struct{}

func (eofSource) Next(context.Context) (signal.Batch, error) {
	return nil, io.EOF
}

func (eofSource) Close() error { return nil }

type recordingObserver struct {
	mu     sync.Mutex
	kinds  []string
	states []acquisition.State
}

func (o *recordingObserver) TickError(_, kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func (o *recordingObserver) StateChanged(_ string, state acquisition.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *recordingObserver) stateChanges() []acquisition.State {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]acquisition.State(nil), o.states...)
}

func (o *recordingObserver) errorKinds() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.kinds...)
}

func newWorker(t *testing.T, buf signal.Writer, cfg acquisition.Config, src acquisition.Source, opts ...acquisition.Option) *acquisition.Worker {
	t.Helper()
	opts = append([]acquisition.Option{
		acquisition.WithInterval(time.Millisecond),
		acquisition.WithLogger(logger.Nop()),
	}, opts...)

	w, err := acquisition.New(buf, cfg, src, opts...)
	require.NoError(t, err)

	return w
}

func hardwareConfig() acquisition.Config {
	return acquisition.Config{Port: "/dev/ttyUSB0", Baud: 500000}
}

func TestWorkerStopAndJoin(t *testing.T) {
	buf := signal.NewBuffer(signal.DefaultHistorySize)
	w := newWorker(t, buf, simulatedConfig, newSimulated())

	assert.Equal(t, acquisition.StateCreated, w.State())
	require.NoError(t, w.Start())
	assert.NotEmpty(t, w.ID())

	require.Eventually(t, func() bool {
		return buf.GetAll().Seq >= 5
	}, time.Second, time.Millisecond)

	w.Stop()
	w.Stop()
	assert.True(t, w.Join(500*time.Millisecond))
	assert.Equal(t, acquisition.StateStopped, w.State())
	require.NoError(t, w.Err())

	seq := buf.GetAll().Seq
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, seq, buf.GetAll().Seq, "no writes after stop")
}

func TestWorkerStoppedIsLastStateChange(t *testing.T) {
	for range 200 {
		obs := &recordingObserver{}
		w := newWorker(t, signal.NewBuffer(1), hardwareConfig(), eofSource{}, acquisition.WithObserver(obs))

		require.NoError(t, w.Start())
		w.Stop()
		require.True(t, w.Join(time.Second))

		states := obs.stateChanges()
		require.NotEmpty(t, states)
		assert.Equal(t, acquisition.StateRunning, states[0])
		assert.Equal(t, acquisition.StateStopped, states[len(states)-1], "got %v", states)
	}
}

func TestWorkerStartTwice(t *testing.T) {
	w := newWorker(t, signal.NewBuffer(1), simulatedConfig, newSimulated())

	require.NoError(t, w.Start())
	defer w.Stop()

	err := w.Start()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, acquisition.ErrInvalidState))
}

func TestWorkerStopBeforeStart(t *testing.T) {
	drv := &scriptedDriver{}
	w := newWorker(t, signal.NewBuffer(1), hardwareConfig(), acquisition.NewHardware(drv, acquisition.LineDecoder{}))

	w.Stop()
	assert.True(t, w.Join(0))
	assert.Equal(t, acquisition.StateStopped, w.State())
	assert.True(t, drv.isClosed())
	assert.Error(t, w.Start())
}

func TestWorkerRejectsInvalidConfig(t *testing.T) {
	_, err := acquisition.New(signal.NewBuffer(1), acquisition.Config{}, newSimulated())

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestWorkerTransientErrorsKeepStaleValues(t *testing.T) {
	buf := signal.NewBuffer(10)
	drv := &scriptedDriver{steps: []step{
		{frame: "rpm=4000 speed=40"},
		{frame: "garbage"},
		{err: acquisition.Transient(stderrors.New("crc mismatch"))},
		{frame: "rpm=99999"},
		{frame: "rpm=4100"},
		{err: acquisition.ErrDisconnected},
	}}
	obs := &recordingObserver{}
	w := newWorker(t, buf, hardwareConfig(), acquisition.NewHardware(drv, acquisition.LineDecoder{}),
		acquisition.WithName("can"), acquisition.WithObserver(obs))

	require.NoError(t, w.Start())
	require.True(t, w.Join(time.Second))

	assert.InDelta(t, 4100.0, buf.Get(channel.RPM), 0)
	assert.InDelta(t, 40.0, buf.Get(channel.Speed), 0)
	assert.Equal(t, []float64{4000, 4100}, values(buf.GetHistory(channel.RPM, 0)))
	assert.Equal(t, []string{
		acquisition.KindTransient,
		acquisition.KindTransient,
		acquisition.KindTransient,
		acquisition.KindPersistent,
	}, obs.errorKinds())
	assert.True(t, drv.isClosed())

	err := w.Err()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, acquisition.ErrPersistentFailure))
	assert.ErrorIs(t, err, acquisition.ErrDisconnected)
}

func TestWorkerStopsAfterConsecutiveTransientErrors(t *testing.T) {
	steps := []step{{frame: "rpm=2000"}}
	for range 3 {
		steps = append(steps, step{frame: "bad"})
	}
	steps = append(steps, step{frame: "rpm=2500"})
	for range 10 {
		steps = append(steps, step{frame: "bad"})
	}
	drv := &scriptedDriver{steps: steps}

	buf := signal.NewBuffer(10)
	w := newWorker(t, buf, hardwareConfig(), acquisition.NewHardware(drv, acquisition.LineDecoder{}),
		acquisition.WithMaxConsecutiveErrors(4))

	require.NoError(t, w.Start())
	require.True(t, w.Join(time.Second))

	assert.InDelta(t, 2500.0, buf.Get(channel.RPM), 0)
	err := w.Err()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, acquisition.ErrTooManyFailures))
	assert.True(t, errors.HasCode(err, acquisition.ErrDecodeFrame))

	drv.mu.Lock()
	defer drv.mu.Unlock()
	assert.Len(t, drv.steps, 6, "stops on the fourth bad frame in a row")
}

func TestWorkerRecoversPanic(t *testing.T) {
	obs := &recordingObserver{}
	w := newWorker(t, signal.NewBuffer(1), simulatedConfig, panicSource{}, acquisition.WithObserver(obs))

	require.NoError(t, w.Start())
	require.True(t, w.Join(time.Second))

	assert.Equal(t, acquisition.StateStopped, w.State())
	assert.True(t, errors.HasCode(w.Err(), acquisition.ErrTickPanic))
	assert.Equal(t, []string{acquisition.KindPanic}, obs.errorKinds())
}

func TestWorkerReadsFileUntilEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "can.log")
	require.NoError(t, os.WriteFile(path, []byte("rpm=3000 speed=30\nrpm=3040 speed=30 throttle=16\n"), 0o600))

	cfg := acquisition.Config{Port: path, Baud: 115200}
	factory := acquisition.NewFactory(func() acquisition.Source { return newSimulated() }, acquisition.OpenFile, acquisition.LineDecoder{})
	src, err := factory(cfg)
	require.NoError(t, err)

	buf := signal.NewBuffer(10)
	w := newWorker(t, buf, cfg, src)
	require.NoError(t, w.Start())
	require.True(t, w.Join(time.Second))

	assert.Equal(t, []float64{3000, 3040}, values(buf.GetHistory(channel.RPM, 0)))
	assert.InDelta(t, 16.0, buf.Get(channel.Throttle), 0)
	assert.True(t, errors.HasCode(w.Err(), acquisition.ErrPersistentFailure))
	assert.ErrorIs(t, w.Err(), io.EOF)
}

func TestFactoryOpenFailure(t *testing.T) {
	factory := acquisition.NewFactory(func() acquisition.Source { return newSimulated() }, acquisition.OpenFile, acquisition.LineDecoder{})

	_, err := factory(acquisition.Config{Port: filepath.Join(t.TempDir(), "missing"), Baud: 9600})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, acquisition.ErrOpenDriver))

	src, err := factory(simulatedConfig)
	require.NoError(t, err)
	assert.IsType(t, &acquisition.Simulated{}, src)
}

func values(samples []signal.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}

	return out
}
