package acquisition

import (
	"context"
	"math/rand/v2"
	"time"

	"codeberg.org/mutker/racedash/internal/channel"
	"codeberg.org/mutker/racedash/internal/signal"
)

const (
	MinRPM  = 1000
	MaxRPM  = 13500
	RPMStep = 40

	// throttle and brake scale: one percent per 125 rpm away from the bound
	pedalRPMPerPercent = 125

	minCoolantTemp = 180
	maxCoolantTemp = 210
	minOilPressure = 40
	maxOilPressure = 65

	// SimulatedInterval is the tick period of the simulated engine.
	SimulatedInterval = 10 * time.Millisecond
	// SensorInterval is the tick period of the analog sensor source.
	SensorInterval = 20 * time.Millisecond
)

// Simulated synthesizes an engine sweeping between MinRPM and MaxRPM.
//
// rpm moves by RPMStep each tick and reverses at either bound, clamped to it.
// The tick that reaches a bound still reports the pedal state of the
// direction that got it there; the reversal applies from the next tick on.
// Coolant temperature and oil pressure are drawn uniformly and do not follow rpm.
type Simulated struct {
	rpm       int
	direction int
	rng       *rand.Rand
}

// SimulatedOption configures a Simulated source.
type SimulatedOption func(*Simulated)

// WithRand sets the random source used for coolant and oil readings.
func WithRand(src rand.Source) SimulatedOption {
	return func(s *Simulated) {
		s.rng = rand.New(src)
	}
}

// NewSimulated returns a source starting at MinRPM and accelerating.
func NewSimulated(opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		rpm:       MinRPM,
		direction: RPMStep,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Next advances the engine by one tick.
func (s *Simulated) Next(_ context.Context) (signal.Batch, error) {
	accelerating := s.direction > 0

	s.rpm += s.direction
	switch {
	case s.rpm >= MaxRPM:
		s.rpm = MaxRPM
		s.direction = -RPMStep
	case s.rpm <= MinRPM:
		s.rpm = MinRPM
		s.direction = RPMStep
	}

	var throttle, brake int
	if accelerating {
		throttle = clamp((s.rpm-MinRPM)/pedalRPMPerPercent, 0, 100)
	} else {
		brake = clamp((MaxRPM-s.rpm)/pedalRPMPerPercent, 0, 100)
	}

	return signal.Batch{
		channel.RPM:         float64(s.rpm),
		channel.Speed:       float64(s.rpm / 100),
		channel.Throttle:    float64(throttle),
		channel.Brake:       float64(brake),
		channel.CoolantTemp: float64(minCoolantTemp + s.rng.IntN(maxCoolantTemp-minCoolantTemp+1)),
		channel.OilPressure: float64(minOilPressure + s.rng.IntN(maxOilPressure-minOilPressure+1)),
	}, nil
}

// Close implements Source.
func (*Simulated) Close() error {
	return nil
}

// SimulatedSensors stands in for the analog sensor inputs. Throttle and
// brake are already simulated by the engine source, so it produces nothing.
type SimulatedSensors struct{}

// NewSimulatedSensors returns an idle sensor source.
func NewSimulatedSensors() *SimulatedSensors {
	return &SimulatedSensors{}
}

// Next implements Source.
func (*SimulatedSensors) Next(_ context.Context) (signal.Batch, error) {
	return nil, nil
}

// Close implements Source.
func (*SimulatedSensors) Close() error {
	return nil
}

func clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}

	if value > maxValue {
		return maxValue
	}

	return value
}
