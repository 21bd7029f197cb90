// Package metrics exposes runtime instrumentation and the read-only HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"codeberg.org/mutker/racedash/internal/acquisition"
	"codeberg.org/mutker/racedash/internal/errors"
)

const namespace = "racedash"

// Collector holds the Prometheus instruments. It implements the observer
// interfaces of the signal buffer, acquisition workers and supervisors.
type Collector struct {
	registry *prometheus.Registry

	bufferWrites    prometheus.Counter
	batchChannels   prometheus.Histogram
	tickErrors      *prometheus.CounterVec
	workerState     *prometheus.GaugeVec
	restarts        *prometheus.CounterVec
	abandonedWorker *prometheus.CounterVec
}

// NewCollector registers every instrument on a fresh registry.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		bufferWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "writes_total",
			Help:      "Number of Update and UpdateBatch calls applied to the signal buffer.",
		}),
		batchChannels: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "write_channels",
			Help:      "Channels written per buffer write.",
			Buckets:   prometheus.LinearBuckets(1, 1, 6),
		}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "tick_errors_total",
			Help:      "Acquisition tick errors by source and kind.",
		}, []string{"source", "kind"}),
		workerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "state",
			Help:      "Last reported worker lifecycle state per source (0 created, 1 running, 2 stop requested, 3 stopped).",
		}, []string{"source"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Source restarts by result.",
		}, []string{"source", "result"}),
		abandonedWorker: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "abandoned_workers_total",
			Help:      "Workers that did not stop within the stop timeout.",
		}, []string{"source"}),
	}

	for _, collector := range []prometheus.Collector{
		c.bufferWrites,
		c.batchChannels,
		c.tickErrors,
		c.workerState,
		c.restarts,
		c.abandonedWorker,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, errors.New().Wrap(ErrRegister, err)
		}
	}

	return c, nil
}

// Registry returns the registry served on /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveWrite implements signal.Observer.
func (c *Collector) ObserveWrite(channels int) {
	c.bufferWrites.Inc()
	c.batchChannels.Observe(float64(channels))
}

// TickError implements acquisition.Observer.
func (c *Collector) TickError(source, kind string) {
	c.tickErrors.WithLabelValues(source, kind).Inc()
}

// StateChanged implements acquisition.Observer.
func (c *Collector) StateChanged(source string, state acquisition.State) {
	c.workerState.WithLabelValues(source).Set(float64(state))
}

// Restarted implements supervisor.Observer.
func (c *Collector) Restarted(source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.restarts.WithLabelValues(source, result).Inc()
}

// Abandoned implements supervisor.Observer.
func (c *Collector) Abandoned(source string) {
	c.abandonedWorker.WithLabelValues(source).Inc()
}
