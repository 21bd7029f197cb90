// Package signal holds the shared store of latest channel values and their
// bounded histories.
package signal

import (
	"sync"
	"time"

	"codeberg.org/mutker/racedash/internal/channel"
)

// Buffer is safe for concurrent use by any number of writers and readers.
// Every method copies data in or out under a single mutex and never calls
// out to other code while holding it.
type Buffer struct {
	mu        sync.Mutex
	values    [channel.Count]float64
	history   [channel.Count]*Ring[Sample]
	timestamp time.Time
	seq       uint64

	now      func() time.Time
	observer Observer
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		b.now = now
	}
}

// WithObserver registers o to be told about every write.
func WithObserver(o Observer) Option {
	return func(b *Buffer) {
		b.observer = o
	}
}

// NewBuffer creates a buffer keeping historySize samples per channel.
// A non-positive historySize selects DefaultHistorySize.
func NewBuffer(historySize int, opts ...Option) *Buffer {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}

	b := &Buffer{now: time.Now}
	for i := range b.history {
		b.history[i] = NewRing[Sample](historySize)
	}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// HistorySize returns the per-channel history capacity.
func (b *Buffer) HistorySize() int {
	return b.history[0].Cap()
}

// Update sets the latest value of c and appends it to c's history.
func (b *Buffer) Update(c channel.Channel, value float64) {
	if !c.Valid() {
		return
	}

	b.mu.Lock()
	now := b.now()
	b.set(c, value, now)
	b.timestamp = now
	b.seq++
	b.mu.Unlock()

	b.notify(1)
}

// UpdateBatch applies every value in batch as one observable unit: readers
// see either none or all of it. All samples share one timestamp.
func (b *Buffer) UpdateBatch(batch Batch) {
	if len(batch) == 0 {
		return
	}

	written := 0
	b.mu.Lock()
	now := b.now()
	for c, value := range batch {
		if !c.Valid() {
			continue
		}
		b.set(c, value, now)
		written++
	}
	if written > 0 {
		b.timestamp = now
		b.seq++
	}
	b.mu.Unlock()

	if written > 0 {
		b.notify(written)
	}
}

func (b *Buffer) set(c channel.Channel, value float64, now time.Time) {
	b.values[c] = value
	b.history[c].Push(Sample{Time: now, Value: value})
}

func (b *Buffer) notify(channels int) {
	if b.observer != nil {
		b.observer.ObserveWrite(channels)
	}
}

// Get returns the latest value of c, zero if it was never written.
func (b *Buffer) Get(c channel.Channel) float64 {
	if !c.Valid() {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.values[c]
}

// GetAll returns a copy of every channel's latest value.
func (b *Buffer) GetAll() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Values:    b.values,
		Timestamp: b.timestamp,
		Seq:       b.seq,
	}
}

// GetHistory returns up to count of c's most recent samples, oldest first.
// A non-positive count returns the whole history.
func (b *Buffer) GetHistory(c channel.Channel, count int) []Sample {
	if !c.Valid() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.history[c].Last(count)
}

var (
	_ Reader = (*Buffer)(nil)
	_ Writer = (*Buffer)(nil)
)
