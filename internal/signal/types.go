package signal

import (
	"time"

	"codeberg.org/mutker/racedash/internal/channel"
)

// DefaultHistorySize is the per-channel history capacity used when none is given.
const DefaultHistorySize = 100

// Sample is one history entry.
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Batch is a set of channel values produced in one tick.
type Batch map[channel.Channel]float64

// Snapshot is an immutable copy of every channel's latest value.
type Snapshot struct {
	Values    [channel.Count]float64
	Timestamp time.Time
	// Seq increases by one with every Update or UpdateBatch; a zero Seq
	// means nothing has been written yet.
	Seq uint64
}

// Get returns the value of c in the snapshot.
func (s Snapshot) Get(c channel.Channel) float64 {
	if !c.Valid() {
		return 0
	}

	return s.Values[c]
}

// Map returns the snapshot values keyed by channel.
func (s Snapshot) Map() map[channel.Channel]float64 {
	m := make(map[channel.Channel]float64, channel.Count)
	for i, v := range s.Values {
		m[channel.Channel(i)] = v
	}

	return m
}

// Reader is the consumer side of the buffer.
type Reader interface {
	Get(c channel.Channel) float64
	GetAll() Snapshot
	GetHistory(c channel.Channel, count int) []Sample
}

// Writer is the producer side of the buffer.
type Writer interface {
	Update(c channel.Channel, value float64)
	UpdateBatch(batch Batch)
}

// Observer is notified after each committed write, outside the buffer lock.
type Observer interface {
	ObserveWrite(channels int)
}
