package telemetry

import (
	"context"

	"codeberg.org/mutker/racedash/internal/signal"
)

// Recorder persists buffer snapshots.
type Recorder interface {
	Record(ctx context.Context, snapshot signal.Snapshot) error
	// Recent returns up to limit committed snapshots, oldest first.
	// Snapshots still waiting for a batch flush are not included.
	Recent(ctx context.Context, limit int) ([]signal.Snapshot, error)
	Close() error
}

// Repository is the storage behind a Recorder.
type Repository interface {
	Record(snapshot signal.Snapshot) error
	// Recent returns up to limit stored snapshots, oldest first.
	Recent(ctx context.Context, limit int) ([]signal.Snapshot, error)
	Close() error
}
