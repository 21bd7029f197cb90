// Package telemetry persists buffer snapshots to SQLite for later analysis.
package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/signal"
)

type service struct {
	repo Repository
	cfg  Config
}

type noopRecorder struct{}

// NewService returns a Recorder backed by SQLite, or a no-op Recorder when
// telemetry is disabled.
func NewService(cfg Config, log logger.Logger) (Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, snapshot signal.Snapshot) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(snapshot); err != nil {
			return errFactory.Wrap(ErrRecord, err)
		}
	}

	return nil
}

func (s *service) Recent(ctx context.Context, limit int) ([]signal.Snapshot, error) {
	return s.repo.Recent(ctx, limit)
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}

	return nil
}

func (*noopRecorder) Record(context.Context, signal.Snapshot) error {
	return nil
}

func (*noopRecorder) Recent(context.Context, int) ([]signal.Snapshot, error) {
	return nil, nil
}

func (*noopRecorder) Close() error {
	return nil
}

// Sample records the buffer's snapshot every interval until ctx is done.
// Snapshots whose sequence number has not moved since the last record are
// skipped, so an idle buffer writes nothing.
func Sample(ctx context.Context, reader signal.Reader, rec Recorder, interval time.Duration, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := reader.GetAll()
			if snapshot.Seq == 0 || snapshot.Seq == last {
				continue
			}

			if err := rec.Record(ctx, snapshot); err != nil {
				log.Warn().Err(err).Uint64("seq", snapshot.Seq).Msg("Failed to record snapshot")
				continue
			}
			last = snapshot.Seq
		}
	}
}
