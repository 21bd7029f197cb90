package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/mutker/racedash/internal/channel"
	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/signal"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []signal.Snapshot
	flushTicker   *time.Ticker
	closeOnce     sync.Once
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

// NewRepository opens or creates the database at cfg.DBPath. Writes are
// buffered and flushed in one transaction when BatchSize snapshots are
// pending, every FlushInterval, and on Close.
func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	backupDir := cfg.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(cfg.DBPath), "backups")
	}

	if err := ValidateAndUpdateSchema(db, backupDir, log); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("flush_interval", cfg.FlushInterval).
		Msg("Telemetry repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]signal.Snapshot, 0, cfg.BatchSize),
		flushTicker:   time.NewTicker(cfg.FlushInterval),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	go repo.flusher()

	return repo, nil
}

func (r *repository) Record(snapshot signal.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, snapshot)

	if len(r.buffer) >= r.cfg.BatchSize {
		return r.flush()
	}

	return nil
}

func (r *repository) Recent(ctx context.Context, limit int) ([]signal.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, selectRecentSQL, limit)
	if err != nil {
		return nil, errors.New().Wrap(ErrStorageQuery, err)
	}
	defer rows.Close()

	var out []signal.Snapshot
	for rows.Next() {
		var (
			seq    int64
			millis int64
			s      signal.Snapshot
		)
		if err := rows.Scan(&seq, &millis,
			&s.Values[channel.RPM], &s.Values[channel.Speed],
			&s.Values[channel.Throttle], &s.Values[channel.Brake],
			&s.Values[channel.CoolantTemp], &s.Values[channel.OilPressure],
		); err != nil {
			return nil, errors.New().Wrap(ErrStorageQuery, err)
		}
		s.Seq = uint64(seq)
		s.Timestamp = time.UnixMilli(millis)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New().Wrap(ErrStorageQuery, err)
	}

	slices.Reverse(out)

	return out, nil
}

func (r *repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.close()
	})

	return err
}

func (r *repository) close() error {
	close(r.shutdownChan)
	r.flushTicker.Stop()
	<-r.flushDoneChan

	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Telemetry repository closed")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			_ = r.flush()
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			_ = r.flush()
			r.mu.Unlock()
			return
		}
	}
}

// flush writes the pending snapshots in one transaction. Callers hold r.mu.
// Failed batches are dropped; the next snapshot starts a new one.
func (r *repository) flush() error {
	if len(r.buffer) == 0 {
		return nil
	}
	defer func() {
		r.buffer = r.buffer[:0]
	}()

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertSnapshotSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, s := range r.buffer {
		if _, err := stmt.Exec(
			int64(s.Seq),
			s.Timestamp.UnixMilli(),
			s.Get(channel.RPM),
			s.Get(channel.Speed),
			s.Get(channel.Throttle),
			s.Get(channel.Brake),
			s.Get(channel.CoolantTemp),
			s.Get(channel.OilPressure),
		); err != nil {
			r.logger.Error().Err(err).Msg("Failed to execute insert")
			if err := tx.Rollback(); err != nil {
				r.logger.Error().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(r.buffer)).Msg("Flushed telemetry to database")

	return nil
}
