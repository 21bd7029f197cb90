package telemetry_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/racedash/internal/channel"
	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
	"codeberg.org/mutker/racedash/internal/signal"
	"codeberg.org/mutker/racedash/internal/telemetry"
)

func testConfig(t *testing.T) telemetry.Config {
	t.Helper()
	cfg := telemetry.DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "data", "telemetry.db")
	cfg.BatchSize = 3
	cfg.FlushInterval = time.Hour

	return cfg
}

func snapshot(seq uint64, rpm float64) signal.Snapshot {
	s := signal.Snapshot{
		Seq:       seq,
		Timestamp: time.UnixMilli(1_700_000_000_000 + int64(seq)),
	}
	s.Values[channel.RPM] = rpm
	s.Values[channel.Speed] = float64(int(rpm) / 100)
	s.Values[channel.CoolantTemp] = 195

	return s
}

func TestConfigValidate(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Enabled = true
	cfg.DBPath = ""
	assert.True(t, errors.HasCode(cfg.Validate(), errors.ErrInvalidConfig))

	cfg = telemetry.DefaultConfig()
	cfg.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestDisabledServiceIsNoop(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "never.db")

	rec, err := telemetry.NewService(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, rec.Record(context.Background(), snapshot(1, 1000)))
	stored, err := rec.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, stored)
	require.NoError(t, rec.Close())

	_, err = os.Stat(cfg.DBPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRepositoryBatchesAndFlushesOnClose(t *testing.T) {
	cfg := testConfig(t)

	repo, err := telemetry.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)

	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, repo.Record(snapshot(seq, float64(1000+40*seq))))
	}

	stored, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, stored, 3, "first batch committed, fourth snapshot pending")

	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())

	repo, err = telemetry.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	stored, err = repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	for i, s := range stored {
		seq := uint64(i + 1)
		assert.Equal(t, seq, s.Seq)
		assert.InDelta(t, float64(1000+40*seq), s.Get(channel.RPM), 0)
		assert.InDelta(t, 195.0, s.Get(channel.CoolantTemp), 0)
		assert.True(t, snapshot(seq, 0).Timestamp.Equal(s.Timestamp))
	}

	latest, err := repo.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, uint64(3), latest[0].Seq)
	assert.Equal(t, uint64(4), latest[1].Seq)
}

func TestServiceRecentReturnsCommittedSnapshots(t *testing.T) {
	rec, err := telemetry.NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer rec.Close()

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, rec.Record(context.Background(), snapshot(seq, 2000)))
	}

	stored, err := rec.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, uint64(2), stored[0].Seq)
	assert.Equal(t, uint64(3), stored[1].Seq)
}

func TestSchemaMismatchIsBackedUp(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755))

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`
        CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
        INSERT INTO schema_versions VALUES (99, datetime('now'));
        CREATE TABLE snapshots (legacy TEXT);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo, err := telemetry.NewRepository(cfg, logger.Nop())
	require.NoError(t, err)
	defer repo.Close()

	backups, err := filepath.Glob(filepath.Join(filepath.Dir(cfg.DBPath), "backups", "telemetry_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	require.NoError(t, repo.Record(snapshot(1, 2000)))
	require.NoError(t, repo.Record(snapshot(2, 2040)))
	require.NoError(t, repo.Record(snapshot(3, 2080)))
	stored, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

type fakeReader struct {
	mu  sync.Mutex
	cur signal.Snapshot
}

func (r *fakeReader) set(s signal.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = s
}

func (r *fakeReader) Get(c channel.Channel) float64 {
	return r.GetAll().Get(c)
}

func (r *fakeReader) GetAll() signal.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cur
}

func (*fakeReader) GetHistory(channel.Channel, int) []signal.Sample {
	return nil
}

type memoryRecorder struct {
	mu   sync.Mutex
	seqs []uint64
}

func (m *memoryRecorder) Record(_ context.Context, s signal.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs = append(m.seqs, s.Seq)

	return nil
}

func (*memoryRecorder) Recent(context.Context, int) ([]signal.Snapshot, error) {
	return nil, nil
}

func (*memoryRecorder) Close() error { return nil }

func (m *memoryRecorder) recorded() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]uint64(nil), m.seqs...)
}

func TestSampleSkipsUnchangedSnapshots(t *testing.T) {
	reader := &fakeReader{}
	rec := &memoryRecorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		telemetry.Sample(ctx, reader, rec, time.Millisecond, logger.Nop())
	}()

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, rec.recorded(), "nothing written yet")

	reader.set(snapshot(1, 1000))
	require.Eventually(t, func() bool { return len(rec.recorded()) == 1 }, time.Second, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	reader.set(snapshot(2, 1040))
	require.Eventually(t, func() bool { return len(rec.recorded()) == 2 }, time.Second, time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []uint64{1, 2}, rec.recorded())
}
