package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/racedash/internal/errors"
	"codeberg.org/mutker/racedash/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS snapshots (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       seq          INTEGER NOT NULL,
	       timestamp    INTEGER NOT NULL,
	       rpm          REAL NOT NULL,
	       speed        REAL NOT NULL,
	       throttle     REAL NOT NULL CHECK (throttle BETWEEN 0 AND 100),
	       brake        REAL NOT NULL CHECK (brake BETWEEN 0 AND 100),
	       coolant_temp REAL NOT NULL,
	       oil_pressure REAL NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS snapshots_timestamp ON snapshots (timestamp);`

	insertSnapshotSQL = `
    INSERT INTO snapshots (
        seq, timestamp,
        rpm, speed, throttle, brake,
        coolant_temp, oil_pressure
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectRecentSQL = `
    SELECT seq, timestamp, rpm, speed, throttle, brake, coolant_temp, oil_pressure
    FROM snapshots
    ORDER BY id DESC
    LIMIT ?`
)

var managedTables = []string{"snapshots", "schema_versions"}

// InitSchema creates the tables and records SchemaVersion.
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "create_tables",
			Error: err.Error(),
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().Int("version", SchemaVersion).Msg("Schema initialized")

	return nil
}

// GetSchemaVersion returns the stored schema version, 0 for an empty database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

func TableExists(db *sql.DB, table string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, table).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Table string
			Error string
		}{
			Table: table,
			Error: err.Error(),
		})
	}

	return exists, nil
}
