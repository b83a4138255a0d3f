package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// defaultSnapshotName keys the single snapshot row in database backends.
const defaultSnapshotName = "default"

// openSQLite opens a SQLite database and configures WAL mode.
func openSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	return db, nil
}

// SQLiteBackend stores the snapshot document as a single row.
type SQLiteBackend struct {
	db   *sql.DB
	name string
}

// NewSQLiteBackend opens the database at dsn and creates the snapshot table.
func NewSQLiteBackend(ctx context.Context, dsn string) (*SQLiteBackend, error) {
	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	b := &SQLiteBackend{db: db, name: defaultSnapshotName}
	if err := b.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return b, nil
}

const sqliteSnapshotMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	name     TEXT PRIMARY KEY,
	body     BLOB NOT NULL,
	saved_at DATETIME NOT NULL
);
`

// Migrate creates the snapshot table if needed.
func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, sqliteSnapshotMigration)
	return eris.Wrap(err, "sqlite: migrate snapshots")
}

func (b *SQLiteBackend) Read(ctx context.Context) ([]byte, error) {
	var body []byte
	err := b.db.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE name = ?`, b.name).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read snapshot")
	}
	return body, nil
}

// Write replaces the snapshot row inside a transaction.
func (b *SQLiteBackend) Write(ctx context.Context, data []byte) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin snapshot tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (name, body, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET body = excluded.body, saved_at = excluded.saved_at`,
		b.name, data, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: write snapshot")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit snapshot")
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
