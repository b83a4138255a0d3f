package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/comerito/cezar/internal/model"
)

// SQLiteRunLog records pipeline runs and the analysis kinds executed in
// each. It lives next to the snapshot but is never part of it.
type SQLiteRunLog struct {
	db *sql.DB
}

// NewSQLiteRunLog opens the run log database at dsn.
func NewSQLiteRunLog(dsn string) (*SQLiteRunLog, error) {
	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteRunLog{db: db}, nil
}

const sqliteRunLogMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	repository  TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	dry_run     INTEGER NOT NULL DEFAULT 0,
	recheck     INTEGER NOT NULL DEFAULT 0,
	summary     TEXT,
	created_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

// Migrate creates the run log tables if needed.
func (l *SQLiteRunLog) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, sqliteRunLogMigration)
	return eris.Wrap(err, "sqlite: migrate run log")
}

func (l *SQLiteRunLog) Close() error {
	return l.db.Close()
}

// CreateRun inserts a run in the running state.
func (l *SQLiteRunLog) CreateRun(ctx context.Context, repository string, dryRun, recheck bool) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, repository, status, dry_run, recheck, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, repository, string(model.RunStatusRunning), dryRun, recheck, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:         id,
		Repository: repository,
		Status:     model.RunStatusRunning,
		DryRun:     dryRun,
		Recheck:    recheck,
		CreatedAt:  now,
	}, nil
}

// FinishRun sets the terminal status and summary of a run.
func (l *SQLiteRunLog) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, finished_at = ? WHERE id = ?`,
		string(status), summary, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// CreatePhase inserts a phase for the run in the running state.
func (l *SQLiteRunLog) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

// CompletePhase stores the phase result and its status.
func (l *SQLiteRunLog) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

// ListRuns returns the most recent runs first.
func (l *SQLiteRunLog) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, repository, status, dry_run, recheck, summary, created_at, finished_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var summary sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Repository, &r.Status, &r.DryRun, &r.Recheck, &summary, &r.CreatedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Summary = summary.String
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// ListPhases returns the phases of a run in start order.
func (l *SQLiteRunLog) ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, result, started_at FROM run_phases
		 WHERE run_id = ? ORDER BY started_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list phases for run %s", runID)
	}
	defer rows.Close()

	var phases []model.RunPhase
	for rows.Next() {
		var p model.RunPhase
		var resultJSON sql.NullString
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Status, &resultJSON, &p.StartedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan phase")
		}
		if resultJSON.Valid {
			p.Result = &model.PhaseResult{}
			if err := json.Unmarshal([]byte(resultJSON.String), p.Result); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal phase result")
			}
		}
		phases = append(phases, p)
	}
	return phases, eris.Wrap(rows.Err(), "sqlite: list phases iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
