// internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// TriggerState is the persisted freshness marker of one trigger.
type TriggerState struct {
	Trigger   string
	LastRun   time.Time
	PassID    string
	UpdatedAt time.Time
}

// Evaluation outcomes.
const (
	OutcomeMatched      = "matched"
	OutcomeNoMatch      = "no_match"
	OutcomeCatalogError = "catalog_error"
	OutcomePersistError = "persist_error"
	OutcomeSkipped      = "skipped"
)

// EvaluationRecord is one evaluation pass.
type EvaluationRecord struct {
	ID            int64
	Trigger       string
	PassID        string
	Source        string
	Outcome       string
	StartedAt     time.Time
	DurationMs    int64
	Matches       int
	ImageIDs      string // comma-separated
	ActionStarted bool
	Error         string
}

// Action states.
const (
	ActionSuccess = "success"
	ActionFailure = "failure"
	ActionTimeout = "timeout"
	ActionDryRun  = "dry_run"
	// ActionDropped is a queued action discarded at shutdown.
	ActionDropped = "dropped"
)

// ActionRecord is one execution of a trigger's action.
type ActionRecord struct {
	ID           int64
	Trigger      string
	PassID       string
	State        string
	StartedAt    time.Time
	FinishedAt   time.Time
	DurationMs   int64
	RetryAttempt int
	Summary      string
	Variables    string // JSON-serialized, truncated
	Error        string
	Output       string // truncated, scrubbed of secrets
	DryRun       bool
}

// DB wraps the SQLite database connection for trigger state and history.
type DB struct {
	db *sql.DB
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS trigger_state (
    trigger_name TEXT PRIMARY KEY,
    last_run DATETIME NOT NULL,
    pass_id TEXT,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluation_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trigger_name TEXT NOT NULL,
    pass_id TEXT,
    source TEXT NOT NULL,
    outcome TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL,
    matches INTEGER NOT NULL DEFAULT 0,
    image_ids TEXT,
    action_started BOOLEAN NOT NULL DEFAULT FALSE,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS action_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trigger_name TEXT NOT NULL,
    pass_id TEXT,
    state TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    duration_ms INTEGER NOT NULL,
    retry_attempt INTEGER DEFAULT 0,
    summary TEXT,
    variables TEXT,
    error TEXT,
    output TEXT,
    dry_run BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_evaluation_history_trigger ON evaluation_history(trigger_name);
CREATE INDEX IF NOT EXISTS idx_evaluation_history_started ON evaluation_history(started_at);
CREATE INDEX IF NOT EXISTS idx_action_history_trigger ON action_history(trigger_name);
CREATE INDEX IF NOT EXISTS idx_action_history_state ON action_history(state);
CREATE INDEX IF NOT EXISTS idx_action_history_started ON action_history(started_at);
`

// Open opens or creates a state database at the given path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer avoids SQLITE_BUSY between the poll loop and action goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if _, err := db.Exec(stateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
			db.Close()
			return nil, fmt.Errorf("writing schema version: %w", err)
		}
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// SaveTriggerState upserts the freshness marker of a trigger.
func (d *DB) SaveTriggerState(ctx context.Context, s TriggerState) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO trigger_state (trigger_name, last_run, pass_id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trigger_name) DO UPDATE SET
			last_run = excluded.last_run,
			pass_id = excluded.pass_id,
			updated_at = excluded.updated_at`,
		s.Trigger, s.LastRun.UTC(), s.PassID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving state for %s: %w", s.Trigger, err)
	}
	return nil
}

// GetTriggerState returns the stored state and false when none exists.
func (d *DB) GetTriggerState(ctx context.Context, trigger string) (TriggerState, bool, error) {
	s := TriggerState{Trigger: trigger}
	var passID sql.NullString
	err := d.db.QueryRowContext(ctx,
		"SELECT last_run, pass_id, updated_at FROM trigger_state WHERE trigger_name = ?",
		trigger,
	).Scan(&s.LastRun, &passID, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("loading state for %s: %w", trigger, err)
	}
	s.PassID = passID.String
	return s, true, nil
}

// ListTriggerStates returns every stored state ordered by trigger name.
func (d *DB) ListTriggerStates(ctx context.Context) ([]TriggerState, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT trigger_name, last_run, pass_id, updated_at FROM trigger_state ORDER BY trigger_name")
	if err != nil {
		return nil, fmt.Errorf("listing trigger states: %w", err)
	}
	defer rows.Close()

	var states []TriggerState
	for rows.Next() {
		var s TriggerState
		var passID sql.NullString
		if err := rows.Scan(&s.Trigger, &s.LastRun, &passID, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning trigger state: %w", err)
		}
		s.PassID = passID.String
		states = append(states, s)
	}
	return states, rows.Err()
}

// DeleteTriggerState forgets a trigger so its next start begins at "now".
func (d *DB) DeleteTriggerState(ctx context.Context, trigger string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM trigger_state WHERE trigger_name = ?", trigger); err != nil {
		return fmt.Errorf("deleting state for %s: %w", trigger, err)
	}
	return nil
}

// RecordEvaluation stores an evaluation record and returns its ID.
func (d *DB) RecordEvaluation(ctx context.Context, rec EvaluationRecord) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO evaluation_history
		(trigger_name, pass_id, source, outcome, started_at, duration_ms,
		 matches, image_ids, action_started, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Trigger, rec.PassID, rec.Source, rec.Outcome, rec.StartedAt.UTC(),
		rec.DurationMs, rec.Matches, rec.ImageIDs, rec.ActionStarted, rec.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("recording evaluation: %w", err)
	}
	return result.LastInsertId()
}

// GetEvaluations retrieves evaluation history filtered by trigger and/or outcome.
func (d *DB) GetEvaluations(ctx context.Context, trigger, outcome string, limit int) ([]EvaluationRecord, error) {
	query := "SELECT id, trigger_name, pass_id, source, outcome, started_at, duration_ms, matches, image_ids, action_started, error FROM evaluation_history WHERE 1=1"
	var args []any

	if trigger != "" {
		query += " AND trigger_name = ?"
		args = append(args, trigger)
	}
	if outcome != "" {
		query += " AND outcome = ?"
		args = append(args, outcome)
	}

	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying evaluations: %w", err)
	}
	defer rows.Close()

	var records []EvaluationRecord
	for rows.Next() {
		var r EvaluationRecord
		var passID, imageIDs, errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.Trigger, &passID, &r.Source, &r.Outcome,
			&r.StartedAt, &r.DurationMs, &r.Matches, &imageIDs, &r.ActionStarted,
			&errStr); err != nil {
			return nil, fmt.Errorf("scanning evaluation: %w", err)
		}
		r.PassID = passID.String
		r.ImageIDs = imageIDs.String
		r.Error = errStr.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordAction stores an action record and returns its ID.
func (d *DB) RecordAction(ctx context.Context, rec ActionRecord) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO action_history
		(trigger_name, pass_id, state, started_at, finished_at, duration_ms,
		 retry_attempt, summary, variables, error, output, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Trigger, rec.PassID, rec.State, rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
		rec.DurationMs, rec.RetryAttempt, rec.Summary, rec.Variables,
		rec.Error, rec.Output, rec.DryRun,
	)
	if err != nil {
		return 0, fmt.Errorf("recording action: %w", err)
	}
	return result.LastInsertId()
}

// GetActions retrieves action history filtered by trigger and/or state.
func (d *DB) GetActions(ctx context.Context, trigger, state string, limit int) ([]ActionRecord, error) {
	query := "SELECT id, trigger_name, pass_id, state, started_at, finished_at, duration_ms, retry_attempt, summary, variables, error, output, dry_run FROM action_history WHERE 1=1"
	var args []any

	if trigger != "" {
		query += " AND trigger_name = ?"
		args = append(args, trigger)
	}
	if state != "" {
		query += " AND state = ?"
		args = append(args, state)
	}

	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actions: %w", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var r ActionRecord
		var passID, summary, vars, errStr, output sql.NullString
		if err := rows.Scan(&r.ID, &r.Trigger, &passID, &r.State,
			&r.StartedAt, &r.FinishedAt, &r.DurationMs, &r.RetryAttempt,
			&summary, &vars, &errStr, &output, &r.DryRun); err != nil {
			return nil, fmt.Errorf("scanning action: %w", err)
		}
		r.PassID = passID.String
		r.Summary = summary.String
		r.Variables = vars.String
		r.Error = errStr.String
		r.Output = output.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetLastActionState returns the most recent action state for a trigger.
func (d *DB) GetLastActionState(ctx context.Context, trigger string) (string, error) {
	var state sql.NullString
	err := d.db.QueryRowContext(ctx,
		"SELECT state FROM action_history WHERE trigger_name = ? ORDER BY started_at DESC, id DESC LIMIT 1",
		trigger,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting last action state: %w", err)
	}
	return state.String, nil
}

// Cleanup removes history records older than the specified number of days.
// Trigger state is never removed.
func (d *DB) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	var total int64
	for _, table := range []string{"evaluation_history", "action_history"} {
		result, err := d.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE started_at < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("cleaning up %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}
