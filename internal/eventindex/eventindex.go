// Package eventindex copies a workflow's audit logs into SQLite so they can
// be filtered and kept after the workflow directory is archived or deleted.
package eventindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/miles990/multi-agent-workflow/internal/logstore"
	"github.com/miles990/multi-agent-workflow/internal/queue"
	"github.com/miles990/multi-agent-workflow/internal/workflow"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	status      TEXT NOT NULL,
	data        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type, created_at);

CREATE TABLE IF NOT EXISTS errors (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	error_type  TEXT NOT NULL,
	message     TEXT NOT NULL,
	data        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_errors_type ON errors(error_type, created_at);
`

// Index is an open event database.
type Index struct {
	db *sql.DB
}

// Open opens or creates the database at path with WAL and a 5-second busy
// timeout, and ensures the schema exists.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("prepare %s: %w", path, err)
		}
	}

	return &Index{db: db}, nil
}

// Close releases the database.
func (ix *Index) Close() error {
	if ix.db != nil {
		return ix.db.Close()
	}
	return nil
}

// ExportResult counts the records newly added by an export.
type ExportResult struct {
	Events int `json:"events"`
	Errors int `json:"errors"`
}

// Export loads the events.jsonl and errors.jsonl of the workflow at
// workflowDir into the database at dbPath. Records already present, matched
// by id, are left alone, so exporting the same workflow twice adds nothing.
func Export(ctx context.Context, dbPath, workflowDir string) (ExportResult, error) {
	l := queue.Layout(workflowDir)

	events, err := logstore.ReadAll[workflow.Event](l.Events())
	if err != nil {
		return ExportResult{}, err
	}
	errs, err := logstore.ReadAll[workflow.ErrorRecord](l.Errors())
	if err != nil {
		return ExportResult{}, err
	}

	ix, err := Open(ctx, dbPath)
	if err != nil {
		return ExportResult{}, err
	}
	defer ix.Close()

	evs := make([]workflow.Event, len(events))
	for i, rec := range events {
		evs[i] = rec.Value
	}
	ers := make([]workflow.ErrorRecord, len(errs))
	for i, rec := range errs {
		ers[i] = rec.Value
	}

	return ix.Import(ctx, evs, ers)
}

// Import inserts events and error records in one transaction, skipping ids
// that are already stored.
func (ix *Index) Import(ctx context.Context, events []workflow.Event, errs []workflow.ErrorRecord) (ExportResult, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return ExportResult{}, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	var result ExportResult

	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return ExportResult{}, fmt.Errorf("marshal event %s: %w", ev.ID, err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO events (id, workflow_id, event_type, status, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.WorkflowID, string(ev.EventType), ev.Status, string(data), formatTime(ev.Timestamp))
		if err != nil {
			return ExportResult{}, fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		result.Events += affected(res)
	}

	for _, er := range errs {
		data, err := json.Marshal(er.Data)
		if err != nil {
			return ExportResult{}, fmt.Errorf("marshal error %s: %w", er.ID, err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO errors (id, workflow_id, error_type, message, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			er.ID, er.WorkflowID, string(er.ErrorType), er.Message, string(data), formatTime(er.Timestamp))
		if err != nil {
			return ExportResult{}, fmt.Errorf("insert error %s: %w", er.ID, err)
		}
		result.Errors += affected(res)
	}

	if err := tx.Commit(); err != nil {
		return ExportResult{}, fmt.Errorf("commit import: %w", err)
	}
	return result, nil
}

// QueryOpts specifies filter criteria for queries.
type QueryOpts struct {
	// WorkflowID restricts results to one workflow.
	WorkflowID string

	// Type filters by event_type or error_type.
	Type string

	// After filters records created at or after this time.
	After *time.Time

	// Before filters records created at or before this time.
	Before *time.Time

	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// QueryEvents returns matching events, newest first.
func (ix *Index) QueryEvents(ctx context.Context, opts QueryOpts) ([]workflow.Event, error) {
	query, args := buildQuery("SELECT id, workflow_id, event_type, status, data, created_at FROM events", "event_type", opts)

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []workflow.Event{}
	for rows.Next() {
		var (
			ev        workflow.Event
			eventType string
			data      string
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.WorkflowID, &eventType, &ev.Status, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.EventType = workflow.EventType(eventType)
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, fmt.Errorf("decode event %s data: %w", ev.ID, err)
		}
		if ev.Timestamp, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// QueryErrors returns matching error records, newest first.
func (ix *Index) QueryErrors(ctx context.Context, opts QueryOpts) ([]workflow.ErrorRecord, error) {
	query, args := buildQuery("SELECT id, workflow_id, error_type, message, data, created_at FROM errors", "error_type", opts)

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()

	records := []workflow.ErrorRecord{}
	for rows.Next() {
		var (
			rec       workflow.ErrorRecord
			errorType string
			data      string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &errorType, &rec.Message, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan error record: %w", err)
		}
		rec.ErrorType = workflow.ErrorType(errorType)
		if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
			return nil, fmt.Errorf("decode error %s data: %w", rec.ID, err)
		}
		if rec.Timestamp, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate errors: %w", err)
	}
	return records, nil
}

// buildQuery appends the filters in opts to base.
func buildQuery(base, typeColumn string, opts QueryOpts) (string, []any) {
	var conditions []string
	var args []any

	if opts.WorkflowID != "" {
		conditions = append(conditions, "workflow_id = ?")
		args = append(args, opts.WorkflowID)
	}
	if opts.Type != "" {
		conditions = append(conditions, typeColumn+" = ?")
		args = append(args, opts.Type)
	}
	if opts.After != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(*opts.After))
	}
	if opts.Before != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, formatTime(*opts.Before))
	}

	query := base
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	return query, args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func affected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
