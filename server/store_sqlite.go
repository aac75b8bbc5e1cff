package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quillflow/quillflow/canvas"
)

const workflowSQLiteSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	name TEXT,
	definition BLOB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_schedules (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	cron_expr TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	input_json BLOB NOT NULL,
	next_run_at TEXT NOT NULL,
	last_run_at TEXT,
	last_execution_id TEXT,
	last_status TEXT,
	last_error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	FOREIGN KEY(workflow_id) REFERENCES workflows(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_workflow_schedules_workflow
ON workflow_schedules(workflow_id);

CREATE INDEX IF NOT EXISTS idx_workflow_schedules_due
ON workflow_schedules(enabled, next_run_at);`

// SQLiteStoreConfig configures the SQLite workflow store.
type SQLiteStoreConfig struct {
	DSN string
}

// SQLiteStore persists workflow records and schedules in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite-backed workflow store.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("workflow store sqlite dsn is required")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("workflow sqlite store open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workflow sqlite store set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workflow sqlite store enable foreign keys: %w", err)
	}

	if _, err := db.Exec(workflowSQLiteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workflow sqlite store create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) List(ctx context.Context) ([]WorkflowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, definition, version, created_at, updated_at
FROM workflows
ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("workflow sqlite store list: %w", err)
	}
	defer rows.Close()

	var records []WorkflowRecord
	for rows.Next() {
		rec, err := scanWorkflowRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workflow sqlite store list rows: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (WorkflowRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, definition, version, created_at, updated_at
FROM workflows
WHERE id = ?`, id)

	rec, err := scanWorkflowRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WorkflowRecord{}, false, nil
		}
		return WorkflowRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec WorkflowRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Version == 0 {
		rec.Version = 1
	}

	definition, err := marshalDefinition(rec.Definition)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO workflows (id, name, definition, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Name,
		definition,
		rec.Version,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrWorkflowExists
		}
		return fmt.Errorf("workflow sqlite store create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, rec WorkflowRecord, force bool) (WorkflowRecord, error) {
	definition, err := marshalDefinition(rec.Definition)
	if err != nil {
		return WorkflowRecord{}, err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	query := `
UPDATE workflows
SET name = ?, definition = ?, version = version + 1, updated_at = ?
WHERE id = ?`
	args := []any{rec.Name, definition, rec.UpdatedAt.UTC().Format(time.RFC3339Nano), rec.ID}
	if !force {
		query += " AND version = ?"
		args = append(args, rec.Version)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("workflow sqlite store update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("workflow sqlite store update affected rows: %w", err)
	}
	if affected == 0 {
		// Distinguish a missing workflow from a stale version.
		_, exists, getErr := s.Get(ctx, rec.ID)
		if getErr != nil {
			return WorkflowRecord{}, getErr
		}
		if !exists {
			return WorkflowRecord{}, ErrWorkflowNotFound
		}
		return WorkflowRecord{}, ErrVersionConflict
	}

	updated, _, err := s.Get(ctx, rec.ID)
	if err != nil {
		return WorkflowRecord{}, err
	}
	return updated, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("workflow sqlite store delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workflow sqlite store delete affected rows: %w", err)
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflowRecord(row rowScanner) (WorkflowRecord, error) {
	var (
		rec            WorkflowRecord
		name           sql.NullString
		definitionData []byte
		createdAt      string
		updatedAt      string
	)

	if err := row.Scan(&rec.ID, &name, &definitionData, &rec.Version, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WorkflowRecord{}, err
		}
		return WorkflowRecord{}, fmt.Errorf("workflow sqlite store scan: %w", err)
	}

	rec.Name = name.String

	if len(definitionData) > 0 {
		var def canvas.Definition
		if err := json.Unmarshal(definitionData, &def); err != nil {
			return WorkflowRecord{}, fmt.Errorf("workflow sqlite store decode definition: %w", err)
		}
		rec.Definition = &def
	}

	var err error
	rec.CreatedAt, err = parseStoredTime(createdAt)
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("workflow sqlite store parse created_at: %w", err)
	}
	rec.UpdatedAt, err = parseStoredTime(updatedAt)
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("workflow sqlite store parse updated_at: %w", err)
	}

	return rec, nil
}

func marshalDefinition(def *canvas.Definition) ([]byte, error) {
	if def == nil {
		return nil, errors.New("workflow record has no definition")
	}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("workflow sqlite store encode definition: %w", err)
	}
	return data, nil
}

func parseStoredTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

// Compile-time interface checks.
var (
	_ WorkflowStore = (*SQLiteStore)(nil)
	_ ScheduleStore = (*SQLiteStore)(nil)
)
