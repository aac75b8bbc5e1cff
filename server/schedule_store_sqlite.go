package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

func (s *SQLiteStore) ListSchedules(ctx context.Context, workflowID string) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, workflow_id, cron_expr, enabled, input_json, next_run_at,
       last_run_at, last_execution_id, last_status, last_error,
       created_at, updated_at
FROM workflow_schedules
WHERE workflow_id = ?
ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("schedule sqlite store list: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule sqlite store list rows: %w", err)
	}
	return schedules, nil
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, workflowID, scheduleID string) (Schedule, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, workflow_id, cron_expr, enabled, input_json, next_run_at,
       last_run_at, last_execution_id, last_status, last_error,
       created_at, updated_at
FROM workflow_schedules
WHERE workflow_id = ? AND id = ?`, workflowID, scheduleID)

	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Schedule{}, false, nil
		}
		return Schedule{}, false, err
	}
	return sched, true, nil
}

func (s *SQLiteStore) CreateSchedule(ctx context.Context, schedule Schedule) error {
	input, err := json.Marshal(schedule.Input)
	if err != nil {
		return fmt.Errorf("schedule sqlite store encode input: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO workflow_schedules
	(id, workflow_id, cron_expr, enabled, input_json, next_run_at,
	 last_run_at, last_execution_id, last_status, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID,
		schedule.WorkflowID,
		schedule.Cron,
		boolToInt(schedule.Enabled),
		input,
		schedule.NextRunAt.UTC().Format(time.RFC3339Nano),
		formatOptionalTime(schedule.LastRunAt),
		schedule.LastExecutionID,
		schedule.LastStatus,
		schedule.LastError,
		schedule.CreatedAt.UTC().Format(time.RFC3339Nano),
		schedule.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrScheduleExists
		}
		return fmt.Errorf("schedule sqlite store create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSchedule(ctx context.Context, schedule Schedule) error {
	input, err := json.Marshal(schedule.Input)
	if err != nil {
		return fmt.Errorf("schedule sqlite store encode input: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE workflow_schedules
SET cron_expr = ?, enabled = ?, input_json = ?, next_run_at = ?,
    last_run_at = ?, last_execution_id = ?, last_status = ?, last_error = ?,
    updated_at = ?
WHERE id = ? AND workflow_id = ?`,
		schedule.Cron,
		boolToInt(schedule.Enabled),
		input,
		schedule.NextRunAt.UTC().Format(time.RFC3339Nano),
		formatOptionalTime(schedule.LastRunAt),
		schedule.LastExecutionID,
		schedule.LastStatus,
		schedule.LastError,
		schedule.UpdatedAt.UTC().Format(time.RFC3339Nano),
		schedule.ID,
		schedule.WorkflowID,
	)
	if err != nil {
		return fmt.Errorf("schedule sqlite store update: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule sqlite store update affected rows: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, workflowID, scheduleID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_schedules WHERE id = ? AND workflow_id = ?`,
		scheduleID, workflowID)
	if err != nil {
		return fmt.Errorf("schedule sqlite store delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule sqlite store delete affected rows: %w", err)
	}
	if affected == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSchedulesByWorkflow(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_schedules WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return fmt.Errorf("schedule sqlite store delete by workflow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]Schedule, error) {
	query := `
SELECT id, workflow_id, cron_expr, enabled, input_json, next_run_at,
       last_run_at, last_execution_id, last_status, last_error,
       created_at, updated_at
FROM workflow_schedules
WHERE enabled = 1 AND next_run_at <= ?
ORDER BY next_run_at ASC`
	args := []any{now.UTC().Format(time.RFC3339Nano)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("schedule sqlite store list due: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule sqlite store list due rows: %w", err)
	}
	return schedules, nil
}

func scanSchedule(row rowScanner) (Schedule, error) {
	var (
		sched           Schedule
		enabled         int
		inputJSON       []byte
		nextRunAt       string
		lastRunAt       sql.NullString
		lastExecutionID sql.NullString
		lastStatus      sql.NullString
		lastError       sql.NullString
		createdAt       string
		updatedAt       string
	)

	err := row.Scan(
		&sched.ID,
		&sched.WorkflowID,
		&sched.Cron,
		&enabled,
		&inputJSON,
		&nextRunAt,
		&lastRunAt,
		&lastExecutionID,
		&lastStatus,
		&lastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule sqlite store scan: %w", err)
	}

	sched.Enabled = enabled != 0
	sched.LastExecutionID = lastExecutionID.String
	sched.LastStatus = lastStatus.String
	sched.LastError = lastError.String

	if len(inputJSON) > 0 {
		if err := json.Unmarshal(inputJSON, &sched.Input); err != nil {
			return Schedule{}, fmt.Errorf("schedule sqlite store decode input: %w", err)
		}
	}

	sched.NextRunAt, err = parseStoredTime(nextRunAt)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule sqlite store parse next_run_at: %w", err)
	}
	if lastRunAt.Valid && lastRunAt.String != "" {
		t, err := parseStoredTime(lastRunAt.String)
		if err != nil {
			return Schedule{}, fmt.Errorf("schedule sqlite store parse last_run_at: %w", err)
		}
		sched.LastRunAt = &t
	}
	sched.CreatedAt, err = parseStoredTime(createdAt)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule sqlite store parse created_at: %w", err)
	}
	sched.UpdatedAt, err = parseStoredTime(updatedAt)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule sqlite store parse updated_at: %w", err)
	}

	return sched, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
