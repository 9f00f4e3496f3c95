package repo

import (
	"context"
	"fmt"

	"taskboard/internal/domain"
)

// InsertActivity appends a log row for a task the session owns. The insert
// selects from tasks so a foreign or deleted task id inserts nothing and
// reports ErrNotFound.
func (s Session) InsertActivity(ctx context.Context, l domain.ActivityLog) error {
	details, err := marshalDocument(l.Details, "{}")
	if err != nil {
		return err
	}
	where, scopeArgs := s.scope("t")
	args := []any{l.ID, l.Agent, string(l.Action), details, l.CreatedAt, l.TaskID}
	args = append(args, scopeArgs...)
	res, err := s.q.ExecContext(ctx, `INSERT INTO activity_logs(id,task_id,agent,action,details_json,created_at)
SELECT ?, t.id, ?, ?, ?, ? FROM tasks t WHERE t.id=? AND `+where, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActivity returns a task's log, oldest first.
func (s Session) ListActivity(ctx context.Context, taskID string, limit int) ([]domain.ActivityLog, error) {
	where, scopeArgs := s.scope("t")
	args := append([]any{taskID}, scopeArgs...)
	query := `SELECT a.id,a.task_id,a.agent,a.action,a.details_json,a.created_at
FROM activity_logs a JOIN tasks t ON t.id=a.task_id
WHERE a.task_id=? AND ` + where + ` ORDER BY a.created_at ASC, a.id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []domain.ActivityLog
	for rows.Next() {
		var l domain.ActivityLog
		var details string
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Agent, &l.Action, &details, &l.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalDocument(details, &l.Details); err != nil {
			return nil, fmt.Errorf("activity %s details: %w", l.ID, err)
		}
		if l.Details == nil {
			l.Details = domain.Document{}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
