package repo

import (
	"context"

	"taskboard/internal/domain"
)

const attachmentColumns = `a.id, a.task_id, a.owner_id, a.filename, a.content_type, a.size, a.checksum, a.storage_key, a.created_at`

func scanAttachment(row rowScanner) (domain.Attachment, error) {
	var a domain.Attachment
	err := row.Scan(&a.ID, &a.TaskID, &a.OwnerID, &a.Filename, &a.ContentType, &a.Size, &a.Checksum, &a.StorageKey, &a.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return a, ErrNotFound
		}
		return a, err
	}
	return a, nil
}

// InsertAttachment records a stored blob against a task the session owns.
func (s Session) InsertAttachment(ctx context.Context, a domain.Attachment) (domain.Attachment, error) {
	a.OwnerID = s.owner
	where, scopeArgs := s.scope("t")
	args := []any{a.ID, a.OwnerID, a.Filename, a.ContentType, a.Size, a.Checksum, a.StorageKey, a.CreatedAt, a.TaskID}
	args = append(args, scopeArgs...)
	res, err := s.q.ExecContext(ctx, `INSERT INTO attachments(id,task_id,owner_id,filename,content_type,size,checksum,storage_key,created_at)
SELECT ?, t.id, ?, ?, ?, CAST(? AS BIGINT), ?, ?, ? FROM tasks t WHERE t.id=? AND `+where, args...)
	if err != nil {
		return a, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return a, ErrNotFound
	}
	return a, nil
}

func (s Session) ListAttachments(ctx context.Context, taskID string) ([]domain.Attachment, error) {
	where, scopeArgs := s.scope("t")
	args := append([]any{taskID, s.owner}, scopeArgs...)
	rows, err := s.q.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments a JOIN tasks t ON t.id=a.task_id
WHERE a.task_id=? AND a.owner_id=? AND `+where+` ORDER BY a.created_at ASC, a.id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s Session) GetAttachment(ctx context.Context, taskID, id string) (domain.Attachment, error) {
	where, scopeArgs := s.scope("t")
	args := append([]any{id, taskID, s.owner}, scopeArgs...)
	return scanAttachment(s.q.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments a JOIN tasks t ON t.id=a.task_id
WHERE a.id=? AND a.task_id=? AND a.owner_id=? AND `+where, args...))
}

func (s Session) DeleteAttachment(ctx context.Context, taskID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM attachments WHERE id=? AND task_id=? AND owner_id=?`, id, taskID, s.owner)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
