package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// Writer appends ActivityLog rows through a scoped session, normally one
// bound to the transaction that mutated the task.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, s repo.Session, taskID, agent string, action domain.Action, details domain.Document) (domain.ActivityLog, error) {
	if !action.Valid() {
		return domain.ActivityLog{}, fmt.Errorf("unknown activity action %q", action)
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if details == nil {
		details = domain.Document{}
	}
	entry := domain.ActivityLog{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Agent:     agent,
		Action:    action,
		Details:   details,
		CreatedAt: domain.FormatTime(w.Now()),
	}
	if err := s.InsertActivity(ctx, entry); err != nil {
		return domain.ActivityLog{}, fmt.Errorf("append activity: %w", err)
	}
	return entry, nil
}
