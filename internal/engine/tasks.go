package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/repo"
)

const (
	maxTitle        = 200
	maxDescription  = 20000
	maxAgentName    = 64
	defaultPageSize = 50
	maxPageSize     = 200
)

// TaskInput carries the caller-settable fields of a new task.
type TaskInput struct {
	Title               string
	Description         string
	Intent              domain.Intent
	Priority            int
	Context             domain.Document
	ParentTaskID        string
	AssignedAgent       string
	RequiresHumanReview bool
	Artifacts           []string
}

func (e Engine) buildTask(in TaskInput, now string) (domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "title is required"}
	}
	if len(title) > maxTitle {
		return domain.Task{}, ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", maxTitle)}
	}
	if len(in.Description) > maxDescription {
		return domain.Task{}, ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", maxDescription)}
	}
	intent := in.Intent
	if intent == "" {
		intent = domain.IntentBuild
	}
	if !intent.Valid() {
		return domain.Task{}, ValidationError{Field: "intent", Reason: fmt.Sprintf("unknown intent %q", intent)}
	}
	if err := e.validateDocument("context", in.Context); err != nil {
		return domain.Task{}, err
	}
	artifacts, err := cleanArtifacts(in.Artifacts)
	if err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:                  domain.NewShortID(),
		Title:               title,
		Description:         in.Description,
		Intent:              intent,
		Status:              domain.StatusTodo,
		Priority:            in.Priority,
		Context:             in.Context,
		RequiresHumanReview: in.RequiresHumanReview,
		Artifacts:           artifacts,
		Blockers:            []string{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if t.Context == nil {
		t.Context = domain.Document{}
	}
	if agent := strings.TrimSpace(in.AssignedAgent); agent != "" {
		if len(agent) > maxAgentName {
			return domain.Task{}, ValidationError{Field: "assigned_agent", Reason: fmt.Sprintf("must be at most %d characters", maxAgentName)}
		}
		t.AssignedAgent = &agent
	}
	if parent := strings.TrimSpace(in.ParentTaskID); parent != "" {
		t.ParentTaskID = &parent
	}
	return t, nil
}

func cleanArtifacts(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			return nil, ValidationError{Field: "artifacts", Reason: "artifact references must not be blank"}
		}
		out = append(out, a)
	}
	return out, nil
}

func (e Engine) CreateTask(ctx context.Context, id auth.Identity, in TaskInput) (domain.Task, error) {
	t, err := e.buildTask(in, domain.FormatTime(e.now()))
	if err != nil {
		return domain.Task{}, err
	}
	var out domain.Task
	err = e.write(ctx, id, func(s repo.Session) error {
		if t.ParentTaskID != nil {
			if _, err := s.GetTask(ctx, *t.ParentTaskID); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return ValidationError{Field: "parent_task_id", Reason: "parent task not found"}
				}
				return err
			}
		}
		created, err := s.InsertTask(ctx, t)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if _, err := e.writer().Append(ctx, s, created.ID, id.Actor, domain.ActionCreated, domain.Document{
			"title":  created.Title,
			"intent": string(created.Intent),
		}); err != nil {
			return err
		}
		out = created
		return nil
	})
	e.Metrics.Transition("create", err)
	return out, err
}

// AddSubtask creates a child of parentID and records it on both tasks.
func (e Engine) AddSubtask(ctx context.Context, id auth.Identity, parentID string, in TaskInput) (domain.Task, error) {
	in.ParentTaskID = parentID
	t, err := e.buildTask(in, domain.FormatTime(e.now()))
	if err != nil {
		return domain.Task{}, err
	}
	var out domain.Task
	err = e.write(ctx, id, func(s repo.Session) error {
		parent, err := s.GetTask(ctx, parentID)
		if err != nil {
			return err
		}
		if parent.Status.Terminal() {
			return ConflictError{Op: "add subtask", From: parent.Status}
		}
		child, err := s.InsertTask(ctx, t)
		if err != nil {
			return fmt.Errorf("insert subtask: %w", err)
		}
		w := e.writer()
		if _, err := w.Append(ctx, s, child.ID, id.Actor, domain.ActionCreated, domain.Document{
			"title":          child.Title,
			"intent":         string(child.Intent),
			"parent_task_id": parent.ID,
		}); err != nil {
			return err
		}
		if _, err := w.Append(ctx, s, parent.ID, id.Actor, domain.ActionAddedSubtask, domain.Document{
			"subtask_id": child.ID,
			"title":      child.Title,
		}); err != nil {
			return err
		}
		out = child
		return nil
	})
	e.Metrics.Transition("add_subtask", err)
	return out, err
}

func (e Engine) GetTask(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	s, err := e.read(id)
	if err != nil {
		return domain.Task{}, err
	}
	return s.GetTask(ctx, taskID)
}

type ListOptions struct {
	Status         domain.Status
	Intent         domain.Intent
	AssignedAgent  string
	ParentTaskID   string
	IncludeDeleted bool
	Limit          int
	Cursor         string
}

// TaskPage is one page of a task listing. NextCursor is empty on the last
// page.
type TaskPage struct {
	Tasks      []domain.Task `json:"tasks"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func (e Engine) ListTasks(ctx context.Context, id auth.Identity, opts ListOptions) (TaskPage, error) {
	s, err := e.read(id)
	if err != nil {
		return TaskPage{}, err
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return TaskPage{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", opts.Status)}
	}
	if opts.Intent != "" && !opts.Intent.Valid() {
		return TaskPage{}, ValidationError{Field: "intent", Reason: fmt.Sprintf("unknown intent %q", opts.Intent)}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	f := repo.TaskFilters{
		Status:        opts.Status,
		Intent:        opts.Intent,
		AssignedAgent: strings.TrimSpace(opts.AssignedAgent),
		ParentTaskID:  strings.TrimSpace(opts.ParentTaskID),
		Limit:         limit + 1,
	}
	if opts.Cursor != "" {
		createdAt, taskID, err := decodeCursor(opts.Cursor)
		if err != nil {
			return TaskPage{}, err
		}
		f.CursorCreatedAt, f.CursorID = createdAt, taskID
	}
	if opts.IncludeDeleted {
		s = s.IncludeDeleted()
	}
	tasks, err := s.ListTasks(ctx, f)
	if err != nil {
		return TaskPage{}, err
	}
	page := TaskPage{Tasks: tasks}
	if len(tasks) > limit {
		page.Tasks = tasks[:limit]
		last := page.Tasks[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	if page.Tasks == nil {
		page.Tasks = []domain.Task{}
	}
	return page, nil
}

func encodeCursor(createdAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(createdAt + "|" + id))
}

func decodeCursor(c string) (string, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return "", "", ValidationError{Field: "cursor", Reason: "malformed cursor"}
	}
	createdAt, id, ok := strings.Cut(string(raw), "|")
	if !ok || createdAt == "" || id == "" {
		return "", "", ValidationError{Field: "cursor", Reason: "malformed cursor"}
	}
	return createdAt, id, nil
}

type NextOptions struct {
	Intent domain.Intent
	// Agent defaults to the caller's actor name.
	Agent string
	// Claim starts the returned task for the caller.
	Claim bool
}

const claimAttempts = 3

// NextTask returns the highest-priority todo task available to the agent,
// optionally claiming it. A task lost to a concurrent claim is skipped.
func (e Engine) NextTask(ctx context.Context, id auth.Identity, opts NextOptions) (domain.Task, error) {
	s, err := e.read(id)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Intent != "" && !opts.Intent.Valid() {
		return domain.Task{}, ValidationError{Field: "intent", Reason: fmt.Sprintf("unknown intent %q", opts.Intent)}
	}
	agent := strings.TrimSpace(opts.Agent)
	if agent == "" {
		agent = id.Actor
	}
	f := repo.NextTaskFilters{Intent: opts.Intent, Agent: agent}
	for attempt := 0; ; attempt++ {
		t, err := s.NextTask(ctx, f)
		if err != nil || !opts.Claim {
			return t, err
		}
		claimed, err := e.Start(ctx, id, t.ID)
		var conflict ConflictError
		if errors.As(err, &conflict) && attempt+1 < claimAttempts {
			continue
		}
		return claimed, err
	}
}

// TaskPatch lists optional changes. A nil field is left alone; an empty
// string clears ParentTaskID and AssignedAgent.
type TaskPatch struct {
	Title               *string
	Description         *string
	Intent              *domain.Intent
	Status              *domain.Status
	Priority            *int
	Context             *domain.Document
	ParentTaskID        *string
	AssignedAgent       *string
	Result              *domain.Document
	Artifacts           *[]string
	Confidence          *float64
	RequiresHumanReview *bool
}

func (e Engine) UpdateTask(ctx context.Context, id auth.Identity, taskID string, p TaskPatch) (domain.Task, error) {
	var out domain.Task
	err := e.write(ctx, id, func(s repo.Session) error {
		t, err := s.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		from := t.Status
		now := domain.FormatTime(e.now())
		changed, err := e.applyPatch(ctx, s, &t, p, now)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			out = t
			return nil
		}
		t.UpdatedAt = now
		if err := s.UpdateTask(ctx, t, from); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return ConflictError{Op: "update", From: from}
			}
			return err
		}
		details := domain.Document{"fields": changed}
		if t.Status != from {
			details["from_status"] = string(from)
			details["to_status"] = string(t.Status)
		}
		if _, err := e.writer().Append(ctx, s, t.ID, id.Actor, domain.ActionUpdated, details); err != nil {
			return err
		}
		out = t
		return nil
	})
	e.Metrics.Transition("update", err)
	return out, err
}

func (e Engine) applyPatch(ctx context.Context, s repo.Session, t *domain.Task, p TaskPatch, now string) ([]string, error) {
	var changed []string
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, ValidationError{Field: "title", Reason: "title must not be blank"}
		}
		if len(title) > maxTitle {
			return nil, ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", maxTitle)}
		}
		t.Title = title
		changed = append(changed, "title")
	}
	if p.Description != nil {
		if len(*p.Description) > maxDescription {
			return nil, ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", maxDescription)}
		}
		t.Description = *p.Description
		changed = append(changed, "description")
	}
	if p.Intent != nil {
		if !p.Intent.Valid() {
			return nil, ValidationError{Field: "intent", Reason: fmt.Sprintf("unknown intent %q", *p.Intent)}
		}
		t.Intent = *p.Intent
		changed = append(changed, "intent")
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
		changed = append(changed, "priority")
	}
	if p.Context != nil {
		if err := e.validateDocument("context", *p.Context); err != nil {
			return nil, err
		}
		t.Context = *p.Context
		if t.Context == nil {
			t.Context = domain.Document{}
		}
		changed = append(changed, "context")
	}
	if p.Result != nil {
		if err := e.validateDocument("result", *p.Result); err != nil {
			return nil, err
		}
		t.Result = *p.Result
		changed = append(changed, "result")
	}
	if p.Artifacts != nil {
		artifacts, err := cleanArtifacts(*p.Artifacts)
		if err != nil {
			return nil, err
		}
		t.Artifacts = artifacts
		changed = append(changed, "artifacts")
	}
	if p.Confidence != nil {
		if err := validateConfidence(*p.Confidence); err != nil {
			return nil, err
		}
		c := *p.Confidence
		t.Confidence = &c
		changed = append(changed, "confidence")
	}
	if p.RequiresHumanReview != nil {
		t.RequiresHumanReview = *p.RequiresHumanReview
		changed = append(changed, "requires_human_review")
	}
	if p.AssignedAgent != nil {
		agent := strings.TrimSpace(*p.AssignedAgent)
		if len(agent) > maxAgentName {
			return nil, ValidationError{Field: "assigned_agent", Reason: fmt.Sprintf("must be at most %d characters", maxAgentName)}
		}
		if agent == "" {
			t.AssignedAgent = nil
		} else {
			t.AssignedAgent = &agent
		}
		changed = append(changed, "assigned_agent")
	}
	if p.ParentTaskID != nil {
		parent := strings.TrimSpace(*p.ParentTaskID)
		if parent == "" {
			t.ParentTaskID = nil
		} else {
			if err := ensureNoCycle(ctx, s, parent, t.ID); err != nil {
				return nil, err
			}
			t.ParentTaskID = &parent
		}
		changed = append(changed, "parent_task_id")
	}
	if p.Status != nil && *p.Status != t.Status {
		to := *p.Status
		if !to.Valid() {
			return nil, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
		}
		if to == domain.StatusBlocked {
			return nil, ValidationError{Field: "status", Reason: "use the block transition to record a reason"}
		}
		if !CanTransition(t.Status, to) {
			return nil, ConflictError{Op: "move to " + string(to), From: t.Status}
		}
		switch to {
		case domain.StatusInProgress:
			if t.ClaimedAt == nil {
				t.ClaimedAt = &now
			}
		case domain.StatusDone:
			t.CompletedAt = &now
		}
		t.Status = to
		changed = append(changed, "status")
	}
	return changed, nil
}

// ensureNoCycle walks up from parentID and fails if childID is an ancestor
// or the parent itself.
func ensureNoCycle(ctx context.Context, s repo.Session, parentID, childID string) error {
	cur := parentID
	for depth := 0; cur != ""; depth++ {
		if cur == childID {
			return ValidationError{Field: "parent_task_id", Reason: "task hierarchy cycle detected"}
		}
		if depth > 1000 {
			return ValidationError{Field: "parent_task_id", Reason: "task hierarchy too deep"}
		}
		t, err := s.IncludeDeleted().GetTask(ctx, cur)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) && cur == parentID {
				return ValidationError{Field: "parent_task_id", Reason: "parent task not found"}
			}
			return err
		}
		if t.ParentTaskID == nil {
			return nil
		}
		cur = *t.ParentTaskID
	}
	return nil
}

// DeleteTask soft-deletes a task. The deletion is logged before the row
// disappears from scope.
func (e Engine) DeleteTask(ctx context.Context, id auth.Identity, taskID string) error {
	err := e.write(ctx, id, func(s repo.Session) error {
		t, err := s.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if _, err := e.writer().Append(ctx, s, t.ID, id.Actor, domain.ActionUpdated, domain.Document{"deleted": true}); err != nil {
			return err
		}
		return s.SoftDeleteTask(ctx, t.ID, domain.FormatTime(e.now()))
	})
	e.Metrics.Transition("delete", err)
	return err
}

func (e Engine) ListActivity(ctx context.Context, id auth.Identity, taskID string, limit int) ([]domain.ActivityLog, error) {
	s, err := e.read(id)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	logs, err := s.ListActivity(ctx, taskID, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []domain.ActivityLog{}
	}
	return logs, nil
}
