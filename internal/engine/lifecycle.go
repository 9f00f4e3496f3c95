package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/repo"
)

const maxReason = 1000

// transitions is the status graph; done has no outgoing edges.
var transitions = map[domain.Status][]domain.Status{
	domain.StatusTodo:       {domain.StatusInProgress},
	domain.StatusInProgress: {domain.StatusBlocked, domain.StatusReview, domain.StatusDone},
	domain.StatusBlocked:    {domain.StatusInProgress},
	domain.StatusReview:     {domain.StatusInProgress, domain.StatusDone},
}

// CanTransition reports whether the status graph has an edge from -> to.
func CanTransition(from, to domain.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// mutation edits t in place and returns the activity details to record.
type mutation func(t *domain.Task, now string) (domain.Document, error)

// transition loads taskID, applies fn, writes the task guarded on its prior
// status and appends exactly one activity row, all in one transaction.
func (e Engine) transition(ctx context.Context, id auth.Identity, taskID, op string, action domain.Action, fn mutation) (domain.Task, error) {
	var out domain.Task
	err := e.write(ctx, id, func(s repo.Session) error {
		t, err := s.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		from := t.Status
		now := domain.FormatTime(e.now())
		details, err := fn(&t, now)
		if err != nil {
			return err
		}
		t.UpdatedAt = now
		if err := s.UpdateTask(ctx, t, from); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return ConflictError{Op: op, From: from}
			}
			return err
		}
		if details == nil {
			details = domain.Document{}
		}
		details["from_status"] = string(from)
		details["to_status"] = string(t.Status)
		if _, err := e.writer().Append(ctx, s, t.ID, id.Actor, action, details); err != nil {
			return err
		}
		out = t
		return nil
	})
	e.Metrics.Transition(op, err)
	return out, err
}

// Start claims a task for the caller: todo, blocked or review move to
// in_progress. Starting an in_progress or done task is a conflict.
func (e Engine) Start(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	return e.transition(ctx, id, taskID, "start", domain.ActionClaimed, func(t *domain.Task, now string) (domain.Document, error) {
		switch t.Status {
		case domain.StatusTodo, domain.StatusBlocked, domain.StatusReview:
		default:
			return nil, ConflictError{Op: "start", From: t.Status}
		}
		agent := id.Actor
		t.Status = domain.StatusInProgress
		t.AssignedAgent = &agent
		t.ClaimedAt = &now
		return domain.Document{"agent": agent}, nil
	})
}

// Block appends reason to the task's blockers and moves it to blocked. Any
// non-terminal task can be blocked, including one that already is.
func (e Engine) Block(ctx context.Context, id auth.Identity, taskID, reason string) (domain.Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Task{}, ValidationError{Field: "reason", Reason: "reason is required"}
	}
	if len(reason) > maxReason {
		return domain.Task{}, ValidationError{Field: "reason", Reason: fmt.Sprintf("must be at most %d characters", maxReason)}
	}
	return e.transition(ctx, id, taskID, "block", domain.ActionBlocked, func(t *domain.Task, now string) (domain.Document, error) {
		if t.Status.Terminal() {
			return nil, ConflictError{Op: "block", From: t.Status}
		}
		t.Blockers = append(append([]string{}, t.Blockers...), reason)
		t.Status = domain.StatusBlocked
		return domain.Document{"reason": reason}, nil
	})
}

type CompleteInput struct {
	Result              domain.Document
	Confidence          *float64
	RequiresHumanReview *bool
	// Artifacts are appended to the task's existing references.
	Artifacts []string
}

// Complete moves an in_progress or review task to done.
func (e Engine) Complete(ctx context.Context, id auth.Identity, taskID string, in CompleteInput) (domain.Task, error) {
	if err := e.validateDocument("result", in.Result); err != nil {
		return domain.Task{}, err
	}
	if in.Confidence != nil {
		if err := validateConfidence(*in.Confidence); err != nil {
			return domain.Task{}, err
		}
	}
	artifacts, err := cleanArtifacts(in.Artifacts)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := e.transition(ctx, id, taskID, "complete", domain.ActionCompleted, func(t *domain.Task, now string) (domain.Document, error) {
		if t.Status != domain.StatusInProgress && t.Status != domain.StatusReview {
			return nil, ConflictError{Op: "complete", From: t.Status}
		}
		t.Status = domain.StatusDone
		t.CompletedAt = &now
		details := domain.Document{}
		if in.Result != nil {
			t.Result = in.Result
		}
		if in.Confidence != nil {
			c := *in.Confidence
			t.Confidence = &c
			details["confidence"] = c
		}
		if in.RequiresHumanReview != nil {
			t.RequiresHumanReview = *in.RequiresHumanReview
		}
		details["requires_human_review"] = t.RequiresHumanReview
		if len(artifacts) > 0 {
			t.Artifacts = append(append([]string{}, t.Artifacts...), artifacts...)
			details["artifacts"] = artifacts
		}
		return details, nil
	})
	if err == nil && t.RequiresHumanReview {
		e.notifyReview(id.UserID, t, id.Actor)
	}
	return t, err
}

// RequestReview moves an in_progress task to review and e-mails the owner.
func (e Engine) RequestReview(ctx context.Context, id auth.Identity, taskID, note string) (domain.Task, error) {
	note = strings.TrimSpace(note)
	if len(note) > maxReason {
		return domain.Task{}, ValidationError{Field: "note", Reason: fmt.Sprintf("must be at most %d characters", maxReason)}
	}
	t, err := e.transition(ctx, id, taskID, "review", domain.ActionRequestReview, func(t *domain.Task, now string) (domain.Document, error) {
		if !CanTransition(t.Status, domain.StatusReview) {
			return nil, ConflictError{Op: "request review", From: t.Status}
		}
		t.Status = domain.StatusReview
		details := domain.Document{}
		if note != "" {
			details["note"] = note
		}
		return details, nil
	})
	if err == nil {
		e.notifyReview(id.UserID, t, id.Actor)
	}
	return t, err
}

// Unclaim releases an in_progress task back to todo.
func (e Engine) Unclaim(ctx context.Context, id auth.Identity, taskID string) (domain.Task, error) {
	return e.transition(ctx, id, taskID, "unclaim", domain.ActionUnclaimed, func(t *domain.Task, now string) (domain.Document, error) {
		if t.Status != domain.StatusInProgress {
			return nil, ConflictError{Op: "unclaim", From: t.Status}
		}
		details := domain.Document{}
		if t.AssignedAgent != nil {
			details["previous_agent"] = *t.AssignedAgent
		}
		t.Status = domain.StatusTodo
		t.AssignedAgent = nil
		t.ClaimedAt = nil
		return details, nil
	})
}

type LogInput struct {
	Action  string
	Details domain.Document
}

// Log appends a caller-supplied activity row without touching the task.
func (e Engine) Log(ctx context.Context, id auth.Identity, taskID string, in LogInput) (domain.ActivityLog, error) {
	action := domain.Action(strings.TrimSpace(in.Action))
	if action == "" {
		return domain.ActivityLog{}, ValidationError{Field: "action", Reason: "action is required"}
	}
	if !action.Valid() {
		return domain.ActivityLog{}, ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)}
	}
	if err := e.validateDocument("details", in.Details); err != nil {
		return domain.ActivityLog{}, err
	}
	var out domain.ActivityLog
	err := e.write(ctx, id, func(s repo.Session) error {
		entry, err := e.writer().Append(ctx, s, taskID, id.Actor, action, in.Details)
		if err != nil {
			return err
		}
		out = entry
		return nil
	})
	e.Metrics.Transition("log", err)
	return out, err
}

func validateConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return ValidationError{Field: "confidence", Reason: "must be between 0 and 1"}
	}
	return nil
}
