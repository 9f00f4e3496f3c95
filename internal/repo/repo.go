package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/db"
	"taskboard/internal/domain"
)

// Repo is the unscoped entry point. Task, activity and attachment queries are
// only reachable through a Session obtained from Scoped or ScopedTx.
type Repo struct {
	DB *db.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrUnscoped is returned when a session is requested without an owner.
	ErrUnscoped = errors.New("owner scope required")
	// ErrStale reports that a guarded update matched no row because the task
	// changed underneath the caller.
	ErrStale = errors.New("task changed concurrently")
)

// Session is a data session restricted to one owner. Every statement it
// issues carries the owner predicate and, unless IncludeDeleted is used, the
// soft-delete predicate.
type Session struct {
	q           db.Querier
	owner       string
	withDeleted bool
}

// Scoped returns a session over the connection pool.
func (r Repo) Scoped(ownerID string) (Session, error) {
	return newSession(r.DB.Conn(), ownerID)
}

// ScopedTx returns a session whose statements run inside tx.
func ScopedTx(tx *db.Tx, ownerID string) (Session, error) {
	return newSession(tx, ownerID)
}

func newSession(q db.Querier, ownerID string) (Session, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Session{}, ErrUnscoped
	}
	return Session{q: q, owner: ownerID}, nil
}

func (s Session) Owner() string { return s.owner }

// IncludeDeleted returns a copy of the session that also sees soft-deleted
// tasks. Owner filtering still applies.
func (s Session) IncludeDeleted() Session {
	s.withDeleted = true
	return s
}

// scope renders the owner (and soft-delete) predicate for the tasks table
// aliased as alias.
func (s Session) scope(alias string) (string, []any) {
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}
	clause := col("created_by") + "=?"
	if !s.withDeleted {
		clause += " AND " + col("deleted_at") + " IS NULL"
	}
	return clause, []any{s.owner}
}

const taskColumns = `id,title,description,intent,status,priority,context_json,parent_task_id,assigned_agent,created_by,result_json,artifacts_json,confidence,requires_human_review,blockers_json,claimed_at,completed_at,created_at,updated_at,deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var description, parentID, assigned, resultJSON, claimedAt, completedAt, deletedAt sql.NullString
	var contextJSON, artifactsJSON, blockersJSON string
	var confidence sql.NullFloat64
	var review int64
	err := row.Scan(&t.ID, &t.Title, &description, &t.Intent, &t.Status, &t.Priority, &contextJSON, &parentID, &assigned,
		&t.CreatedBy, &resultJSON, &artifactsJSON, &confidence, &review, &blockersJSON, &claimedAt, &completedAt,
		&t.CreatedAt, &t.UpdatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = description.String
	t.ParentTaskID = nullStringPtr(parentID)
	t.AssignedAgent = nullStringPtr(assigned)
	t.ClaimedAt = nullStringPtr(claimedAt)
	t.CompletedAt = nullStringPtr(completedAt)
	t.DeletedAt = nullStringPtr(deletedAt)
	t.RequiresHumanReview = review != 0
	if confidence.Valid {
		c := confidence.Float64
		t.Confidence = &c
	}
	if err := unmarshalDocument(contextJSON, &t.Context); err != nil {
		return t, fmt.Errorf("task %s context: %w", t.ID, err)
	}
	if t.Context == nil {
		t.Context = domain.Document{}
	}
	if resultJSON.Valid {
		if err := unmarshalDocument(resultJSON.String, &t.Result); err != nil {
			return t, fmt.Errorf("task %s result: %w", t.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(artifactsJSON), &t.Artifacts); err != nil {
		return t, fmt.Errorf("task %s artifacts: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(blockersJSON), &t.Blockers); err != nil {
		return t, fmt.Errorf("task %s blockers: %w", t.ID, err)
	}
	if t.Artifacts == nil {
		t.Artifacts = []string{}
	}
	if t.Blockers == nil {
		t.Blockers = []string{}
	}
	return t, nil
}

// InsertTask stores t owned by the session owner; t.CreatedBy is overwritten.
func (s Session) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.CreatedBy = s.owner
	args, err := taskArgs(t)
	if err != nil {
		return t, err
	}
	_, err = s.q.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		return t, err
	}
	if t.Artifacts == nil {
		t.Artifacts = []string{}
	}
	if t.Blockers == nil {
		t.Blockers = []string{}
	}
	if t.Context == nil {
		t.Context = domain.Document{}
	}
	return t, nil
}

func taskArgs(t domain.Task) ([]any, error) {
	contextJSON, err := marshalDocument(t.Context, "{}")
	if err != nil {
		return nil, err
	}
	var resultJSON any
	if t.Result != nil {
		raw, err := marshalDocument(t.Result, "{}")
		if err != nil {
			return nil, err
		}
		resultJSON = raw
	}
	artifacts, err := marshalStrings(t.Artifacts)
	if err != nil {
		return nil, err
	}
	blockers, err := marshalStrings(t.Blockers)
	if err != nil {
		return nil, err
	}
	var confidence any
	if t.Confidence != nil {
		confidence = *t.Confidence
	}
	return []any{
		t.ID, t.Title, nullable(t.Description), string(t.Intent), string(t.Status), t.Priority, contextJSON,
		nullableStringPtr(t.ParentTaskID), nullableStringPtr(t.AssignedAgent), t.CreatedBy, resultJSON, artifacts,
		confidence, boolInt(t.RequiresHumanReview), blockers, nullableStringPtr(t.ClaimedAt), nullableStringPtr(t.CompletedAt),
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.DeletedAt),
	}, nil
}

// GetTask returns the task with id if it belongs to the session owner.
func (s Session) GetTask(ctx context.Context, id string) (domain.Task, error) {
	where, args := s.scope("")
	args = append([]any{id}, args...)
	return scanTask(s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=? AND `+where, args...))
}

// UpdateTask writes every mutable column of t. When expected is non-empty the
// statement only matches if the stored status still equals expected; a
// mismatch surfaces as ErrStale.
func (s Session) UpdateTask(ctx context.Context, t domain.Task, expected domain.Status) error {
	contextJSON, err := marshalDocument(t.Context, "{}")
	if err != nil {
		return err
	}
	var resultJSON any
	if t.Result != nil {
		raw, err := marshalDocument(t.Result, "{}")
		if err != nil {
			return err
		}
		resultJSON = raw
	}
	artifacts, err := marshalStrings(t.Artifacts)
	if err != nil {
		return err
	}
	blockers, err := marshalStrings(t.Blockers)
	if err != nil {
		return err
	}
	var confidence any
	if t.Confidence != nil {
		confidence = *t.Confidence
	}
	where, scopeArgs := s.scope("")
	args := []any{
		t.Title, nullable(t.Description), string(t.Intent), string(t.Status), t.Priority, contextJSON,
		nullableStringPtr(t.ParentTaskID), nullableStringPtr(t.AssignedAgent), resultJSON, artifacts, confidence,
		boolInt(t.RequiresHumanReview), blockers, nullableStringPtr(t.ClaimedAt), nullableStringPtr(t.CompletedAt), t.UpdatedAt,
		t.ID,
	}
	query := `UPDATE tasks SET title=?, description=?, intent=?, status=?, priority=?, context_json=?, parent_task_id=?, assigned_agent=?,
result_json=?, artifacts_json=?, confidence=?, requires_human_review=?, blockers_json=?, claimed_at=?, completed_at=?, updated_at=?
WHERE id=? AND ` + where
	args = append(args, scopeArgs...)
	if expected != "" {
		query += " AND status=?"
		args = append(args, string(expected))
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if expected != "" {
			return ErrStale
		}
		return ErrNotFound
	}
	return nil
}

// SoftDeleteTask marks the task deleted. Deleting an already deleted or
// foreign task reports ErrNotFound.
func (s Session) SoftDeleteTask(ctx context.Context, id, now string) error {
	where, scopeArgs := s.scope("")
	args := append([]any{now, now, id}, scopeArgs...)
	res, err := s.q.ExecContext(ctx, `UPDATE tasks SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL AND `+where, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	Status          domain.Status
	Intent          domain.Intent
	AssignedAgent   string
	ParentTaskID    string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (s Session) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	where, args := s.scope("")
	clauses := []string{where}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.Intent != "" {
		clauses = append(clauses, "intent=?")
		args = append(args, string(f.Intent))
	}
	if f.AssignedAgent != "" {
		clauses = append(clauses, "assigned_agent=?")
		args = append(args, f.AssignedAgent)
	}
	if f.ParentTaskID != "" {
		clauses = append(clauses, "parent_task_id=?")
		args = append(args, f.ParentTaskID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryTasks(ctx, query, args...)
}

type NextTaskFilters struct {
	Intent domain.Intent
	// Agent also matches todo tasks already assigned to this agent.
	Agent string
}

// NextTask returns the highest-priority, oldest todo task that is unassigned
// or assigned to f.Agent.
func (s Session) NextTask(ctx context.Context, f NextTaskFilters) (domain.Task, error) {
	where, args := s.scope("")
	clauses := []string{where, "status=?"}
	args = append(args, string(domain.StatusTodo))
	if f.Agent != "" {
		clauses = append(clauses, "(assigned_agent IS NULL OR assigned_agent=?)")
		args = append(args, f.Agent)
	} else {
		clauses = append(clauses, "assigned_agent IS NULL")
	}
	if f.Intent != "" {
		clauses = append(clauses, "intent=?")
		args = append(args, string(f.Intent))
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`
	return scanTask(s.q.QueryRowContext(ctx, query, args...))
}

func (s Session) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalDocument(doc domain.Document, empty string) (string, error) {
	if doc == nil {
		return empty, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalDocument(raw string, dst *domain.Document) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func marshalStrings(in []string) (string, error) {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
