package engine_test

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine"
	"taskboard/internal/engine/auth"
	"taskboard/internal/mail"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
	"taskboard/internal/storage"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Mail   *mail.Recorder
	Fs     afero.Fs
	Alice  auth.Identity
	Bob    auth.Identity
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	fs := afero.NewMemMapFs()
	eng.Blobs = storage.New(fs, 16)
	rec := &mail.Recorder{}
	eng.Notifier = mail.Notifier{Sender: rec, SiteURL: "https://tasks.example.com"}
	t.Cleanup(eng.Wait)
	for _, u := range []string{"alice", "bob"} {
		if err := eng.Repo.InsertUser(ctx, domain.User{ID: u, Email: u + "@example.com", PasswordHash: "x", CreatedAt: domain.FormatTime(clock)}); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	writer := domain.Permissions{Read: true, Write: true}
	return testEnv{
		Engine: eng,
		Ctx:    ctx,
		Mail:   rec,
		Fs:     fs,
		Alice:  auth.Identity{UserID: "alice", Actor: "agent-a", Permissions: writer, Source: auth.SourceAPIKey},
		Bob:    auth.Identity{UserID: "bob", Actor: "agent-b", Permissions: writer, Source: auth.SourceAPIKey},
	}
}

func (env testEnv) create(t *testing.T, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskInput{Title: title, Intent: domain.IntentWrite})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) activity(t *testing.T, taskID string) []domain.ActivityLog {
	t.Helper()
	logs, err := env.Engine.ListActivity(env.Ctx, env.Alice, taskID, 0)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	return logs
}

func actions(logs []domain.ActivityLog) []domain.Action {
	out := make([]domain.Action, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

func TestReportScenario(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "Write report")
	if task.Status != domain.StatusTodo || task.Intent != domain.IntentWrite {
		t.Fatalf("unexpected new task %+v", task)
	}

	task, err := env.Engine.Start(env.Ctx, env.Alice, task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if task.Status != domain.StatusInProgress || task.ClaimedAt == nil {
		t.Fatalf("start did not claim: %+v", task)
	}
	if task.AssignedAgent == nil || *task.AssignedAgent != "agent-a" {
		t.Fatalf("assigned agent not set: %v", task.AssignedAgent)
	}
	claimed := 0
	for _, l := range env.activity(t, task.ID) {
		if l.Action == domain.ActionClaimed {
			claimed++
		}
	}
	if claimed != 1 {
		t.Fatalf("expected one claimed entry, got %d", claimed)
	}

	task, err = env.Engine.Block(env.Ctx, env.Alice, task.ID, "waiting on input")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if task.Status != domain.StatusBlocked || !reflect.DeepEqual(task.Blockers, []string{"waiting on input"}) {
		t.Fatalf("unexpected blocked task %+v", task)
	}

	task, err = env.Engine.Start(env.Ctx, env.Alice, task.ID)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if task.Status != domain.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", task.Status)
	}
	want := []domain.Action{domain.ActionCreated, domain.ActionClaimed, domain.ActionBlocked, domain.ActionClaimed}
	if got := actions(env.activity(t, task.ID)); !reflect.DeepEqual(got, want) {
		t.Fatalf("activity = %v, want %v", got, want)
	}
}

func TestStartTwiceConflicts(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	if _, err := env.Engine.Start(env.Ctx, env.Alice, task.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.Start(env.Ctx, env.Alice, task.ID)
	var conflict engine.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, env.Alice, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status changed to %s", got.Status)
	}
	if n := len(env.activity(t, task.ID)); n != 2 {
		t.Fatalf("conflicting start wrote activity: %d rows", n)
	}
}

func TestBlockRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	if _, err := env.Engine.Block(env.Ctx, env.Alice, task.ID, "first"); err != nil {
		t.Fatalf("block: %v", err)
	}
	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := env.Engine.Block(env.Ctx, env.Alice, task.ID, reason)
		var verr engine.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("reason %q: expected validation error, got %v", reason, err)
		}
	}
	got, _ := env.Engine.GetTask(env.Ctx, env.Alice, task.ID)
	if !reflect.DeepEqual(got.Blockers, []string{"first"}) {
		t.Fatalf("blockers changed: %v", got.Blockers)
	}
}

func TestBlockAppends(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	for _, r := range []string{"A", "B"} {
		var err error
		task, err = env.Engine.Block(env.Ctx, env.Alice, task.ID, r)
		if err != nil {
			t.Fatalf("block %s: %v", r, err)
		}
	}
	if !reflect.DeepEqual(task.Blockers, []string{"A", "B"}) {
		t.Fatalf("blockers = %v", task.Blockers)
	}
}

func TestBlockDoneTaskConflicts(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	env.Engine.Start(env.Ctx, env.Alice, task.ID)
	if _, err := env.Engine.Complete(env.Ctx, env.Alice, task.ID, engine.CompleteInput{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.Block(env.Ctx, env.Alice, task.ID, "late"); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, env.Alice, task.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict starting done task, got %v", err)
	}
}

func TestLogRejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	before := len(env.activity(t, task.ID))
	for _, action := range []string{"", "exploded", "CLAIMED"} {
		_, err := env.Engine.Log(env.Ctx, env.Alice, task.ID, engine.LogInput{Action: action})
		var verr engine.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("action %q: expected validation error, got %v", action, err)
		}
	}
	if after := len(env.activity(t, task.ID)); after != before {
		t.Fatalf("invalid log wrote rows: %d -> %d", before, after)
	}
	entry, err := env.Engine.Log(env.Ctx, env.Alice, task.ID, engine.LogInput{Action: "updated", Details: domain.Document{"note": "halfway"}})
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if entry.Action != domain.ActionUpdated || entry.Details["note"] != "halfway" || entry.Agent != "agent-a" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	got, _ := env.Engine.GetTask(env.Ctx, env.Alice, task.ID)
	if got.Status != domain.StatusTodo {
		t.Fatalf("log changed status to %s", got.Status)
	}
}

func TestCrossOwnerIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "private")
	ops := map[string]func() error{
		"get": func() error { _, err := env.Engine.GetTask(env.Ctx, env.Bob, task.ID); return err },
		"start": func() error {
			_, err := env.Engine.Start(env.Ctx, env.Bob, task.ID)
			return err
		},
		"block": func() error {
			_, err := env.Engine.Block(env.Ctx, env.Bob, task.ID, "x")
			return err
		},
		"complete": func() error {
			_, err := env.Engine.Complete(env.Ctx, env.Bob, task.ID, engine.CompleteInput{})
			return err
		},
		"log": func() error {
			_, err := env.Engine.Log(env.Ctx, env.Bob, task.ID, engine.LogInput{Action: "updated"})
			return err
		},
		"update": func() error {
			title := "stolen"
			_, err := env.Engine.UpdateTask(env.Ctx, env.Bob, task.ID, engine.TaskPatch{Title: &title})
			return err
		},
		"delete":   func() error { return env.Engine.DeleteTask(env.Ctx, env.Bob, task.ID) },
		"activity": func() error { _, err := env.Engine.ListActivity(env.Ctx, env.Bob, task.ID, 0); return err },
		"subtask": func() error {
			_, err := env.Engine.AddSubtask(env.Ctx, env.Bob, task.ID, engine.TaskInput{Title: "child"})
			return err
		},
		"attach": func() error {
			_, err := env.Engine.AddAttachment(env.Ctx, env.Bob, task.ID, engine.AttachmentInput{Filename: "a.txt", Body: strings.NewReader("x")})
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("%s: expected not found, got %v", name, err)
		}
	}
	page, err := env.Engine.ListTasks(env.Ctx, env.Bob, engine.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Tasks) != 0 {
		t.Fatalf("bob sees alice's tasks: %v", page.Tasks)
	}
	got, _ := env.Engine.GetTask(env.Ctx, env.Alice, task.ID)
	if got.Title != "private" || got.Status != domain.StatusTodo {
		t.Fatalf("foreign caller modified task: %+v", got)
	}
}

func TestWriteRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	reader := env.Alice
	reader.Permissions = domain.Permissions{Read: true}
	var ferr auth.ForbiddenError
	if _, err := env.Engine.Start(env.Ctx, reader, task.ID); !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, reader, engine.TaskInput{Title: "x"}); !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden on create, got %v", err)
	}
	if err := env.Engine.DeleteAttachment(env.Ctx, reader, task.ID, "nope"); !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden on attachment delete, got %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, reader, task.ID); err != nil {
		t.Fatalf("read should be allowed: %v", err)
	}
}

func TestFailedActivityInsertRollsBackTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TABLE activity_logs`); err != nil {
		t.Fatalf("drop activity table: %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, env.Alice, task.ID); err == nil {
		t.Fatal("expected start to fail when the activity row cannot be written")
	}
	got, err := env.Engine.GetTask(env.Ctx, env.Alice, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusTodo || got.ClaimedAt != nil || got.AssignedAgent != nil {
		t.Fatalf("task mutation survived failed activity insert: %+v", got)
	}
}

func TestCompleteAndReviewFlow(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "Write report")
	env.Engine.Start(env.Ctx, env.Alice, task.ID)

	task, err := env.Engine.RequestReview(env.Ctx, env.Alice, task.ID, "please check")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if task.Status != domain.StatusReview {
		t.Fatalf("expected review, got %s", task.Status)
	}
	env.Engine.Wait()
	sent := env.Mail.Sent()
	if len(sent) != 1 || sent[0].To != "alice@example.com" {
		t.Fatalf("expected review mail to owner, got %+v", sent)
	}

	bad := 1.5
	var verr engine.ValidationError
	if _, err := env.Engine.Complete(env.Ctx, env.Alice, task.ID, engine.CompleteInput{Confidence: &bad}); !errors.As(err, &verr) {
		t.Fatalf("expected confidence validation error, got %v", err)
	}

	conf := 0.9
	task, err = env.Engine.Complete(env.Ctx, env.Alice, task.ID, engine.CompleteInput{
		Result:     domain.Document{"summary": "done"},
		Confidence: &conf,
		Artifacts:  []string{"s3://bucket/report.pdf"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status != domain.StatusDone || task.CompletedAt == nil || task.Confidence == nil || *task.Confidence != 0.9 {
		t.Fatalf("unexpected completed task %+v", task)
	}
	if task.Result["summary"] != "done" || !reflect.DeepEqual(task.Artifacts, []string{"s3://bucket/report.pdf"}) {
		t.Fatalf("result not stored: %+v", task)
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.Complete(env.Ctx, env.Alice, task.ID, engine.CompleteInput{}); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict completing done task, got %v", err)
	}
}

func TestReviewMailFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t)
	env.Mail.Err = errors.New("smtp down")
	task := env.create(t, "t")
	env.Engine.Start(env.Ctx, env.Alice, task.ID)
	if _, err := env.Engine.RequestReview(env.Ctx, env.Alice, task.ID, ""); err != nil {
		t.Fatalf("review should succeed despite mail failure: %v", err)
	}
}

func TestUnclaimClearsAssignment(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	env.Engine.Start(env.Ctx, env.Alice, task.ID)
	task, err := env.Engine.Unclaim(env.Ctx, env.Alice, task.ID)
	if err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if task.Status != domain.StatusTodo || task.AssignedAgent != nil || task.ClaimedAt != nil {
		t.Fatalf("unexpected unclaimed task %+v", task)
	}
	var conflict engine.ConflictError
	if _, err := env.Engine.Unclaim(env.Ctx, env.Alice, task.ID); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdateFollowsStateMachine(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	done := domain.StatusDone
	var conflict engine.ConflictError
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Alice, task.ID, engine.TaskPatch{Status: &done}); !errors.As(err, &conflict) {
		t.Fatalf("todo -> done should conflict, got %v", err)
	}
	blocked := domain.StatusBlocked
	var verr engine.ValidationError
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Alice, task.ID, engine.TaskPatch{Status: &blocked}); !errors.As(err, &verr) {
		t.Fatalf("patching to blocked should require the block transition, got %v", err)
	}
	inProgress := domain.StatusInProgress
	title := "renamed"
	prio := 5
	task, err := env.Engine.UpdateTask(env.Ctx, env.Alice, task.ID, engine.TaskPatch{Status: &inProgress, Title: &title, Priority: &prio})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Status != domain.StatusInProgress || task.Title != "renamed" || task.Priority != 5 || task.ClaimedAt == nil {
		t.Fatalf("unexpected updated task %+v", task)
	}
	logs := env.activity(t, task.ID)
	last := logs[len(logs)-1]
	if last.Action != domain.ActionUpdated || last.Details["to_status"] != "in_progress" {
		t.Fatalf("unexpected update entry %+v", last)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		ok       bool
	}{
		{domain.StatusTodo, domain.StatusInProgress, true},
		{domain.StatusTodo, domain.StatusDone, false},
		{domain.StatusInProgress, domain.StatusBlocked, true},
		{domain.StatusInProgress, domain.StatusReview, true},
		{domain.StatusInProgress, domain.StatusDone, true},
		{domain.StatusBlocked, domain.StatusInProgress, true},
		{domain.StatusBlocked, domain.StatusDone, false},
		{domain.StatusReview, domain.StatusInProgress, true},
		{domain.StatusReview, domain.StatusDone, true},
		{domain.StatusDone, domain.StatusInProgress, false},
		{domain.StatusDone, domain.StatusTodo, false},
	}
	for _, tc := range cases {
		if got := engine.CanTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestParentCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	parent := env.create(t, "parent")
	child, err := env.Engine.AddSubtask(env.Ctx, env.Alice, parent.ID, engine.TaskInput{Title: "child"})
	if err != nil {
		t.Fatalf("subtask: %v", err)
	}
	if child.ParentTaskID == nil || *child.ParentTaskID != parent.ID {
		t.Fatalf("parent not set: %+v", child)
	}
	if got := actions(env.activity(t, parent.ID)); !reflect.DeepEqual(got, []domain.Action{domain.ActionCreated, domain.ActionAddedSubtask}) {
		t.Fatalf("parent activity = %v", got)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Alice, parent.ID, engine.TaskPatch{ParentTaskID: &child.ID}); !errors.As(err, &verr) {
		t.Fatalf("expected cycle validation error, got %v", err)
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, env.Alice, parent.ID, engine.TaskPatch{ParentTaskID: &parent.ID}); !errors.As(err, &verr) {
		t.Fatalf("expected self-parent validation error, got %v", err)
	}
}

func TestDeleteHidesTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	if err := env.Engine.DeleteTask(env.Ctx, env.Alice, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, env.Alice, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Alice, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
	page, err := env.Engine.ListTasks(env.Ctx, env.Alice, engine.ListOptions{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Tasks) != 1 || page.Tasks[0].DeletedAt == nil {
		t.Fatalf("include_deleted listing wrong: %+v", page.Tasks)
	}
}

func TestListPagination(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.create(t, "t")
	}
	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := env.Engine.ListTasks(env.Ctx, env.Alice, engine.ListOptions{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		pages++
		for _, task := range page.Tasks {
			if seen[task.ID] {
				t.Fatalf("task %s returned twice", task.ID)
			}
			seen[task.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 5 || pages != 3 {
		t.Fatalf("saw %d tasks over %d pages", len(seen), pages)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.ListTasks(env.Ctx, env.Alice, engine.ListOptions{Cursor: "!!"}); !errors.As(err, &verr) {
		t.Fatalf("expected cursor validation error, got %v", err)
	}
	if _, err := env.Engine.ListTasks(env.Ctx, env.Alice, engine.ListOptions{Status: "sleeping"}); !errors.As(err, &verr) {
		t.Fatalf("expected status validation error, got %v", err)
	}
}

func TestNextTaskClaims(t *testing.T) {
	env := newTestEnv(t)
	low := env.create(t, "low")
	high, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskInput{Title: "high", Priority: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := env.Engine.NextTask(env.Ctx, env.Alice, engine.NextOptions{Claim: true})
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got.ID != high.ID || got.Status != domain.StatusInProgress {
		t.Fatalf("expected to claim high priority task, got %+v", got)
	}
	got, err = env.Engine.NextTask(env.Ctx, env.Alice, engine.NextOptions{})
	if err != nil || got.ID != low.ID {
		t.Fatalf("expected low task next, got %+v %v", got, err)
	}
	env.Engine.Start(env.Ctx, env.Alice, low.ID)
	if _, err := env.Engine.NextTask(env.Ctx, env.Alice, engine.NextOptions{}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found with empty queue, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	var verr engine.ValidationError
	cases := map[string]engine.TaskInput{
		"blank title":    {Title: "  "},
		"bad intent":     {Title: "x", Intent: "dance"},
		"missing parent": {Title: "x", ParentTaskID: "nope"},
		"big context":    {Title: "x", Context: domain.Document{"blob": strings.Repeat("x", 70000)}},
		"blank artifact": {Title: "x", Artifacts: []string{" "}},
	}
	for name, in := range cases {
		if _, err := env.Engine.CreateTask(env.Ctx, env.Alice, in); !errors.As(err, &verr) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	task, err := env.Engine.CreateTask(env.Ctx, env.Alice, engine.TaskInput{Title: "defaults"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Intent != domain.IntentBuild || task.Status != domain.StatusTodo || task.CreatedBy != "alice" {
		t.Fatalf("unexpected defaults %+v", task)
	}
}

func TestAttachmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, "t")
	a, err := env.Engine.AddAttachment(env.Ctx, env.Alice, task.ID, engine.AttachmentInput{
		Filename:    "../../notes.txt",
		ContentType: "text/plain; charset=utf-8",
		Body:        strings.NewReader("hello"),
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if a.Filename != "notes.txt" || a.ContentType != "text/plain" || a.Size != 5 || a.Checksum == "" {
		t.Fatalf("unexpected attachment %+v", a)
	}
	_, rc, err := env.Engine.OpenAttachment(env.Ctx, env.Alice, task.ID, a.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	if err := env.Engine.DeleteAttachment(env.Ctx, env.Bob, task.ID, a.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign delete: expected not found, got %v", err)
	}
	if err := env.Engine.DeleteAttachment(env.Ctx, env.Alice, task.ID, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := afero.Exists(env.Fs, storage.Key("alice", task.ID, a.ID)); ok {
		t.Fatal("blob survived delete")
	}
	list, err := env.Engine.ListAttachments(env.Ctx, env.Alice, task.ID)
	if err != nil || len(list) != 0 {
		t.Fatalf("record survived delete: %v %v", list, err)
	}
	if err := env.Engine.DeleteAttachment(env.Ctx, env.Alice, task.ID, a.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}

	var verr engine.ValidationError
	_, err = env.Engine.AddAttachment(env.Ctx, env.Alice, task.ID, engine.AttachmentInput{Filename: "big.bin", Body: strings.NewReader(strings.Repeat("x", 17))})
	if !errors.As(err, &verr) {
		t.Fatalf("expected size validation error, got %v", err)
	}
}
