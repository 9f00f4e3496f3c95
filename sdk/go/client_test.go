package taskboardsdk_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskboard/internal/app"
	"taskboard/internal/config"
	taskboardsdk "taskboard/sdk/go"
)

func newAgentClient(t *testing.T) *taskboardsdk.Client {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Workspace = t.TempDir()
	cfg.Storage.Dir = t.TempDir()
	cfg.Env.SessionSecret = "sdk-test-secret"
	a, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	h, err := a.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	var session struct {
		Token string `json:"token"`
	}
	post(t, srv.URL+"/api/auth/signup", "", `{"email":"owner@example.com","password":"correct horse"}`, &session)
	var created struct {
		Key string `json:"key"`
	}
	post(t, srv.URL+"/api/keys", session.Token, `{"name":"sdk","permissions":{"read":true,"write":true}}`, &created)

	c := taskboardsdk.New(srv.URL+"/api", created.Key)
	c.Agent = "sdk-bot"
	return c
}

func post(t *testing.T, url, token, body string, out any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(res.Body)
		t.Fatalf("post %s: status %d: %s", url, res.StatusCode, b)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestAgentWorkflow(t *testing.T) {
	ctx := context.Background()
	c := newAgentClient(t)

	_, err := c.NextTask(ctx, "", false)
	var apiErr *taskboardsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("expected not_found on empty board, got %v", err)
	}

	task, err := c.CreateTask(ctx, taskboardsdk.NewTask{Title: "Summarise logs", Intent: "research", Priority: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != "todo" {
		t.Fatalf("unexpected status %q", task.Status)
	}

	peek, err := c.NextTask(ctx, "research", false)
	if err != nil || peek.ID != task.ID || peek.Status != "todo" {
		t.Fatalf("peek: %+v %v", peek, err)
	}
	claimed, err := c.NextTask(ctx, "", true)
	if err != nil || claimed.ID != task.ID || claimed.Status != "in_progress" {
		t.Fatalf("claim: %+v %v", claimed, err)
	}

	if _, err := c.Log(ctx, task.ID, "updated", map[string]any{"progress": 0.5}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if blocked, err := c.Block(ctx, task.ID, "need credentials"); err != nil || blocked.Status != "blocked" {
		t.Fatalf("block: %+v %v", blocked, err)
	}
	if _, err := c.Start(ctx, task.ID); err != nil {
		t.Fatalf("restart: %v", err)
	}

	att, err := c.Upload(ctx, task.ID, "notes.txt", "text/plain", bytes.NewBufferString("all clear"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if att.Filename != "notes.txt" || att.Size != int64(len("all clear")) || att.Checksum == "" {
		t.Fatalf("unexpected attachment %+v", att)
	}
	rc, err := c.Download(ctx, task.ID, att.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	content, _ := io.ReadAll(rc)
	rc.Close()
	if string(content) != "all clear" {
		t.Fatalf("unexpected content %q", content)
	}

	confidence := 0.9
	done, err := c.Complete(ctx, task.ID, taskboardsdk.Completion{
		Result:     map[string]any{"summary": "no errors"},
		Confidence: &confidence,
		Artifacts:  []string{"s3://logs/summary.md"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != "done" || done.Confidence == nil || *done.Confidence != 0.9 || len(done.Artifacts) != 1 {
		t.Fatalf("unexpected completed task %+v", done)
	}

	_, err = c.Start(ctx, task.ID)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict || apiErr.Code != "conflict" {
		t.Fatalf("expected conflict starting a done task, got %v", err)
	}

	logs, err := c.Activity(ctx, task.ID)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	last := logs[len(logs)-1]
	if last.Action != "completed" || last.Agent != "sdk-bot" {
		t.Fatalf("unexpected last activity %+v", last)
	}

	page, err := c.ListTasks(ctx, taskboardsdk.ListOptions{Status: "done"})
	if err != nil || len(page.Tasks) != 1 {
		t.Fatalf("list done: %+v %v", page, err)
	}
}

func TestSubtasksAndValidationErrors(t *testing.T) {
	ctx := context.Background()
	c := newAgentClient(t)

	parent, err := c.CreateTask(ctx, taskboardsdk.NewTask{Title: "Ship release"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	child, err := c.AddSubtask(ctx, parent.ID, taskboardsdk.NewTask{Title: "Write changelog", Intent: "write"})
	if err != nil {
		t.Fatalf("subtask: %v", err)
	}
	if child.ParentTaskID == nil || *child.ParentTaskID != parent.ID {
		t.Fatalf("unexpected parent %+v", child.ParentTaskID)
	}
	page, err := c.ListTasks(ctx, taskboardsdk.ListOptions{ParentTaskID: parent.ID})
	if err != nil || len(page.Tasks) != 1 || page.Tasks[0].ID != child.ID {
		t.Fatalf("list children: %+v %v", page, err)
	}

	_, err = c.Block(ctx, parent.ID, "   ")
	var apiErr *taskboardsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank reason, got %v", err)
	}

	_, err = c.GetTask(ctx, "missing")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}

	bad := taskboardsdk.New(c.BaseURL, "tb_nope")
	_, err = bad.ListTasks(ctx, taskboardsdk.ListOptions{})
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "unauthorized" {
		t.Fatalf("expected 401, got %v", err)
	}
}
