package mail

import (
	"context"
	"strings"
	"testing"

	"taskboard/internal/domain"
)

func TestReviewRequestedMessage(t *testing.T) {
	rec := &Recorder{}
	n := Notifier{Sender: rec, SiteURL: "https://tasks.example.com/"}
	task := domain.Task{ID: "abc123", Title: "Write report"}
	if err := n.ReviewRequested(context.Background(), "owner@example.com", task, "agent-1"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	sent := rec.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	m := sent[0]
	if m.To != "owner@example.com" || m.Subject != "Review requested: Write report" {
		t.Fatalf("unexpected message %+v", m)
	}
	if !strings.Contains(m.Body, "https://tasks.example.com/tasks/abc123") {
		t.Fatalf("body missing link: %q", m.Body)
	}
}

func TestNotifierWithoutSenderIsNoop(t *testing.T) {
	if err := (Notifier{}).ReviewRequested(context.Background(), "x@example.com", domain.Task{}, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRenderStripsHeaderNewlines(t *testing.T) {
	raw := string(render("a@example.com", "b@example.com", Message{Subject: "hi\r\nBcc: evil@example.com", Body: "x\ny"}))
	if strings.Contains(raw, "\r\nBcc:") {
		t.Fatalf("header injection survived: %q", raw)
	}
	if !strings.HasSuffix(raw, "x\r\ny") {
		t.Fatalf("body line endings not normalized: %q", raw)
	}
}
