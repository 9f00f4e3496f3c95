package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taskboard/internal/activity"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/metrics"
	"taskboard/internal/repo"
	"taskboard/internal/storage"
)

type (
	ValidationError = domain.ValidationError
	ConflictError   = domain.ConflictError
)

// ReviewNotifier tells a task owner that a task is waiting for review.
type ReviewNotifier interface {
	ReviewRequested(ctx context.Context, to string, task domain.Task, actor string) error
}

const notifyTimeout = 15 * time.Second

// Engine applies task operations on behalf of an authenticated identity.
// Every mutation and its activity row commit in one transaction.
type Engine struct {
	DB       *db.DB
	Repo     repo.Repo
	Activity activity.Writer
	Config   *config.Config
	Blobs    *storage.Store
	Notifier ReviewNotifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time

	background *sync.WaitGroup
}

func New(conn *db.DB, cfg *config.Config) Engine {
	return Engine{
		DB:         conn,
		Repo:       repo.Repo{DB: conn},
		Config:     cfg,
		Logger:     slog.Default(),
		Now:        time.Now,
		background: &sync.WaitGroup{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) writer() activity.Writer {
	w := e.Activity
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// Wait blocks until background notifications finish.
func (e Engine) Wait() {
	if e.background != nil {
		e.background.Wait()
	}
}

// read returns a pool session for a caller holding the read capability.
func (e Engine) read(id auth.Identity) (repo.Session, error) {
	if err := auth.RequireCapability(id, auth.CapRead); err != nil {
		return repo.Session{}, err
	}
	return e.Repo.Scoped(id.UserID)
}

// write runs fn in a transaction scoped to the caller, who must hold the
// write capability. fn's error rolls everything back.
func (e Engine) write(ctx context.Context, id auth.Identity, fn func(s repo.Session) error) error {
	if err := auth.RequireCapability(id, auth.CapWrite); err != nil {
		return err
	}
	tx, err := e.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s, err := repo.ScopedTx(tx, id.UserID)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// detach runs fn detached from the request. Failures are logged and
// counted, never returned.
func (e Engine) detach(kind string, fn func(ctx context.Context) error) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		err := fn(ctx)
		e.Metrics.BestEffort(kind, err)
		if err != nil {
			e.logger().Warn("best-effort side effect failed", "kind", kind, "err", err)
		}
	}
	if e.background == nil {
		run()
		return
	}
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		run()
	}()
}

func (e Engine) notifyReview(ownerID string, t domain.Task, actor string) {
	if e.Notifier == nil {
		return
	}
	e.detach("review_mail", func(ctx context.Context) error {
		user, err := e.Repo.GetUser(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("load owner: %w", err)
		}
		return e.Notifier.ReviewRequested(ctx, user.Email, t, actor)
	})
}

func (e Engine) maxDocumentBytes() int {
	if e.Config == nil || e.Config.Limits.MaxDocumentBytes <= 0 {
		return 64 << 10
	}
	return e.Config.Limits.MaxDocumentBytes
}

// validateDocument bounds the encoded size of a free-form document.
func (e Engine) validateDocument(field string, doc domain.Document) error {
	if doc == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return ValidationError{Field: field, Reason: "must be a JSON object"}
	}
	if limit := e.maxDocumentBytes(); len(b) > limit {
		return ValidationError{Field: field, Reason: fmt.Sprintf("must encode to at most %d bytes", limit)}
	}
	return nil
}
