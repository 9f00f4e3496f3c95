package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"taskboard/internal/domain"
	"taskboard/internal/engine/auth"
	"taskboard/internal/repo"
	"taskboard/internal/storage"
)

const maxFilename = 255

var errNoBlobs = errors.New("attachment storage not configured")

type AttachmentInput struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// AddAttachment stores the body, then records it against the task. The blob
// is removed again if the record cannot be written.
func (e Engine) AddAttachment(ctx context.Context, id auth.Identity, taskID string, in AttachmentInput) (domain.Attachment, error) {
	if err := auth.RequireCapability(id, auth.CapWrite); err != nil {
		return domain.Attachment{}, err
	}
	if e.Blobs == nil {
		return domain.Attachment{}, errNoBlobs
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(in.Filename), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return domain.Attachment{}, ValidationError{Field: "filename", Reason: "filename is required"}
	}
	if len(name) > maxFilename {
		return domain.Attachment{}, ValidationError{Field: "filename", Reason: fmt.Sprintf("must be at most %d characters", maxFilename)}
	}
	contentType := "application/octet-stream"
	if in.ContentType != "" {
		mt, _, err := mime.ParseMediaType(in.ContentType)
		if err != nil {
			return domain.Attachment{}, ValidationError{Field: "content_type", Reason: "malformed media type"}
		}
		contentType = mt
	}
	s, err := e.read(id)
	if err != nil {
		return domain.Attachment{}, err
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		ID:          domain.NewShortID(),
		TaskID:      taskID,
		OwnerID:     id.UserID,
		Filename:    name,
		ContentType: contentType,
		CreatedAt:   domain.FormatTime(e.now()),
	}
	a.StorageKey = storage.Key(id.UserID, taskID, a.ID)
	obj, err := e.Blobs.Put(a.StorageKey, in.Body)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return domain.Attachment{}, ValidationError{Field: "body", Reason: fmt.Sprintf("attachment exceeds %d bytes", e.Blobs.MaxBytes)}
		}
		return domain.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	a.Size, a.Checksum = obj.Size, obj.Checksum
	var out domain.Attachment
	err = e.write(ctx, id, func(s repo.Session) error {
		stored, err := s.InsertAttachment(ctx, a)
		if err != nil {
			return err
		}
		if _, err := e.writer().Append(ctx, s, taskID, id.Actor, domain.ActionUpdated, domain.Document{
			"attachment_added": stored.ID,
			"filename":         stored.Filename,
		}); err != nil {
			return err
		}
		out = stored
		return nil
	})
	if err != nil {
		if rmErr := e.Blobs.Delete(a.StorageKey); rmErr != nil {
			e.logger().Warn("remove orphaned attachment blob failed", "key", a.StorageKey, "err", rmErr)
		}
	}
	e.Metrics.Transition("attach", err)
	return out, err
}

func (e Engine) ListAttachments(ctx context.Context, id auth.Identity, taskID string) ([]domain.Attachment, error) {
	s, err := e.read(id)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	list, err := s.ListAttachments(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.Attachment{}
	}
	return list, nil
}

// OpenAttachment returns the record and a reader over its bytes. The caller
// closes the reader.
func (e Engine) OpenAttachment(ctx context.Context, id auth.Identity, taskID, attachmentID string) (domain.Attachment, io.ReadCloser, error) {
	s, err := e.read(id)
	if err != nil {
		return domain.Attachment{}, nil, err
	}
	if e.Blobs == nil {
		return domain.Attachment{}, nil, errNoBlobs
	}
	a, err := s.GetAttachment(ctx, taskID, attachmentID)
	if err != nil {
		return domain.Attachment{}, nil, err
	}
	f, err := e.Blobs.Open(a.StorageKey)
	if err != nil {
		return domain.Attachment{}, nil, fmt.Errorf("open attachment: %w", err)
	}
	return a, f, nil
}

// DeleteAttachment removes the stored file and its record together: if the
// blob cannot be removed the record stays.
func (e Engine) DeleteAttachment(ctx context.Context, id auth.Identity, taskID, attachmentID string) error {
	if e.Blobs == nil {
		if err := auth.RequireCapability(id, auth.CapWrite); err != nil {
			return err
		}
		return errNoBlobs
	}
	err := e.write(ctx, id, func(s repo.Session) error {
		a, err := s.GetAttachment(ctx, taskID, attachmentID)
		if err != nil {
			return err
		}
		if err := s.DeleteAttachment(ctx, taskID, a.ID); err != nil {
			return err
		}
		if _, err := e.writer().Append(ctx, s, taskID, id.Actor, domain.ActionUpdated, domain.Document{
			"attachment_removed": a.ID,
			"filename":           a.Filename,
		}); err != nil {
			return err
		}
		if err := e.Blobs.Delete(a.StorageKey); err != nil {
			return fmt.Errorf("remove attachment blob: %w", err)
		}
		return nil
	})
	e.Metrics.Transition("detach", err)
	return err
}
