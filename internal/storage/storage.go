package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// ErrTooLarge is returned by Put when the body exceeds the store limit.
var ErrTooLarge = errors.New("attachment exceeds size limit")

// Object describes a stored blob.
type Object struct {
	Key      string
	Size     int64
	Checksum string
}

// Store keeps attachment bytes on an afero filesystem. Keys are slash
// separated and relative to the filesystem root.
type Store struct {
	Fs       afero.Fs
	MaxBytes int64
}

func New(fs afero.Fs, maxBytes int64) *Store {
	return &Store{Fs: fs, MaxBytes: maxBytes}
}

// NewDir roots a store at dir on the OS filesystem.
func NewDir(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), maxBytes), nil
}

// Key builds the storage key of an attachment.
func Key(ownerID, taskID, attachmentID string) string {
	return path.Join(ownerID, taskID, attachmentID)
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.Contains(key, "..") {
		return fmt.Errorf("invalid storage key %q", key)
	}
	return nil
}

// Put streams r into key and returns its size and BLAKE3 checksum. The blob
// is written to a temporary name and renamed into place, so a failed or
// oversized upload leaves nothing behind.
func (s *Store) Put(key string, r io.Reader) (Object, error) {
	if err := validKey(key); err != nil {
		return Object{}, err
	}
	if err := s.Fs.MkdirAll(path.Dir(key), 0o755); err != nil {
		return Object{}, err
	}
	tmp := key + ".partial"
	f, err := s.Fs.Create(tmp)
	if err != nil {
		return Object{}, err
	}
	h := blake3.New()
	src := r
	if s.MaxBytes > 0 {
		src = io.LimitReader(r, s.MaxBytes+1)
	}
	n, err := io.Copy(io.MultiWriter(f, h), src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && s.MaxBytes > 0 && n > s.MaxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = s.Fs.Remove(tmp)
		return Object{}, err
	}
	if err := s.Fs.Rename(tmp, key); err != nil {
		_ = s.Fs.Remove(tmp)
		return Object{}, err
	}
	return Object{Key: key, Size: n, Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

func (s *Store) Open(key string) (afero.File, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	return s.Fs.Open(key)
}

// Delete removes key. A missing blob is not an error.
func (s *Store) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := s.Fs.Remove(key); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether key holds a blob.
func (s *Store) Exists(key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	return afero.Exists(s.Fs, key)
}
