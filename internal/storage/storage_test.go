package storage

import (
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

func TestPutOpenDelete(t *testing.T) {
	s := New(afero.NewMemMapFs(), 1024)
	key := Key("u1", "task1", "att1")
	obj, err := s.Put(key, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	sum := blake3.Sum256([]byte("hello"))
	if obj.Size != 5 || obj.Checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected object %+v", obj)
	}
	f, err := s.Open(key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := s.Exists(key); ok {
		t.Fatal("blob still present")
	}
	if err := s.Delete(key); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
}

func TestPutRejectsOversizedBody(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New(fs, 4)
	key := Key("u1", "task1", "big")
	if _, err := s.Put(key, strings.NewReader("12345")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	for _, k := range []string{key, key + ".partial"} {
		if ok, _ := afero.Exists(fs, k); ok {
			t.Fatalf("%s left behind", k)
		}
	}
	if _, err := s.Put(key, strings.NewReader("1234")); err != nil {
		t.Fatalf("body at the limit should fit: %v", err)
	}
}

func TestKeysMustStayInsideRoot(t *testing.T) {
	s := New(afero.NewMemMapFs(), 0)
	for _, key := range []string{"", "/abs", "../escape", "a/../../b", "a//b"} {
		if _, err := s.Put(key, strings.NewReader("x")); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}
