package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreReadMissing(t *testing.T) {
	s := NewFileStore(t.TempDir())

	data, ok, err := s.Read("identity/v1")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if ok || data != nil {
		t.Errorf("Read() = (%v, %v), want (nil, false) for missing slot", data, ok)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := NewFileStore(t.TempDir())

	want := []byte{0x01, 0x02, 0x03, 0xff}
	if err := s.Write("identity/v1", want); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, ok, err := s.Read("identity/v1")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !ok || !bytes.Equal(got, want) {
		t.Errorf("Read() = (% x, %v), want (% x, true)", got, ok, want)
	}
}

func TestFileStoreOverwrite(t *testing.T) {
	s := NewFileStore(t.TempDir())

	if err := s.Write("slot", []byte("old")); err != nil {
		t.Fatalf("Write(old) error: %v", err)
	}
	if err := s.Write("slot", []byte("new")); err != nil {
		t.Fatalf("Write(new) error: %v", err)
	}

	got, _, err := s.Read("slot")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Read() = %q, want %q", got, "new")
	}
}

func TestFileStoreCreatesDirectories(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "data"))

	if err := s.Write("identity/v1", []byte{0xaa}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "identity", "v1")); err != nil {
		t.Errorf("slot file not where expected: %v", err)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	if err := NewFileStore(dir).Write("slot", []byte("kept")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	got, ok, err := NewFileStore(dir).Read("slot")
	if err != nil || !ok {
		t.Fatalf("Read() after reopen = (%v, %v, %v)", got, ok, err)
	}
	if string(got) != "kept" {
		t.Errorf("Read() = %q, want %q", got, "kept")
	}
}
