package cache

import (
	"bytes"
	"context"
	"testing"
)

func TestDiskBackend_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewDiskBackend(dir)
	if err != nil {
		t.Fatalf("NewDiskBackend failed: %v", err)
	}
	defer backend.Close()
	ctx := context.Background()

	payload := []byte{0x89, 0x50, 0x4E, 0x47, 0x01, 0x02}
	if err := backend.Put(ctx, "key-1", payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := backend.Get(ctx, "key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Round trip mismatch: %v != %v", got, payload)
	}

	if err := backend.Delete(ctx, "key-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := backend.Get(ctx, "key-1"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestDiskBackend_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := NewDiskBackend(dir)
	if err != nil {
		t.Fatalf("NewDiskBackend failed: %v", err)
	}
	if err := backend.Put(ctx, "durable", []byte("artifact")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	backend.Close()

	reopened, err := NewDiskBackend(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "durable")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got) != "artifact" {
		t.Errorf("Expected persisted artifact, got %q", got)
	}
}

func TestMemoryBackend_CopiesData(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	payload := []byte("mutable")
	backend.Put(ctx, "k", payload)
	payload[0] = 'X'

	got, err := backend.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "mutable" {
		t.Errorf("Backend must store its own copy, got %q", got)
	}
}
