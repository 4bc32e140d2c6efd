package blobstore

import (
	"path/filepath"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	backend, err := NewFilesystemBackend(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	store := New(backend)

	hash, err := store.Put([]byte("hello blob"))
	if err != nil {
		t.Fatal(err)
	}
	if hash != Hash([]byte("hello blob")) {
		t.Fatalf("hash mismatch: %s", hash)
	}

	got, err := store.Get(hash)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello blob" {
		t.Fatalf("got %q", got)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	backend, err := NewFilesystemBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := New(backend)

	_, err = store.Get("0000000000000000000000000000000000000000")
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPutIsIdempotent(t *testing.T) {
	backend, err := NewFilesystemBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := New(backend)

	h1, err := store.Put([]byte("same content"))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := store.Put([]byte("same content"))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hashes differ: %s vs %s", h1, h2)
	}
}
