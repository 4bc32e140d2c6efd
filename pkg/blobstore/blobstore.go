// Package blobstore is the Hub's content-addressed store for large
// variable-size objects (user textures, comments, channel descriptions)
// that don't belong inline in the relational schema (§4.9 "Blob store").
package blobstore

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrLocked           = errors.New("blobstore: already locked by a live process")
	ErrLockAcquirement  = errors.New("blobstore: failed to acquire lock")
	ErrNotFound         = errors.New("blobstore: blob not found")
)

// Store is a content-addressed blob facade over a pluggable Backend. Hash
// is the hex SHA-1 digest of a blob's bytes, matching the original Mumble
// protocol's `Blob*Hash` fields.
type Store struct {
	backend Backend
}

// Backend is the storage interface a Store delegates to; FilesystemBackend
// is the default, but Store itself knows nothing about paths or locks.
type Backend interface {
	Has(hash string) (bool, error)
	Get(hash string) ([]byte, error)
	Put(hash string, data []byte) error
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Hash returns the content address for data.
func Hash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its content hash.
func (s *Store) Put(data []byte) (string, error) {
	hash := Hash(data)
	ok, err := s.backend.Has(hash)
	if err != nil {
		return "", err
	}
	if ok {
		return hash, nil // already stored under this hash, nothing to do
	}
	if err := s.backend.Put(hash, data); err != nil {
		return "", fmt.Errorf("blobstore: put %s: %w", hash, err)
	}
	return hash, nil
}

// Get retrieves the blob stored under hash.
func (s *Store) Get(hash string) ([]byte, error) {
	ok, err := s.backend.Has(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.backend.Get(hash)
}

// FilesystemBackend stores each blob as a file named by its hash under
// root, sharded two levels deep to keep any one directory small, guarded
// by the PID lock file discipline carried over from the original process-
// exclusive freeze-file writer.
type FilesystemBackend struct {
	root string
}

func NewFilesystemBackend(root string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir %s: %w", root, err)
	}
	return &FilesystemBackend{root: root}, nil
}

func (b *FilesystemBackend) path(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(b.root, hash)
	}
	return filepath.Join(b.root, hash[:2], hash[2:4], hash)
}

func (b *FilesystemBackend) Has(hash string) (bool, error) {
	_, err := os.Stat(b.path(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *FilesystemBackend) Get(hash string) ([]byte, error) {
	return os.ReadFile(b.path(hash))
}

func (b *FilesystemBackend) Put(hash string, data []byte) error {
	p := b.path(hash)
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return err
	}

	lockPath := p + ".lock"
	if err := acquireLockFile(lockPath); err != nil {
		return err
	}
	defer releaseLockFile(lockPath)

	tmp, err := os.CreateTemp(filepath.Dir(p), "blob-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

