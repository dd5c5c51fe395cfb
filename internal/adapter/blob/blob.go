// Package blob stores and fetches artifact payloads by opaque reference.
// References are ULIDs so listings sort by creation time.
package blob

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// newRef mints a blob reference.
func newRef() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

// FSStore keeps blobs as files under a base directory, sharded by the first
// two characters of the reference to keep directories small.
type FSStore struct {
	base string
}

// NewFSStore creates the base directory if needed.
func NewFSStore(base string) (*FSStore, error) {
	if err := os.MkdirAll(base, 0o750); err != nil {
		return nil, fmt.Errorf("op=blob.fs: %w", err)
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) path(ref string) (string, error) {
	// refs are ULIDs; reject anything that could traverse out of base.
	if ref == "" || strings.ContainsAny(ref, "/\\.") {
		return "", fmt.Errorf("op=blob.fs: bad ref %q: %w", ref, domain.ErrInvalidArgument)
	}
	return filepath.Join(s.base, ref[:2], ref), nil
}

// Put stores data and returns its new reference.
func (s *FSStore) Put(_ context.Context, data []byte) (string, error) {
	ref := newRef()
	p, err := s.path(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", fmt.Errorf("op=blob.fs: %w", err)
	}
	if err := os.WriteFile(p, data, 0o640); err != nil {
		return "", fmt.Errorf("op=blob.fs: %w", err)
	}
	return ref, nil
}

// Get fetches a blob by reference.
func (s *FSStore) Get(_ context.Context, ref string) ([]byte, error) {
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("op=blob.fs: ref %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=blob.fs: %w", err)
	}
	return data, nil
}

// MemStore is an in-memory BlobStore for tests and dev.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{blobs: map[string][]byte{}}
}

// Put stores data under a fresh reference.
func (s *MemStore) Put(_ context.Context, data []byte) (string, error) {
	ref := newRef()
	s.mu.Lock()
	s.blobs[ref] = append([]byte(nil), data...)
	s.mu.Unlock()
	return ref, nil
}

// Get fetches a blob by reference.
func (s *MemStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blobs[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("op=blob.mem: ref %s: %w", ref, domain.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}
