// Package memory implements an in-memory evidence Store for tests.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"compliancecore/internal/evidence/core"
)

type entry struct {
	obj  core.Object
	data []byte
}

// Store implements core.Store backed by process memory. Intended for tests.
type Store struct {
	mu   sync.RWMutex
	objs map[string]entry
}

// New returns an in-memory evidence store.
func New() *Store { return &Store{objs: make(map[string]entry)} }

// Driver returns the evidence driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores a new object; errors if key exists.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Object, error) {
	b, err := io.ReadAll(io.LimitReader(r, core.MaxObjectSize+1))
	if err != nil {
		return core.Object{}, err
	}
	if int64(len(b)) > core.MaxObjectSize {
		return core.Object{}, fmt.Errorf("%s: %w", key, core.ErrTooLarge)
	}
	sum := sha256.Sum256(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objs[key]; exists {
		return core.Object{}, fmt.Errorf("%s: %w", key, core.ErrExists)
	}
	obj := core.Object{
		Key:         key,
		Size:        int64(len(b)),
		ContentType: opts.ContentType,
		SHA256:      hex.EncodeToString(sum[:]),
		Metadata:    core.CloneMetadata(opts.Metadata),
		StoredAt:    time.Now().UTC(),
	}
	s.objs[key] = entry{obj: obj, data: b}
	return copyObject(obj), nil
}

// Open returns object metadata and a reader over a copy of its content.
func (s *Store) Open(_ context.Context, key string) (core.Object, io.ReadCloser, error) {
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Object{}, nil, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return copyObject(e.obj), io.NopCloser(bytes.NewReader(data)), nil
}

// Stat returns object metadata only.
func (s *Store) Stat(_ context.Context, key string) (core.Object, error) {
	s.mu.RLock()
	e, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return core.Object{}, fmt.Errorf("%s: %w", key, core.ErrNotFound)
	}
	return copyObject(e.obj), nil
}

// PresignURL returns unsupported for memory driver.
func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

func copyObject(o core.Object) core.Object {
	o.Metadata = core.CloneMetadata(o.Metadata)
	return o
}
