package store

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// Backend is durable storage for one snapshot document.
type Backend interface {
	// Read returns the stored document or ErrNoSnapshot.
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the stored document atomically: a reader observes
	// either the previous document or the new one, never a partial write.
	Write(ctx context.Context, data []byte) error
	Close() error
}

// OpenBackend picks a backend from the location:
//
//	sqlite://path/to/cezar.db   SQLite database
//	postgres://... | postgresql://...   Postgres
//	anything else               JSON file path
func OpenBackend(ctx context.Context, location string) (Backend, error) {
	switch {
	case strings.HasPrefix(location, "sqlite://"):
		return NewSQLiteBackend(ctx, strings.TrimPrefix(location, "sqlite://"))
	case strings.HasPrefix(location, "postgres://"), strings.HasPrefix(location, "postgresql://"):
		return NewPostgresBackend(ctx, location, nil)
	default:
		return NewFileBackend(location), nil
	}
}

// MemoryBackend keeps the snapshot in memory. It is used by tests and by
// callers that never want anything to reach disk.
type MemoryBackend struct {
	mu     sync.Mutex
	data   []byte
	writes int
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Read(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNoSnapshot
	}
	return slices.Clone(m.data), nil
}

func (m *MemoryBackend) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = slices.Clone(data)
	m.writes++
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Writes returns how many times the snapshot has been written.
func (m *MemoryBackend) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Bytes returns the last written document.
func (m *MemoryBackend) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.data)
}
