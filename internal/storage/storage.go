// Package storage persists report artifacts.
package storage

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("storage: object not found")

type ArtifactStore interface {
	// Put stores data under key and returns the stored size.
	Put(ctx context.Context, key, contentType string, data []byte) (int64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process ArtifactStore for local runs without object storage.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key, _ string, data []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp
	return int64(len(cp)), nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}
