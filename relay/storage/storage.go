// Package storage persists the relay's canonical task snapshot.
package storage

import (
	"context"
	"sync"

	"github.com/dahch/task-board-sync/domain"
)

// Store is a durable home for the canonical snapshot.
type Store interface {
	Load(ctx context.Context) ([]domain.Task, bool, error)
	Save(ctx context.Context, tasks []domain.Task) error
}

// Memory keeps the snapshot for the life of the process.
type Memory struct {
	mu    sync.Mutex
	tasks []domain.Task
	ok    bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(context.Context) ([]domain.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ok {
		return nil, false, nil
	}
	out := make([]domain.Task, len(m.tasks))
	copy(out, m.tasks)
	return out, true, nil
}

func (m *Memory) Save(_ context.Context, tasks []domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = make([]domain.Task, len(tasks))
	copy(m.tasks, tasks)
	m.ok = true
	return nil
}
