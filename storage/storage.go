// Package storage implements the client-side persistence cache: a single
// serialized snapshot of the task collection kept under a fixed key.
package storage

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"

	"github.com/dahch/task-board-sync/domain"
)

// TasksKey is the single key the task snapshot is stored under.
const TasksKey = "tasks"

// ErrClosed is returned by caches used after Close.
var ErrClosed = errors.New("storage: cache closed")

// Cache persists the last canonical task snapshot across client restarts.
type Cache interface {
	// Load returns the stored snapshot; ok is false when nothing is stored.
	Load(ctx context.Context) (tasks []domain.Task, ok bool, err error)
	// Store overwrites the stored snapshot.
	Store(ctx context.Context, tasks []domain.Task) error
	Close() error
}

// Nop is a Cache that stores nothing.
type Nop struct{}

func (Nop) Load(context.Context) ([]domain.Task, bool, error) { return nil, false, nil }

func (Nop) Store(context.Context, []domain.Task) error { return nil }

func (Nop) Close() error { return nil }

func encodeTasks(tasks []domain.Task) ([]byte, error) {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return sonic.ConfigStd.Marshal(tasks)
}

func decodeTasks(data []byte) ([]domain.Task, error) {
	var tasks []domain.Task
	if err := sonic.ConfigStd.Unmarshal(data, &tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, nil
}
