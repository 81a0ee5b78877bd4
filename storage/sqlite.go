package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dahch/task-board-sync/domain"
)

// SQLite keeps the snapshot in a local key/value table.
type SQLite struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewSQLite opens (creating if needed) the cache database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT NOT NULL PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context) ([]domain.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, TasksKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache: %w", err)
	}
	tasks, err := decodeTasks([]byte(raw))
	if err != nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, TasksKey); err != nil {
			return nil, false, fmt.Errorf("evict corrupt cache value: %w", err)
		}
		return nil, false, nil
	}
	return tasks, true, nil
}

func (s *SQLite) Store(ctx context.Context, tasks []domain.Task) error {
	data, err := encodeTasks(tasks)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		TasksKey, string(data),
	); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
