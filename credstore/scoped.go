package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/MrEthical07/mindgate/internal/database"
)

// ScopedBackend keeps values in a SQLite scratch file that belongs to this
// process. The file and its journal are deleted on Close, so nothing
// outlives the process.
type ScopedBackend struct {
	mu sync.Mutex
	db *database.DB
}

// NewScopedBackend creates a scratch database in dir. An empty dir uses
// the system temp directory.
func NewScopedBackend(ctx context.Context, dir string) (*ScopedBackend, error) {
	f, err := os.CreateTemp(dir, "mindgate-scoped-*.db")
	if err != nil {
		return nil, fmt.Errorf("creating scratch file: %w", err)
	}
	path := f.Name()
	_ = f.Close()

	db, err := database.Open(ctx, database.Config{Path: path})
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS credentials (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	); err != nil {
		_ = db.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("creating credentials table: %w", err)
	}
	return &ScopedBackend{db: db}, nil
}

func (s *ScopedBackend) Kind() Kind { return KindScoped }

func (s *ScopedBackend) handle() (*database.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *ScopedBackend) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := s.handle()
	if err != nil {
		return "", false, err
	}
	var v string
	err = db.QueryRowContext(ctx, "SELECT value FROM credentials WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get: %w", err)
	}
	return v, true, nil
}

func (s *ScopedBackend) Set(ctx context.Context, key, value string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO credentials (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	); err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (s *ScopedBackend) Remove(ctx context.Context, key string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM credentials WHERE key = ?", key); err != nil {
		return fmt.Errorf("sqlite remove: %w", err)
	}
	return nil
}

// Path returns the scratch file, or "" after Close.
func (s *ScopedBackend) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ""
	}
	return s.db.Path()
}

func (s *ScopedBackend) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}

	err := db.Close()
	for _, p := range []string{db.Path(), db.Path() + "-wal", db.Path() + "-shm", db.Path() + "-journal"} {
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	return err
}
