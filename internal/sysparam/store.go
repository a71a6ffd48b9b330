package sysparam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"escorte/pkg/platform/sentinel"
	"escorte/pkg/platform/tx"
)

// PostgresStore persists parameters in the system_parameters table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (int64, error) {
	var value int64
	err := tx.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT value FROM system_parameters WHERE key = $1`, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, sentinel.ErrNotFound
		}
		return 0, fmt.Errorf("get system parameter %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value int64) error {
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, `
		INSERT INTO system_parameters (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("set system parameter %s: %w", key, err)
	}
	return nil
}

// InMemoryStore backs unit tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	values map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{values: make(map[string]int64)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return 0, sentinel.ErrNotFound
	}
	return v, nil
}

func (s *InMemoryStore) Set(_ context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
