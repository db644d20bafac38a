package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KVStore persists typed system settings with create-or-overwrite semantics.
type KVStore struct {
	pool *pgxpool.Pool
}

// NewKVStore constructs the store.
func NewKVStore(pool *pgxpool.Pool) *KVStore {
	return &KVStore{pool: pool}
}

// Get returns the stored value for key, or ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) (string, error) {
	if s == nil {
		return "", errors.New("kv store not initialised")
	}
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM system_settings WHERE key=$1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Upsert creates or overwrites the value for key.
func (s *KVStore) Upsert(ctx context.Context, key, value string) error {
	if s == nil {
		return errors.New("kv store not initialised")
	}
	if key == "" {
		return errors.New("setting key required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now())
	return err
}
