// Package sqlite keeps client side storage in a local SQLite file.
// It is the default persistent backend of blogctl.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nkiryanov/blogpress/internal/apperrors"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_store (
	namespace   TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);`

// Database holds the connection shared by namespaced stores
type Database struct {
	db *sql.DB
}

// Open database file (created if missing) and init schema
// Use ":memory:" for throwaway database
func Open(ctx context.Context, path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database. Err: %w", err)
	}

	// SQLite allows one writer; in-memory databases are per connection as well
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init kv_store schema. Err: %w", err)
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Store returns storage bound to the namespace
func (d *Database) Store(namespace string) *Store {
	return &Store{db: d.db, namespace: namespace}
}

type Store struct {
	db        *sql.DB
	namespace string
}

const getValue = `
SELECT value FROM kv_store
WHERE namespace = ?1 AND key = ?2;`

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, getValue, s.namespace, key).Scan(&value)

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", apperrors.ErrKeyNotFound
	default:
		return "", fmt.Errorf("sqlite error: %w", err)
	}
}

const setValue = `
INSERT INTO kv_store (namespace, key, value, updated_at)
VALUES (?1, ?2, ?3, ?4)
ON CONFLICT (namespace, key) DO UPDATE
SET value = excluded.value, updated_at = excluded.updated_at;`

func (s *Store) Set(ctx context.Context, key string, value string) error {
	_, err := s.db.ExecContext(ctx, setValue, s.namespace, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite error: %w", err)
	}
	return nil
}

const removeValue = `
DELETE FROM kv_store
WHERE namespace = ?1 AND key = ?2;`

func (s *Store) Remove(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite tx error: %w", err)
	}

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, removeValue, s.namespace, key); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite error: %w", err)
		}
	}

	return tx.Commit()
}
