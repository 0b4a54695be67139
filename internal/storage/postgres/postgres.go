package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/blogpress/internal/apperrors"
)

// Both *pgxpool.Pool and pgx.Tx satisfy it
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store keeps values in kv_store table, see internal/db migrations
type Store struct {
	DB        DBTX
	Namespace string
}

func NewStore(db DBTX, namespace string) *Store {
	return &Store{DB: db, Namespace: namespace}
}

const getValue = `-- name: GetValue
SELECT value FROM kv_store
WHERE namespace = $1 AND key = $2
`

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	rows, _ := s.DB.Query(ctx, getValue, s.Namespace, key)
	value, err := pgx.CollectOneRow(rows, pgx.RowTo[string])

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, pgx.ErrNoRows):
		return "", apperrors.ErrKeyNotFound
	default:
		return "", dbError(err)
	}
}

const setValue = `-- name: SetValue
INSERT INTO kv_store (namespace, key, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (namespace, key) DO UPDATE
SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`

func (s *Store) Set(ctx context.Context, key string, value string) error {
	if _, err := s.DB.Exec(ctx, setValue, s.Namespace, key, value); err != nil {
		return dbError(err)
	}
	return nil
}

const removeValues = `-- name: RemoveValues
DELETE FROM kv_store
WHERE namespace = $1 AND key = ANY($2)
`

func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if _, err := s.DB.Exec(ctx, removeValues, s.Namespace, keys); err != nil {
		return dbError(err)
	}
	return nil
}

// Classify postgres errors: connection problems make storage unavailable,
// missing table means migrations were not applied
func dbError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code), pgErr.Code == pgerrcode.AdminShutdown, pgErr.Code == pgerrcode.CannotConnectNow:
			return fmt.Errorf("db error: %w: %w", apperrors.ErrStorageUnavailable, err)
		case pgErr.Code == pgerrcode.UndefinedTable:
			return fmt.Errorf("db error, are migrations applied? %w", err)
		}
	}

	if pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("db error: %w: %w", apperrors.ErrStorageUnavailable, err)
	}

	return fmt.Errorf("db error: %w", err)
}
