package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/blogpress/internal/apperrors"
	"github.com/nkiryanov/blogpress/internal/storage"
	"github.com/nkiryanov/blogpress/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("get missing", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStore(tx, storage.NamespaceLocal)

			_, err := s.Get(t.Context(), storage.KeyAuthToken)

			require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
		})
	})

	t.Run("set overwrites", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStore(tx, storage.NamespaceLocal)

			require.NoError(t, s.Set(t.Context(), storage.KeyAuthToken, "first"))
			require.NoError(t, s.Set(t.Context(), storage.KeyAuthToken, "second"))

			got, err := s.Get(t.Context(), storage.KeyAuthToken)
			require.NoError(t, err)
			require.Equal(t, "second", got)
		})
	})

	t.Run("remove keys within namespace", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			local := NewStore(tx, storage.NamespaceLocal)
			session := NewStore(tx, storage.NamespaceSession)
			require.NoError(t, local.Set(t.Context(), storage.KeyUser, "{}"))
			require.NoError(t, local.Set(t.Context(), storage.KeyTokenExpiry, "100"))
			require.NoError(t, session.Set(t.Context(), storage.KeyUser, "{}"))

			err := local.Remove(t.Context(), storage.KeyUser, storage.KeyTokenExpiry)
			require.NoError(t, err)

			_, err = local.Get(t.Context(), storage.KeyUser)
			require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
			_, err = local.Get(t.Context(), storage.KeyTokenExpiry)
			require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
			_, err = session.Get(t.Context(), storage.KeyUser)
			require.NoError(t, err, "other namespace must stay untouched")
		})
	})

	t.Run("remove nothing", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			require.NoError(t, NewStore(tx, storage.NamespaceLocal).Remove(t.Context()))
		})
	})
}

func Test_dbError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{
			name:        "connection exception",
			err:         &pgconn.PgError{Code: pgerrcode.ConnectionFailure},
			unavailable: true,
		},
		{
			name:        "server shutting down",
			err:         &pgconn.PgError{Code: pgerrcode.AdminShutdown},
			unavailable: true,
		},
		{
			name:        "undefined table",
			err:         &pgconn.PgError{Code: pgerrcode.UndefinedTable},
			unavailable: false,
		},
		{
			name:        "unknown error",
			err:         errors.New("boom"),
			unavailable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dbError(tt.err)

			require.ErrorIs(t, err, tt.err, "original error must be wrapped")
			require.Equal(t, tt.unavailable, errors.Is(err, apperrors.ErrStorageUnavailable))
		})
	}
}
