package tokenmanager

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/blogpress/internal/apperrors"
	"github.com/nkiryanov/blogpress/internal/models"
	"github.com/nkiryanov/blogpress/internal/storage"
	"github.com/nkiryanov/blogpress/internal/testutil"
)

// Storage that fails every operation
type brokenStorage struct{}

func (brokenStorage) Get(context.Context, string) (string, error) {
	return "", apperrors.ErrStorageUnavailable
}

func (brokenStorage) Set(context.Context, string, string) error {
	return apperrors.ErrStorageUnavailable
}

func (brokenStorage) Remove(context.Context, ...string) error {
	return apperrors.ErrStorageUnavailable
}

// Storage that pauses right after access token is written
type gatedStorage struct {
	*storage.Memory
	tokenWritten chan struct{}
	release      chan struct{}
}

func (g *gatedStorage) Set(ctx context.Context, key string, value string) error {
	if err := g.Memory.Set(ctx, key, value); err != nil {
		return err
	}
	if key == storage.KeyAuthToken {
		close(g.tokenWritten)
		<-g.release
	}
	return nil
}

func Test_Manager(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	newManager := func(t *testing.T) (*Manager, *storage.Memory) {
		store := storage.NewMemory()
		m, err := New(Config{Now: clock}, store, nil)
		require.NoError(t, err, "manager should be created without errors")
		return m, store
	}

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{}, storage.NewMemory(), nil)
		require.NoError(t, err)

		require.Equal(t, defaultExpiryBuffer, m.buffer, "default expiry buffer should be set")
		require.NotNil(t, m.now, "clock should be set")
	})

	t.Run("new without storage", func(t *testing.T) {
		_, err := New(Config{}, nil, nil)
		require.Error(t, err)
	})

	t.Run("SetToken stores expiry", func(t *testing.T) {
		m, store := newManager(t)
		exp := now.Add(time.Hour)
		token := testutil.IssueToken("user-1", exp)

		err := m.SetToken(t.Context(), token)
		require.NoError(t, err)

		require.Equal(t, token, m.Token(t.Context()))
		raw, err := store.Get(t.Context(), storage.KeyTokenExpiry)
		require.NoError(t, err)
		require.Equal(t, strconv.FormatInt(exp.Unix(), 10), raw, "expiry stored as epoch seconds")
	})

	t.Run("SetToken undecodable removes expiry", func(t *testing.T) {
		m, store := newManager(t)
		require.NoError(t, m.SetToken(t.Context(), testutil.IssueToken("user-1", now.Add(time.Hour))))

		err := m.SetToken(t.Context(), "not-a-jwt")
		require.NoError(t, err)

		require.Equal(t, "not-a-jwt", m.Token(t.Context()))
		_, err = store.Get(t.Context(), storage.KeyTokenExpiry)
		require.ErrorIs(t, err, apperrors.ErrKeyNotFound, "previous expiry must not survive")
		require.True(t, m.IsTokenExpiredOrExpiring(t.Context()))
	})

	t.Run("IsTokenExpiredOrExpiring", func(t *testing.T) {
		tests := []struct {
			name     string
			token    string
			expected bool
		}{
			{"no token", "", true},
			{"no exp claim", testutil.IssueToken("user-1", time.Time{}), true},
			{"expired", testutil.IssueToken("user-1", now.Add(-time.Minute)), true},
			{"expires in 200s", testutil.IssueToken("user-1", now.Add(200*time.Second)), true},
			{"expires in 299s", testutil.IssueToken("user-1", now.Add(299*time.Second)), true},
			{"expires in 300s", testutil.IssueToken("user-1", now.Add(300*time.Second)), false},
			{"expires in 400s", testutil.IssueToken("user-1", now.Add(400*time.Second)), false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				m, _ := newManager(t)
				require.NoError(t, m.SetToken(t.Context(), tt.token))

				require.Equal(t, tt.expected, m.IsTokenExpiredOrExpiring(t.Context()))
			})
		}
	})

	t.Run("UserData", func(t *testing.T) {
		t.Run("round trip", func(t *testing.T) {
			m, _ := newManager(t)
			user := &models.UserProfile{ID: "1", Username: "admin", Email: "admin@example.com", Role: "admin"}

			require.NoError(t, m.SetUserData(t.Context(), user))

			require.Equal(t, user, m.UserData(t.Context()))
		})

		t.Run("malformed is absent", func(t *testing.T) {
			m, store := newManager(t)
			require.NoError(t, store.Set(t.Context(), storage.KeyUser, "{broken"))

			require.Nil(t, m.UserData(t.Context()))
		})

		t.Run("nil removes", func(t *testing.T) {
			m, store := newManager(t)
			require.NoError(t, m.SetUserData(t.Context(), &models.UserProfile{ID: "1"}))

			require.NoError(t, m.SetUserData(t.Context(), nil))

			_, err := store.Get(t.Context(), storage.KeyUser)
			require.ErrorIs(t, err, apperrors.ErrKeyNotFound)
		})
	})

	t.Run("SetSession and Session", func(t *testing.T) {
		m, _ := newManager(t)
		exp := now.Add(15 * time.Minute)
		session := models.Session{
			AccessToken:  testutil.IssueToken("user-1", exp),
			RefreshToken: "refresh-1",
			User:         &models.UserProfile{ID: "1", Username: "admin"},
		}

		require.NoError(t, m.SetSession(t.Context(), session))

		got := m.Session(t.Context())
		assert.Equal(t, session.AccessToken, got.AccessToken)
		assert.Equal(t, "refresh-1", got.RefreshToken)
		assert.Equal(t, session.User, got.User)
		assert.Equal(t, exp.Unix(), got.Expiry)
	})

	t.Run("new token supersedes old", func(t *testing.T) {
		m, _ := newManager(t)
		require.NoError(t, m.SetRefreshToken(t.Context(), "refresh-1"))
		require.NoError(t, m.SetRefreshToken(t.Context(), "refresh-2"))

		require.Equal(t, "refresh-2", m.RefreshToken(t.Context()))
	})

	t.Run("ClearAllAuthData", func(t *testing.T) {
		m, store := newManager(t)
		require.NoError(t, m.SetSession(t.Context(), models.Session{
			AccessToken:  testutil.IssueToken("user-1", now.Add(time.Hour)),
			RefreshToken: "refresh-1",
			User:         &models.UserProfile{ID: "1"},
		}))
		require.NoError(t, store.Set(t.Context(), storage.KeyCSRFToken, "csrf"))

		err := m.ClearAllAuthData(t.Context())
		require.NoError(t, err)

		require.Equal(t, models.Session{}, m.Session(t.Context()))
		require.Equal(t, 1, store.Len(), "only csrf token should remain")
	})

	t.Run("readers never see new token with old expiry", func(t *testing.T) {
		store := &gatedStorage{
			Memory:       storage.NewMemory(),
			tokenWritten: make(chan struct{}),
			release:      make(chan struct{}),
		}
		require.NoError(t, store.Memory.Set(t.Context(), storage.KeyAuthToken, "old-token"))
		require.NoError(t, store.Memory.Set(t.Context(), storage.KeyTokenExpiry, strconv.FormatInt(now.Add(time.Hour).Unix(), 10)))
		m, err := New(Config{Now: clock}, store, nil)
		require.NoError(t, err)

		setDone := make(chan error, 1)
		go func() {
			setDone <- m.SetToken(t.Context(), testutil.IssueToken("user-1", now.Add(time.Minute)))
		}()
		<-store.tokenWritten

		expiring := make(chan bool, 1)
		go func() { expiring <- m.IsTokenExpiredOrExpiring(t.Context()) }()

		select {
		case <-expiring:
			t.Fatal("reader must wait until token and expiry are both written")
		case <-time.After(50 * time.Millisecond):
		}

		close(store.release)
		require.NoError(t, <-setDone)
		require.True(t, <-expiring, "new token expires within buffer")
	})

	t.Run("storage unavailable", func(t *testing.T) {
		m, err := New(Config{Now: clock}, brokenStorage{}, nil)
		require.NoError(t, err)

		require.Empty(t, m.Token(t.Context()), "read errors are treated as absent")
		require.Nil(t, m.UserData(t.Context()))
		require.True(t, m.IsTokenExpiredOrExpiring(t.Context()))

		err = m.SetToken(t.Context(), "token")
		require.True(t, errors.Is(err, apperrors.ErrStorageUnavailable), "write errors are returned")
		require.ErrorIs(t, m.ClearAllAuthData(t.Context()), apperrors.ErrStorageUnavailable)
	})
}
