package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/blogpress/internal/apperrors"
	"github.com/nkiryanov/blogpress/internal/jsonx"
	"github.com/nkiryanov/blogpress/internal/logger"
	"github.com/nkiryanov/blogpress/internal/models"
	"github.com/nkiryanov/blogpress/internal/storage"
)

const (
	defaultExpiryBuffer = 5 * time.Minute
)

// Token manager with sensible default
type Config struct {
	// Token considered expiring when less than buffer left before expiration
	// If not set than default is used
	ExpiryBuffer time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

// Manager is the only owner of the persisted session:
// access and refresh tokens, user profile and decoded token expiry
type Manager struct {
	store  storage.Storage
	logger logger.Logger

	buffer time.Duration
	now    func() time.Time

	// Serialize writes touching several keys
	// Writers hold it exclusively, so readers never see half written session
	mu sync.RWMutex
}

func New(cfg Config, store storage.Storage, l logger.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("storage must not be nil")
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.ExpiryBuffer, defaultExpiryBuffer)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		store:  store,
		logger: logger.OrNoOp(l),
		buffer: cfg.ExpiryBuffer,
		now:    cfg.Now,
	}, nil
}

func (m *Manager) Token(ctx context.Context) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(ctx, storage.KeyAuthToken)
}

// Store access token and its expiration decoded from the exp claim
func (m *Manager) SetToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setToken(ctx, token)
}

func (m *Manager) RefreshToken(ctx context.Context) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(ctx, storage.KeyRefreshToken)
}

func (m *Manager) SetRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(ctx, storage.KeyRefreshToken, token)
}

// Stored user profile or nil if there is none or it is malformed
func (m *Manager) UserData(ctx context.Context) *models.UserProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userData(ctx)
}

func (m *Manager) userData(ctx context.Context) *models.UserProfile {
	raw := m.get(ctx, storage.KeyUser)

	user, err := jsonx.ParseWithFallback[*models.UserProfile](raw, nil)
	if err != nil {
		m.logger.Warn("Stored user data is malformed, ignore it", "error", err)
		return nil
	}
	return user
}

// Replace user profile. Nil user removes the stored one
func (m *Manager) SetUserData(ctx context.Context, user *models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setUserData(ctx, user)
}

// Decoded access token expiration, false if unknown
func (m *Manager) Expiry(ctx context.Context) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiry(ctx)
}

func (m *Manager) expiry(ctx context.Context) (time.Time, bool) {
	raw := m.get(ctx, storage.KeyTokenExpiry)
	if raw == "" {
		return time.Time{}, false
	}

	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logger.Warn("Stored token expiry is malformed, ignore it", "error", err)
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

// True if there is no token, its expiration is unknown or it expires within buffer
// Token and expiry are read together under one lock
func (m *Manager) IsTokenExpiredOrExpiring(ctx context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.get(ctx, storage.KeyAuthToken) == "" {
		return true
	}

	expiry, ok := m.expiry(ctx)
	if !ok {
		return true
	}

	return expiry.Sub(m.now()) < m.buffer
}

// Current session snapshot
func (m *Manager) Session(ctx context.Context) models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := models.Session{
		AccessToken:  m.get(ctx, storage.KeyAuthToken),
		RefreshToken: m.get(ctx, storage.KeyRefreshToken),
		User:         m.userData(ctx),
	}
	if expiry, ok := m.expiry(ctx); ok {
		s.Expiry = expiry.Unix()
	}
	return s
}

// Persist token, refresh token and user in that order
// Expiry is always decoded from the token, session.Expiry is ignored
func (m *Manager) SetSession(ctx context.Context, session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.setToken(ctx, session.AccessToken); err != nil {
		return err
	}
	if err := m.set(ctx, storage.KeyRefreshToken, session.RefreshToken); err != nil {
		return err
	}
	return m.setUserData(ctx, session.User)
}

func (m *Manager) ClearAllAuthData(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.store.Remove(ctx,
		storage.KeyAuthToken,
		storage.KeyRefreshToken,
		storage.KeyUser,
		storage.KeyTokenExpiry,
	)
	if err != nil {
		return fmt.Errorf("failed to clear auth data: %w", err)
	}
	return nil
}

func (m *Manager) setToken(ctx context.Context, token string) error {
	if err := m.set(ctx, storage.KeyAuthToken, token); err != nil {
		return err
	}

	exp, err := decodeExpiry(token)
	if err != nil {
		if token != "" {
			m.logger.Warn("Access token expiry could not be decoded", "error", err)
		}
		return m.remove(ctx, storage.KeyTokenExpiry)
	}

	return m.set(ctx, storage.KeyTokenExpiry, strconv.FormatInt(exp.Unix(), 10))
}

func (m *Manager) setUserData(ctx context.Context, user *models.UserProfile) error {
	if user == nil {
		return m.remove(ctx, storage.KeyUser)
	}

	raw, err := jsonx.MarshalString(user)
	if err != nil {
		return err
	}
	return m.set(ctx, storage.KeyUser, raw)
}

// Read value, storage errors are treated as absent value
func (m *Manager) get(ctx context.Context, key string) string {
	value, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		return value
	case errors.Is(err, apperrors.ErrKeyNotFound):
		return ""
	default:
		m.logger.Warn("Failed to read from storage", "key", key, "error", err)
		return ""
	}
}

// Set value, empty value removes the key
func (m *Manager) set(ctx context.Context, key string, value string) error {
	if value == "" {
		return m.remove(ctx, key)
	}

	if err := m.store.Set(ctx, key, value); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (m *Manager) remove(ctx context.Context, key string) error {
	if err := m.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Read exp claim without signature verification: the key belongs to backend
func decodeExpiry(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, errors.New("empty token")
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("error while parsing token. Err: %w", err)
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("error while reading exp claim. Err: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}

	return exp.Time, nil
}
