package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"

	"github.com/nkiryanov/blogpress/internal/apperrors"
	"github.com/nkiryanov/blogpress/internal/logger"
	"github.com/nkiryanov/blogpress/internal/storage"
)

const (
	// Payload field the token is attached to
	FormField = "_csrf"

	// Header name for requests without body
	Header = "X-CSRF-Token"

	tokenBytes = 32
)

// Service keeps one anti-forgery token per session
type Service struct {
	store  storage.Storage
	logger logger.Logger
}

func New(store storage.Storage, l logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.OrNoOp(l),
	}
}

// Generate new random token and store it as the current one
func (s *Service) GenerateToken(ctx context.Context) (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error while generate csrf token. Err: %w", err)
	}
	token := hex.EncodeToString(b)

	if err := s.store.Set(ctx, storage.KeyCSRFToken, token); err != nil {
		return "", fmt.Errorf("error while storing csrf token. Err: %w", err)
	}
	return token, nil
}

// Current token, generated if absent
// Empty string means storage is unavailable
func (s *Service) Token(ctx context.Context) string {
	token, err := s.store.Get(ctx, storage.KeyCSRFToken)
	switch {
	case err == nil && token != "":
		return token
	case err != nil && !errors.Is(err, apperrors.ErrKeyNotFound):
		s.logger.Error("Failed to read csrf token", "error", err)
		return ""
	}

	token, err = s.GenerateToken(ctx)
	if err != nil {
		s.logger.Error("Failed to generate csrf token", "error", err)
		return ""
	}
	return token
}

// Shallow copy of payload with token field set, payload itself is not modified
func (s *Service) ProtectForm(ctx context.Context, payload map[string]any) map[string]any {
	protected := make(map[string]any, len(payload)+1)
	maps.Copy(protected, payload)
	protected[FormField] = s.Token(ctx)
	return protected
}

// Compare candidate with the current token, both must be non-empty
func (s *Service) ValidateToken(ctx context.Context, candidate string) bool {
	if candidate == "" {
		return false
	}

	token, err := s.store.Get(ctx, storage.KeyCSRFToken)
	if err != nil || token == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(candidate)) == 1
}

func (s *Service) ClearToken(ctx context.Context) error {
	if err := s.store.Remove(ctx, storage.KeyCSRFToken); err != nil {
		return fmt.Errorf("error while removing csrf token. Err: %w", err)
	}
	return nil
}
