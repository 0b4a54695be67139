package storage

import (
	"context"
)

// Keys the session client persists
const (
	KeyAuthToken     = "authToken"
	KeyRefreshToken  = "refreshToken"
	KeyUser          = "user"
	KeyTokenExpiry   = "tokenExpiry"
	KeyCSRFToken     = "csrfToken"
	KeyAuditLogCache = "auditLogCache"
)

// Namespaces used to split persistent and session scoped values in shared backends
const (
	NamespaceLocal   = "local"
	NamespaceSession = "session"
)

// Storage is a string key-value port used as client side storage
// Implementations must be safe for concurrent use
type Storage interface {
	// Get value by key
	// If key not exists has to return apperrors.ErrKeyNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set value, overwriting the previous one
	Set(ctx context.Context, key string, value string) error

	// Remove keys, missing keys are ignored
	Remove(ctx context.Context, keys ...string) error
}
