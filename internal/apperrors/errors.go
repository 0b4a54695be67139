package apperrors

import (
	"errors"
)

var (
	ErrValidation = errors.New("validation failed")

	ErrUnauthenticated = errors.New("unauthenticated")
	ErrLoginFailed     = errors.New("login failed")
	ErrNoRefreshToken  = errors.New("refresh token not found")

	ErrServer  = errors.New("server error")
	ErrNetwork = errors.New("network error")

	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrKeyNotFound        = errors.New("key not found")

	ErrInvalidAuditEntry = errors.New("audit entry must have action, category and severity")
)
