package apiclient

import (
	"fmt"
	"net/http"

	"github.com/nkiryanov/blogpress/internal/apperrors"
)

const defaultServerErrorMessage = "Internal server error"

// ResponseError is returned for every non 2xx response
// Err is a sentinel from apperrors when status is known: 401 or 500
type ResponseError struct {
	Status  int
	Message string
	Err     error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("status %d: %v: %s", e.Status, e.Err, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

func newResponseError(status int, message string) *ResponseError {
	rerr := &ResponseError{Status: status, Message: message}

	switch status {
	case http.StatusUnauthorized:
		rerr.Err = apperrors.ErrUnauthenticated
	case http.StatusInternalServerError:
		rerr.Err = apperrors.ErrServer
		if rerr.Message == "" {
			rerr.Message = defaultServerErrorMessage
		}
	}

	return rerr
}

// LoginError is what 401 turns into while the user is on the login page
// Message is ready to be shown in the login form
type LoginError struct {
	Message string
	Err     error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("%v: %s", apperrors.ErrLoginFailed, e.Message)
}

func (e *LoginError) Unwrap() []error {
	return []error{apperrors.ErrLoginFailed, e.Err}
}
