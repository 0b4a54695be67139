package apiclient

import (
	"context"

	"github.com/nkiryanov/blogpress/internal/logger"
)

const LoginPath = "/login"

// UnauthorizedPolicy decides what 401 response means for the caller
// Returned error is what the request returns
type UnauthorizedPolicy interface {
	HandleUnauthorized(ctx context.Context, rerr *ResponseError) error
}

type UnauthorizedFunc func(ctx context.Context, rerr *ResponseError) error

func (f UnauthorizedFunc) HandleUnauthorized(ctx context.Context, rerr *ResponseError) error {
	return f(ctx, rerr)
}

// Navigator knows where the user is and is able to send them elsewhere
type Navigator interface {
	Path() string
	Redirect(path string)
}

type SessionClearer interface {
	ClearAllAuthData(ctx context.Context) error
}

// RedirectPolicy treats 401 as unrecoverable session:
// auth data is cleared and user is sent to login page.
// On the login page itself 401 means rejected credentials and becomes *LoginError
type RedirectPolicy struct {
	nav     Navigator
	session SessionClearer
	logger  logger.Logger
}

func NewRedirectPolicy(nav Navigator, session SessionClearer, l logger.Logger) *RedirectPolicy {
	return &RedirectPolicy{
		nav:     nav,
		session: session,
		logger:  logger.OrNoOp(l),
	}
}

func (p *RedirectPolicy) HandleUnauthorized(ctx context.Context, rerr *ResponseError) error {
	if p.nav.Path() == LoginPath {
		return &LoginError{Message: rerr.Message, Err: rerr}
	}

	if err := p.session.ClearAllAuthData(ctx); err != nil {
		p.logger.Error("Failed to clear auth data on unauthorized response", "error", err)
	}

	p.logger.Info("Session is gone, redirect to login page")
	p.nav.Redirect(LoginPath)

	return rerr
}
