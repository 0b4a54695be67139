package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/blogpress/internal/apperrors"
	"github.com/nkiryanov/blogpress/internal/logger"
	"github.com/nkiryanov/blogpress/internal/metrics"
	"github.com/nkiryanov/blogpress/internal/models"
	"github.com/nkiryanov/blogpress/internal/service/auditlog"
	"github.com/nkiryanov/blogpress/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/blogpress/internal/service/csrf"
	"github.com/nkiryanov/blogpress/internal/service/validate"
)

// Backend endpoints
const (
	PathLogin          = "/auth/login"
	PathLogout         = "/auth/logout"
	PathRefresh        = "/auth/refresh"
	PathRegister       = "/auth/register"
	PathMe             = "/auth/me"
	PathVerify         = "/auth/verify"
	PathRequestReset   = "/auth/request-reset"
	PathResetPassword  = "/auth/reset-password"
	PathChangePassword = "/auth/change-password"
)

type API interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body any, out any) error
}

type AuditLogger interface {
	LogAuthActivity(ctx context.Context, action string, details map[string]any, opts ...auditlog.EntryOption) (models.AuditLogResponse, error)
}

type Credentials struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6"`
	RememberMe bool   `json:"rememberMe"`
}

type RegisterParams struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// Backend answer on login and register
type sessionResponse struct {
	Success      bool                `json:"success"`
	Token        string              `json:"token"`
	RefreshToken string              `json:"refreshToken"`
	User         *models.UserProfile `json:"user"`
}

type Config struct {
	// Optional
	Metrics *metrics.Metrics
}

// Service orchestrates session lifecycle: login, logout, registration,
// password flows and coordinated token refresh
type Service struct {
	api       API
	tokens    *tokenmanager.Manager
	csrf      *csrf.Service
	audit     AuditLogger
	validator *validate.Validator
	logger    logger.Logger
	metrics   *metrics.Metrics

	state   atomic.Int32
	refresh singleflight.Group
}

func New(cfg Config, api API, tokens *tokenmanager.Manager, csrf *csrf.Service, audit AuditLogger, l logger.Logger) (*Service, error) {
	if api == nil || tokens == nil || csrf == nil || audit == nil {
		return nil, errors.New("auth dependencies must not be nil")
	}

	return &Service{
		api:       api,
		tokens:    tokens,
		csrf:      csrf,
		audit:     audit,
		validator: validate.New(),
		logger:    logger.OrNoOp(l),
		metrics:   cfg.Metrics,
	}, nil
}

func (s *Service) State() State {
	return State(s.state.Load())
}

func (s *Service) setState(state State) {
	prev := State(s.state.Swap(int32(state)))
	if prev != state {
		s.logger.Debug("Auth state changed", "from", prev, "to", state)
	}
}

// Restore state from persisted session, e.g. on process start
func (s *Service) Restore(ctx context.Context) State {
	if s.tokens.Token(ctx) != "" || s.tokens.RefreshToken(ctx) != "" {
		s.setState(StateAuthenticated)
	} else {
		s.setState(StateAnonymous)
	}
	return s.State()
}

// Token present and not about to expire. Local check, backend is not asked
func (s *Service) IsAuthenticated(ctx context.Context) bool {
	return s.tokens.Token(ctx) != "" && !s.tokens.IsTokenExpiredOrExpiring(ctx)
}

func (s *Service) Login(ctx context.Context, creds Credentials) (*models.UserProfile, error) {
	if err := s.validator.Struct(creds); err != nil {
		return nil, err
	}

	s.setState(StateAuthenticating)

	// Never mix artifacts of previous session with the new one
	if err := s.tokens.ClearAllAuthData(ctx); err != nil {
		s.logger.Warn("Failed to clear stale session", "error", err)
	}

	var resp sessionResponse
	err := s.api.Post(ctx, PathLogin, s.csrf.ProtectForm(ctx, map[string]any{
		"email":      creds.Email,
		"password":   creds.Password,
		"rememberMe": creds.RememberMe,
	}), &resp)
	if err == nil && resp.Token == "" {
		err = fmt.Errorf("%w: backend returned no token", apperrors.ErrLoginFailed)
	}
	if err == nil {
		err = s.tokens.SetSession(ctx, models.Session{
			AccessToken:  resp.Token,
			RefreshToken: resp.RefreshToken,
			User:         resp.User,
		})
	}

	if err != nil {
		s.setState(StateAnonymous)
		s.logAuth(ctx, "login_failed", map[string]any{"email": creds.Email}, models.AuditSeverityWarning)
		if errors.Is(err, apperrors.ErrLoginFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("login failed: %w", err)
	}

	s.setState(StateAuthenticated)
	s.logAuth(ctx, "login_success", map[string]any{"email": creds.Email, "rememberMe": creds.RememberMe}, models.AuditSeverityInfo)
	s.logger.Info("Logged in", "email", creds.Email)

	return resp.User, nil
}

// Logout notifies backend and clears local session whatever backend says
func (s *Service) Logout(ctx context.Context) {
	details := map[string]any{}
	if user := s.tokens.UserData(ctx); user != nil {
		details["userId"] = user.ID
	}
	s.logAuth(ctx, "logout", details, models.AuditSeverityInfo)

	if s.tokens.Token(ctx) != "" || s.tokens.RefreshToken(ctx) != "" {
		if err := s.api.Post(ctx, PathLogout, s.csrf.ProtectForm(ctx, nil), nil); err != nil {
			s.logger.Warn("Backend logout failed, clear local session anyway", "error", err)
		}
	}

	if err := s.tokens.ClearAllAuthData(ctx); err != nil {
		s.logger.Error("Failed to clear auth data on logout", "error", err)
	}
	if err := s.csrf.ClearToken(ctx); err != nil {
		s.logger.Error("Failed to clear csrf token on logout", "error", err)
	}

	s.setState(StateAnonymous)
}

func (s *Service) Register(ctx context.Context, params RegisterParams) (*models.UserProfile, error) {
	if err := s.validator.Struct(params); err != nil {
		return nil, err
	}

	var resp sessionResponse
	err := s.api.Post(ctx, PathRegister, s.csrf.ProtectForm(ctx, map[string]any{
		"username": params.Username,
		"email":    params.Email,
		"password": params.Password,
	}), &resp)
	if err == nil && resp.Token != "" {
		err = s.tokens.SetSession(ctx, models.Session{
			AccessToken:  resp.Token,
			RefreshToken: resp.RefreshToken,
			User:         resp.User,
		})
		if err == nil {
			s.setState(StateAuthenticated)
		}
	}

	if err != nil {
		s.logAuth(ctx, "register_failed", map[string]any{"email": params.Email}, models.AuditSeverityWarning)
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	s.logAuth(ctx, "register_success", map[string]any{"email": params.Email, "username": params.Username}, models.AuditSeverityInfo)
	return resp.User, nil
}

// Fetch current user and replace stored profile
func (s *Service) CurrentUser(ctx context.Context) (*models.UserProfile, error) {
	s.EnsureFreshToken(ctx)

	var user models.UserProfile
	if err := s.api.Get(ctx, PathMe, &user); err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	if err := s.tokens.SetUserData(ctx, &user); err != nil {
		s.logger.Warn("Failed to store user profile", "error", err)
	}
	return &user, nil
}

// Ask backend whether the session is still valid. Any error means it is not
func (s *Service) VerifySession(ctx context.Context) bool {
	var resp struct {
		Valid bool `json:"valid"`
	}

	if err := s.api.Get(ctx, PathVerify, &resp); err != nil {
		s.logger.Info("Session verification failed", "error", err)
		return false
	}
	return resp.Valid
}

// Audit failure never interrupts the audited action
func (s *Service) logAuth(ctx context.Context, action string, details map[string]any, severity models.AuditSeverity) {
	_, err := s.audit.LogAuthActivity(ctx, action, details, auditlog.WithSeverity(severity))
	if err != nil {
		s.logger.Warn("Failed to write audit log", "action", action, "error", err)
	}
}
