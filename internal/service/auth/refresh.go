package auth

import (
	"context"
	"time"

	"github.com/nkiryanov/blogpress/internal/apperrors"
	"github.com/nkiryanov/blogpress/internal/metrics"
	"github.com/nkiryanov/blogpress/internal/models"
)

const refreshKey = "refresh"

// RefreshToken exchanges refresh token for new access token
// Concurrent callers share one backend call and its result.
// False means the user has to log in again
func (s *Service) RefreshToken(ctx context.Context) bool {
	// Shared call must not be canceled by the caller who happened to start it
	detached := context.WithoutCancel(ctx)

	v, _, shared := s.refresh.Do(refreshKey, func() (any, error) {
		return s.doRefresh(detached), nil
	})
	if shared {
		s.metrics.TokenRefresh(metrics.ResultShared)
	}

	return v.(bool)
}

func (s *Service) doRefresh(ctx context.Context) bool {
	refresh := s.tokens.RefreshToken(ctx)
	if refresh == "" {
		s.logger.Debug("No refresh token, refresh skipped", "error", apperrors.ErrNoRefreshToken)
		return false
	}

	s.setState(StateRefreshing)

	var pair models.TokenPair
	err := s.api.Post(ctx, PathRefresh, s.csrf.ProtectForm(ctx, map[string]any{"refreshToken": refresh}), &pair)
	if err == nil && pair.Access == "" {
		err = apperrors.ErrUnauthenticated
	}
	if err == nil {
		err = s.tokens.SetToken(ctx, pair.Access)
	}
	if err == nil && pair.Refresh != "" {
		err = s.tokens.SetRefreshToken(ctx, pair.Refresh)
	}

	if err != nil {
		s.setState(StateAnonymous)
		s.metrics.TokenRefresh(metrics.ResultFailure)
		s.logger.Warn("Token refresh failed", "error", err)
		s.logAuth(ctx, "token_refresh_failed", map[string]any{"error": err.Error()}, models.AuditSeverityWarning)
		return false
	}

	s.setState(StateAuthenticated)
	s.metrics.TokenRefresh(metrics.ResultSuccess)
	s.logAuth(ctx, "token_refresh", map[string]any{"rotated": pair.Refresh != ""}, models.AuditSeverityInfo)
	return true
}

// EnsureFreshToken refreshes access token if it is about to expire
// True if usable access token is there after the call
func (s *Service) EnsureFreshToken(ctx context.Context) bool {
	if s.IsAuthenticated(ctx) {
		return true
	}
	if s.tokens.RefreshToken(ctx) == "" {
		return false
	}
	return s.RefreshToken(ctx)
}

// KeepAlive refreshes token in advance every interval until ctx is done
// Returned channel is closed when loop stops
func (s *Service) KeepAlive(ctx context.Context, interval time.Duration) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting session keep alive", "interval", interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Keep alive stopped by context")
				return

			case <-ticker.C:
				if s.tokens.RefreshToken(ctx) == "" {
					continue
				}
				if !s.EnsureFreshToken(ctx) {
					s.logger.Warn("Session could not be kept alive, login required")
				}
			}
		}
	}()

	return idleStopped
}
