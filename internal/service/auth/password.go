package auth

import (
	"context"
	"fmt"

	"github.com/nkiryanov/blogpress/internal/models"
)

type resetParams struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6"`
}

type changeParams struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,nefield=CurrentPassword"`
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if err := s.validator.Var("email", email, "required,email"); err != nil {
		return err
	}

	err := s.api.Post(ctx, PathRequestReset, s.csrf.ProtectForm(ctx, map[string]any{"email": email}), nil)
	if err != nil {
		s.logAuth(ctx, "password_reset_request_failed", map[string]any{"email": email}, models.AuditSeverityWarning)
		return fmt.Errorf("password reset request failed: %w", err)
	}

	s.logAuth(ctx, "password_reset_requested", map[string]any{"email": email}, models.AuditSeverityInfo)
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, token string, newPassword string) error {
	params := resetParams{Token: token, NewPassword: newPassword}
	if err := s.validator.Struct(params); err != nil {
		return err
	}

	err := s.api.Post(ctx, PathResetPassword, s.csrf.ProtectForm(ctx, map[string]any{
		"token":       params.Token,
		"newPassword": params.NewPassword,
	}), nil)
	if err != nil {
		s.logAuth(ctx, "password_reset_failed", nil, models.AuditSeverityWarning)
		return fmt.Errorf("password reset failed: %w", err)
	}

	s.logAuth(ctx, "password_reset_success", nil, models.AuditSeverityInfo)
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, currentPassword string, newPassword string) error {
	params := changeParams{CurrentPassword: currentPassword, NewPassword: newPassword}
	if err := s.validator.Struct(params); err != nil {
		return err
	}

	s.EnsureFreshToken(ctx)

	details := map[string]any{}
	if user := s.tokens.UserData(ctx); user != nil {
		details["userId"] = user.ID
	}

	err := s.api.Post(ctx, PathChangePassword, s.csrf.ProtectForm(ctx, map[string]any{
		"currentPassword": params.CurrentPassword,
		"newPassword":     params.NewPassword,
	}), nil)
	if err != nil {
		s.logAuth(ctx, "password_change_failed", details, models.AuditSeverityWarning)
		return fmt.Errorf("password change failed: %w", err)
	}

	s.logAuth(ctx, "password_changed", details, models.AuditSeverityInfo)
	return nil
}
