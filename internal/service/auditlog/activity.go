package auditlog

import (
	"context"

	"github.com/nkiryanov/blogpress/internal/models"
)

type EntryOption func(*models.AuditLogEntry)

// Override default severity of the wrapper
func WithSeverity(severity models.AuditSeverity) EntryOption {
	return func(e *models.AuditLogEntry) {
		e.Severity = severity
	}
}

func WithResource(resourceType string, id string) EntryOption {
	return func(e *models.AuditLogEntry) {
		e.Resource = &models.AuditResource{Type: resourceType, ID: id}
	}
}

func WithActor(actor string) EntryOption {
	return func(e *models.AuditLogEntry) {
		e.Actor = actor
	}
}

func (s *Service) LogAuthActivity(ctx context.Context, action string, details map[string]any, opts ...EntryOption) (models.AuditLogResponse, error) {
	return s.log(ctx, action, models.AuditCategoryAuthentication, models.AuditSeverityInfo, details, opts)
}

func (s *Service) LogDataActivity(ctx context.Context, action string, details map[string]any, opts ...EntryOption) (models.AuditLogResponse, error) {
	return s.log(ctx, action, models.AuditCategoryDataModification, models.AuditSeverityInfo, details, opts)
}

func (s *Service) LogSecurityActivity(ctx context.Context, action string, details map[string]any, opts ...EntryOption) (models.AuditLogResponse, error) {
	return s.log(ctx, action, models.AuditCategorySecurity, models.AuditSeverityWarning, details, opts)
}

func (s *Service) LogAdminActivity(ctx context.Context, action string, details map[string]any, opts ...EntryOption) (models.AuditLogResponse, error) {
	return s.log(ctx, action, models.AuditCategoryAdminAction, models.AuditSeverityInfo, details, opts)
}

func (s *Service) log(
	ctx context.Context,
	action string,
	category models.AuditCategory,
	severity models.AuditSeverity,
	details map[string]any,
	opts []EntryOption,
) (models.AuditLogResponse, error) {
	entry := models.AuditLogEntry{
		Action:   action,
		Category: category,
		Severity: severity,
		Details:  details,
	}
	for _, opt := range opts {
		opt(&entry)
	}

	return s.CreateLogEntry(ctx, entry)
}
