package models

import (
	"time"
)

type AuditCategory string

const (
	AuditCategoryAuthentication   AuditCategory = "authentication"
	AuditCategoryDataModification AuditCategory = "data_modification"
	AuditCategoryAdminAction      AuditCategory = "admin_action"
	AuditCategorySecurity         AuditCategory = "security"
	AuditCategorySystem           AuditCategory = "system"
)

type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityError    AuditSeverity = "error"
	AuditSeverityCritical AuditSeverity = "critical"
)

// Resource the audited action was applied to
type AuditResource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type AuditLogEntry struct {
	Action    string         `json:"action"`
	Category  AuditCategory  `json:"category"`
	Severity  AuditSeverity  `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
	Resource  *AuditResource `json:"resource,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
}

// Entry has everything the backend requires to accept it
func (e AuditLogEntry) Valid() bool {
	return e.Action != "" && e.Category != "" && e.Severity != ""
}

// Response on audit entry creation
// Local is true when the entry was cached instead of being sent
type AuditLogResponse struct {
	ID    string
	Entry AuditLogEntry
	Local bool
}
