package models

import (
	"strings"
	"time"

	"reconciliation-workflow/pkg/errors"
)

// AuditLogEntry is an immutable record of one action. Entries are only ever
// appended.
type AuditLogEntry struct {
	ID          string                 `json:"id" yaml:"id"`
	Timestamp   time.Time              `json:"timestamp" yaml:"timestamp"`
	Actor       string                 `json:"actor" yaml:"actor"`
	ActorType   ActorType              `json:"actorType" yaml:"actorType"`
	Category    AuditCategory          `json:"category" yaml:"category"`
	Action      AuditAction            `json:"action" yaml:"action"`
	Severity    AuditSeverity          `json:"severity" yaml:"severity"`
	Description string                 `json:"description" yaml:"description"`
	Details     string                 `json:"details,omitempty" yaml:"details,omitempty"`
	BeforeState map[string]interface{} `json:"beforeState,omitempty" yaml:"beforeState,omitempty"`
	AfterState  map[string]interface{} `json:"afterState,omitempty" yaml:"afterState,omitempty"`
	IPAddress   string                 `json:"ipAddress,omitempty" yaml:"ipAddress,omitempty"`
}

// TimestampKey renders the timestamp in the UTC RFC 3339 form used for
// lexicographic date filtering.
func (a *AuditLogEntry) TimestampKey() string {
	return a.Timestamp.UTC().Format(time.RFC3339)
}

// Validate checks required fields and enums
func (a *AuditLogEntry) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id", a.ID, nil)
	}
	if a.Timestamp.IsZero() {
		return errors.ValidationError(errors.CodeMissingField, "timestamp", a.Timestamp, nil)
	}
	if strings.TrimSpace(a.Actor) == "" {
		return errors.ValidationError(errors.CodeMissingField, "actor", a.Actor, nil)
	}
	if !a.ActorType.IsValid() {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "actorType", a.ActorType, nil)
	}
	if !a.Category.IsValid() {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "category", a.Category, nil)
	}
	if !a.Action.IsValid() {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "action", a.Action, nil)
	}
	if !a.Severity.IsValid() {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "severity", a.Severity, nil)
	}
	return nil
}

// Snapshot captures the mutable fields of a record for before/after audit state.
func Snapshot(m *MatchedTransaction) map[string]interface{} {
	if m == nil {
		return nil
	}
	state := map[string]interface{}{
		"status":          string(m.Status),
		"confidenceLevel": string(m.ConfidenceLevel),
		"confidenceScore": m.ConfidenceScore,
		"version":         m.Version,
	}
	if m.Notes != "" {
		state["notes"] = m.Notes
	}
	if m.MatchedBy != "" {
		state["matchedBy"] = m.MatchedBy
	}
	if m.MatchedDate != nil {
		state["matchedDate"] = m.MatchedDate.UTC().Format(time.RFC3339)
	}
	if m.ReconciledAt != nil {
		state["reconciledAt"] = m.ReconciledAt.UTC().Format(time.RFC3339)
	}
	if m.LedgerTransaction != nil {
		state["ledgerTransactionId"] = m.LedgerTransaction.ID
	}
	return state
}
