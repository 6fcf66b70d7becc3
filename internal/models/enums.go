package models

import (
	"strings"

	"reconciliation-workflow/pkg/errors"
)

// Status is the lifecycle position of a MatchedTransaction
type Status string

const (
	StatusAutoMatched    Status = "Auto-Matched"
	StatusReviewRequired Status = "Review Required"
	StatusException      Status = "Exception"
	StatusAccepted       Status = "Accepted"
	StatusRejected       Status = "Rejected"
	StatusRematched      Status = "Rematched"
	StatusReconciled     Status = "Reconciled"
)

// AllStatuses lists every status in display order
var AllStatuses = []Status{
	StatusAutoMatched,
	StatusReviewRequired,
	StatusException,
	StatusAccepted,
	StatusRejected,
	StatusRematched,
	StatusReconciled,
}

// ConfidenceLevel is the categorical bucket of a confidence score
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "High"
	ConfidenceMedium ConfidenceLevel = "Medium"
	ConfidenceLow    ConfidenceLevel = "Low"
)

var AllConfidenceLevels = []ConfidenceLevel{ConfidenceHigh, ConfidenceMedium, ConfidenceLow}

// ActorType identifies who performed an audited action
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorAI     ActorType = "ai"
)

var AllActorTypes = []ActorType{ActorUser, ActorSystem, ActorAI}

// AuditCategory groups audit entries by functional area
type AuditCategory string

const (
	CategoryUpload         AuditCategory = "upload"
	CategoryMatching       AuditCategory = "matching"
	CategoryReconciliation AuditCategory = "reconciliation"
	CategoryConfig         AuditCategory = "config"
	CategoryAuth           AuditCategory = "auth"
)

var AllAuditCategories = []AuditCategory{
	CategoryUpload,
	CategoryMatching,
	CategoryReconciliation,
	CategoryConfig,
	CategoryAuth,
}

// AuditAction is the verb recorded on an audit entry
type AuditAction string

const (
	ActionCreate  AuditAction = "create"
	ActionUpdate  AuditAction = "update"
	ActionDelete  AuditAction = "delete"
	ActionApprove AuditAction = "approve"
	ActionReject  AuditAction = "reject"
)

var AllAuditActions = []AuditAction{ActionCreate, ActionUpdate, ActionDelete, ActionApprove, ActionReject}

// AuditSeverity ranks audit entries
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
)

var AllAuditSeverities = []AuditSeverity{SeverityInfo, SeverityWarning, SeverityError, SeverityCritical}

// NotificationType drives how a notification is presented
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationSuccess NotificationType = "success"
	NotificationError   NotificationType = "error"
)

var AllNotificationTypes = []NotificationType{
	NotificationInfo,
	NotificationWarning,
	NotificationSuccess,
	NotificationError,
}

// enumKey folds case, spaces, hyphens and underscores so "auto_matched",
// "AutoMatched" and "Auto-Matched" compare equal.
func enumKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
}

// parseEnum resolves raw against a closed set. Unknown values are rejected,
// there is no catch-all.
func parseEnum[T ~string](field, raw string, values []T) (T, error) {
	key := enumKey(raw)
	for _, v := range values {
		if key != "" && enumKey(string(v)) == key {
			return v, nil
		}
	}
	var zero T
	return zero, errors.ValidationError(errors.CodeUnrecognizedValue, field, raw, nil)
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// String returns the display form of the status
func (s Status) String() string { return string(s) }

// IsValid reports whether s is one of the seven lifecycle statuses
func (s Status) IsValid() bool { return contains(AllStatuses, s) }

// IsTerminal reports whether no further transition is defined from s
func (s Status) IsTerminal() bool { return s == StatusReconciled }

// ParseStatus parses a status, failing closed on unknown values
func ParseStatus(raw string) (Status, error) { return parseEnum("status", raw, AllStatuses) }

// UnmarshalText validates the status while decoding JSON or YAML
func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (c ConfidenceLevel) String() string { return string(c) }

func (c ConfidenceLevel) IsValid() bool { return contains(AllConfidenceLevels, c) }

// ParseConfidenceLevel parses a confidence bucket name
func ParseConfidenceLevel(raw string) (ConfidenceLevel, error) {
	return parseEnum("confidenceLevel", raw, AllConfidenceLevels)
}

func (c *ConfidenceLevel) UnmarshalText(text []byte) error {
	v, err := ParseConfidenceLevel(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (a ActorType) String() string { return string(a) }

func (a ActorType) IsValid() bool { return contains(AllActorTypes, a) }

func ParseActorType(raw string) (ActorType, error) { return parseEnum("actorType", raw, AllActorTypes) }

func (a *ActorType) UnmarshalText(text []byte) error {
	v, err := ParseActorType(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (c AuditCategory) String() string { return string(c) }

func (c AuditCategory) IsValid() bool { return contains(AllAuditCategories, c) }

func ParseAuditCategory(raw string) (AuditCategory, error) {
	return parseEnum("category", raw, AllAuditCategories)
}

func (c *AuditCategory) UnmarshalText(text []byte) error {
	v, err := ParseAuditCategory(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (a AuditAction) String() string { return string(a) }

func (a AuditAction) IsValid() bool { return contains(AllAuditActions, a) }

func ParseAuditAction(raw string) (AuditAction, error) {
	return parseEnum("action", raw, AllAuditActions)
}

func (a *AuditAction) UnmarshalText(text []byte) error {
	v, err := ParseAuditAction(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (s AuditSeverity) String() string { return string(s) }

func (s AuditSeverity) IsValid() bool { return contains(AllAuditSeverities, s) }

func ParseAuditSeverity(raw string) (AuditSeverity, error) {
	return parseEnum("severity", raw, AllAuditSeverities)
}

func (s *AuditSeverity) UnmarshalText(text []byte) error {
	v, err := ParseAuditSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (n NotificationType) String() string { return string(n) }

func (n NotificationType) IsValid() bool { return contains(AllNotificationTypes, n) }

func ParseNotificationType(raw string) (NotificationType, error) {
	return parseEnum("type", raw, AllNotificationTypes)
}

func (n *NotificationType) UnmarshalText(text []byte) error {
	v, err := ParseNotificationType(string(text))
	if err != nil {
		return err
	}
	*n = v
	return nil
}
