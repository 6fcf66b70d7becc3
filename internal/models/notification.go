package models

import (
	"strings"
	"time"

	"reconciliation-workflow/pkg/errors"
)

// NotificationItem is a message shown to one user
type NotificationItem struct {
	ID      string           `json:"id" yaml:"id"`
	Title   string           `json:"title" yaml:"title"`
	Message string           `json:"message" yaml:"message"`
	Time    time.Time        `json:"time" yaml:"time"`
	IsRead  bool             `json:"isRead" yaml:"isRead"`
	Type    NotificationType `json:"type" yaml:"type"`
}

// Validate checks required fields and the notification type
func (n *NotificationItem) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return errors.ValidationError(errors.CodeMissingField, "title", n.Title, nil)
	}
	if !n.Type.IsValid() {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "type", n.Type, nil)
	}
	return nil
}
