package notify

import (
	"context"
	"testing"
	"time"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

func seeded(t *testing.T) *MemoryService {
	t.Helper()
	s, err := NewMemoryServiceFromSeed(map[string][]models.NotificationItem{
		"sarah.johnson": {
			{ID: "1", Title: "12 new transactions", Message: "Require your review", Time: time.Date(2024, 1, 20, 10, 25, 0, 0, time.UTC), Type: models.NotificationWarning},
			{ID: "3", Title: "Exception flagged", Message: "TR-2024-089 needs attention", Time: time.Date(2024, 1, 20, 8, 30, 0, 0, time.UTC), IsRead: true, Type: models.NotificationError},
			{ID: "2", Title: "Bank statement uploaded", Message: "Processing complete", Time: time.Date(2024, 1, 20, 9, 30, 0, 0, time.UTC), Type: models.NotificationSuccess},
		},
	})
	if err != nil {
		t.Fatalf("NewMemoryServiceFromSeed() error = %v", err)
	}
	s.SetLogger(logger.Discard())
	return s
}

func ids(items []models.NotificationItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestListNotifications_NewestFirst(t *testing.T) {
	s := seeded(t)
	items, err := s.ListNotifications(context.Background(), "sarah.johnson")
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	got := ids(items)
	want := []string{"1", "2", "3"}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ids = %v, want %v", got, want)
			break
		}
	}

	other, err := s.ListNotifications(context.Background(), "john.doe")
	if err != nil || len(other) != 0 {
		t.Errorf("other user = %v, %v; want empty", other, err)
	}
	if _, err := s.ListNotifications(context.Background(), " "); !errors.HasCode(err, errors.CodeMissingField) {
		t.Errorf("blank user error = %v", err)
	}
}

func TestMarkReadAndDismiss(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	if n, _ := s.Unread(ctx, "sarah.johnson"); n != 2 {
		t.Fatalf("unread = %d, want 2", n)
	}
	if err := s.MarkRead(ctx, "1"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if err := s.MarkRead(ctx, "1"); err != nil {
		t.Fatalf("second MarkRead() error = %v", err)
	}
	if n, _ := s.Unread(ctx, "sarah.johnson"); n != 1 {
		t.Errorf("unread = %d, want 1", n)
	}

	if err := s.Dismiss(ctx, "2"); err != nil {
		t.Fatalf("Dismiss() error = %v", err)
	}
	items, _ := s.ListNotifications(ctx, "sarah.johnson")
	if len(items) != 2 {
		t.Errorf("after dismiss got %v", ids(items))
	}
	if err := s.Dismiss(ctx, "2"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("dismissing twice error = %v, want not found", err)
	}
	if err := s.MarkRead(ctx, "missing"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("MarkRead(missing) error = %v, want not found", err)
	}
}

func TestPublish(t *testing.T) {
	tests := []struct {
		name string
		user string
		item models.NotificationItem
		code errors.ErrorCode
	}{
		{name: "valid", user: "john.doe", item: models.NotificationItem{Title: "Daily summary", Type: models.NotificationInfo}},
		{name: "unknown type", user: "john.doe", item: models.NotificationItem{Title: "x", Type: "urgent"}, code: errors.CodeUnrecognizedValue},
		{name: "missing title", user: "john.doe", item: models.NotificationItem{Type: models.NotificationInfo}, code: errors.CodeMissingField},
		{name: "missing user", item: models.NotificationItem{Title: "x", Type: models.NotificationInfo}, code: errors.CodeMissingField},
		{name: "duplicate id", user: "john.doe", item: models.NotificationItem{ID: "1", Title: "x", Type: models.NotificationInfo}, code: errors.CodeInconsistent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := seeded(t)
			err := s.Publish(context.Background(), tt.user, tt.item)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("Publish() error = %v", err)
				}
				items, _ := s.ListNotifications(context.Background(), tt.user)
				if len(items) != 1 || items[0].ID == "" || items[0].Time.IsZero() {
					t.Errorf("published = %+v", items)
				}
				return
			}
			if !errors.HasCode(err, tt.code) {
				t.Errorf("Publish() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestCanceledContext(t *testing.T) {
	s := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.ListNotifications(ctx, "sarah.johnson"); err == nil {
		t.Error("expected error for canceled context")
	}
}
