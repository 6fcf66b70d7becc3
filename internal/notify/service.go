// Package notify keeps per-user notifications in memory.
package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// Service is the notification collaborator
type Service interface {
	ListNotifications(ctx context.Context, userID string) ([]models.NotificationItem, error)
	MarkRead(ctx context.Context, id string) error
	Dismiss(ctx context.Context, id string) error
	Publish(ctx context.Context, userID string, item models.NotificationItem) error
}

type entry struct {
	user      string
	item      models.NotificationItem
	dismissed bool
}

// MemoryService is an in-process Service
type MemoryService struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byUser  map[string][]string
	clock   func() time.Time
	logger  logger.Logger
}

// NewMemoryService creates an empty notification store
func NewMemoryService() *MemoryService {
	return &MemoryService{
		entries: make(map[string]*entry),
		byUser:  make(map[string][]string),
		clock:   func() time.Time { return time.Now().UTC() },
		logger:  logger.GetGlobalLogger().WithComponent("notify"),
	}
}

// NewMemoryServiceFromSeed preloads notifications keyed by user id
func NewMemoryServiceFromSeed(seed map[string][]models.NotificationItem) (*MemoryService, error) {
	s := NewMemoryService()
	users := make([]string, 0, len(seed))
	for user := range seed {
		users = append(users, user)
	}
	sort.Strings(users)
	for _, user := range users {
		for _, item := range seed[user] {
			if err := s.Publish(context.Background(), user, item); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// SetLogger replaces the service logger
func (s *MemoryService) SetLogger(log logger.Logger) {
	s.logger = log.WithComponent("notify")
}

// ListNotifications returns the user's notifications, newest first.
// Dismissed items are left out.
func (s *MemoryService) ListNotifications(ctx context.Context, userID string) ([]models.NotificationItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "user", userID, nil)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.NotificationItem, 0, len(s.byUser[userID]))
	for _, id := range s.byUser[userID] {
		if e := s.entries[id]; !e.dismissed {
			out = append(out, e.item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

// MarkRead flags a notification as read. Marking twice is a no-op.
func (s *MemoryService) MarkRead(ctx context.Context, id string) error {
	return s.modify(ctx, id, func(e *entry) { e.item.IsRead = true })
}

// Dismiss hides a notification from later listings
func (s *MemoryService) Dismiss(ctx context.Context, id string) error {
	return s.modify(ctx, id, func(e *entry) { e.dismissed = true })
}

// Publish stores a notification for userID. Unknown types are rejected;
// a missing id or time is filled in.
func (s *MemoryService) Publish(ctx context.Context, userID string, item models.NotificationItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.ValidationError(errors.CodeMissingField, "user", userID, nil)
	}
	if err := item.Validate(); err != nil {
		return err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Time.IsZero() {
		item.Time = s.clock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[item.ID]; exists {
		return errors.ValidationError(errors.CodeInconsistent, "id", item.ID, nil).
			WithSuggestion("notification ids must be unique")
	}
	s.entries[item.ID] = &entry{user: userID, item: item}
	s.byUser[userID] = append(s.byUser[userID], item.ID)

	s.logger.WithFields(logger.Fields{
		"user":  userID,
		"id":    item.ID,
		"type":  item.Type,
		"title": item.Title,
	}).Debug("Notification published")
	return nil
}

// Unread counts the user's unread, undismissed notifications
func (s *MemoryService) Unread(ctx context.Context, userID string) (int, error) {
	items, err := s.ListNotifications(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, item := range items {
		if !item.IsRead {
			n++
		}
	}
	return n, nil
}

func (s *MemoryService) modify(ctx context.Context, id string, fn func(*entry)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.dismissed {
		return errors.NotFound("notification", id)
	}
	fn(e)
	return nil
}
