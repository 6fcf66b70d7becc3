package ledger

import (
	"context"
	"sync"

	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
)

// MemoryStore keeps everything in process. It backs demo mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.MatchedTransaction
	order   []string
	audit   []*models.AuditLogEntry
	ledger  []models.LedgerTransaction
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.MatchedTransaction)}
}

// NewMemoryStoreFromSeed creates a store preloaded with seed data
func NewMemoryStoreFromSeed(seed *Seed) (*MemoryStore, error) {
	s := NewMemoryStore()
	if seed == nil {
		return s, nil
	}
	ctx := context.Background()
	if err := s.SaveMatches(ctx, seed.Transactions); err != nil {
		return nil, err
	}
	for _, entry := range seed.AuditLog {
		if err := s.AppendAuditEntry(ctx, entry); err != nil {
			return nil, err
		}
	}
	s.ledger = append(s.ledger, seed.LedgerEntries...)
	return s, nil
}

func (s *MemoryStore) FetchMatchedTransactions(ctx context.Context) ([]*models.MatchedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.MatchedTransaction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

// PersistTransition replaces a record if its version and status still match
func (s *MemoryStore) PersistTransition(ctx context.Context, req TransitionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if req.Record == nil {
		return errors.ValidationError(errors.CodeMissingField, "record", nil, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[req.ID]
	if !ok {
		return errors.NotFound("transaction", req.ID)
	}
	if current.Version != req.ExpectedVersion || current.Status != req.ExpectedStatus {
		return errors.ConcurrentUpdate(req.ID, req.ExpectedVersion, current.Version).
			WithContext("current_status", current.Status)
	}

	next := req.Record.Clone()
	next.IsSelected = false
	s.records[req.ID] = next
	return nil
}

func (s *MemoryStore) FetchAuditLog(ctx context.Context, f filter.AuditFilter) ([]*models.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	entries := make([]*models.AuditLogEntry, len(s.audit))
	copy(entries, s.audit)
	s.mu.RUnlock()

	newestFirst(entries)
	return filter.ApplyAudit(entries, f), nil
}

func (s *MemoryStore) AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry == nil {
		return errors.ValidationError(errors.CodeMissingField, "entry", nil, nil)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	stored := *entry
	s.mu.Lock()
	s.audit = append(s.audit, &stored)
	s.mu.Unlock()
	return nil
}

// SaveMatches inserts new records. Ids already present are rejected and
// nothing from the call is stored.
func (s *MemoryStore) SaveMatches(ctx context.Context, records []*models.MatchedTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec == nil {
			return errors.ValidationError(errors.CodeMissingField, "record", nil, nil)
		}
		if _, exists := s.records[rec.ID]; exists || seen[rec.ID] {
			return errors.ValidationError(errors.CodeInconsistent, "id", rec.ID, nil).
				WithSuggestion("matched transaction ids must be unique")
		}
		seen[rec.ID] = true
	}

	for _, rec := range records {
		c := rec.Clone()
		c.IsSelected = false
		s.records[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	return nil
}

func (s *MemoryStore) FetchLedgerEntries(ctx context.Context) ([]models.LedgerTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LedgerTransaction, len(s.ledger))
	copy(out, s.ledger)
	return out, nil
}

// AddLedgerEntries makes entries available as manual-match candidates
func (s *MemoryStore) AddLedgerEntries(entries ...models.LedgerTransaction) {
	s.mu.Lock()
	s.ledger = append(s.ledger, entries...)
	s.mu.Unlock()
}
