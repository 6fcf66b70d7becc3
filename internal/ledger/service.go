// Package ledger is the persistence collaborator for matched transactions,
// ledger entries and the audit trail.
package ledger

import (
	"context"
	"sort"

	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/models"
)

// TransitionRequest asks the store to replace a record, but only if it is
// still at ExpectedVersion and ExpectedStatus.
type TransitionRequest struct {
	ID              string
	ExpectedVersion int64
	ExpectedStatus  models.Status
	Record          *models.MatchedTransaction
}

// Service is the ledger/persistence contract used by the workflow
type Service interface {
	FetchMatchedTransactions(ctx context.Context) ([]*models.MatchedTransaction, error)
	PersistTransition(ctx context.Context, req TransitionRequest) error
	FetchAuditLog(ctx context.Context, f filter.AuditFilter) ([]*models.AuditLogEntry, error)
	AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error
	SaveMatches(ctx context.Context, records []*models.MatchedTransaction) error
	FetchLedgerEntries(ctx context.Context) ([]models.LedgerTransaction, error)
}

// newestFirst orders audit entries by descending timestamp, keeping append
// order for ties.
func newestFirst(entries []*models.AuditLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}
