package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
)

const seedPath = "../../testdata/seed.yaml"

func loadTestSeed(t *testing.T) *Seed {
	t.Helper()
	seed, err := LoadSeed(seedPath, models.DefaultThresholds())
	if err != nil {
		t.Fatalf("failed to load seed: %v", err)
	}
	return seed
}

func TestLoadSeed(t *testing.T) {
	seed := loadTestSeed(t)

	if len(seed.Transactions) != 5 {
		t.Fatalf("expected 5 transactions, got %d", len(seed.Transactions))
	}
	tr3 := seed.Transactions[2]
	if tr3.ID != "TR-2024-003" || tr3.ConfidenceLevel != models.ConfidenceMedium || tr3.ConfidenceScore != 75.3 {
		t.Errorf("unexpected TR-2024-003: %s", tr3)
	}
	if !tr3.BankTransaction.Amount.Equal(decimal.NewFromInt(8450)) {
		t.Errorf("unexpected bank amount %s", tr3.BankTransaction.Amount)
	}
	if seed.Transactions[3].LedgerTransaction != nil {
		t.Error("TR-2024-004 should have no ledger candidate")
	}
	if seed.Transactions[4].MatchedDate == nil {
		t.Error("TR-2024-005 should carry its matched date")
	}
	if len(seed.LedgerEntries) != 3 || len(seed.AuditLog) != 5 {
		t.Errorf("unexpected ledger/audit counts %d/%d", len(seed.LedgerEntries), len(seed.AuditLog))
	}
	if len(seed.Notifications["sarah.johnson"]) != 3 {
		t.Errorf("expected 3 notifications, got %d", len(seed.Notifications["sarah.johnson"]))
	}
}

func TestLoadSeed_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadSeed(filepath.Join(dir, "missing.yaml"), models.DefaultThresholds()); !errors.HasCode(err, errors.CodeFileNotFound) {
		t.Errorf("expected file not found, got %v", err)
	}

	tests := []struct {
		name string
		doc  string
		code errors.ErrorCode
	}{
		{
			name: "unknown status fails closed",
			doc:  "transactions:\n  - id: TR-1\n    status: Manual Handling\n",
			code: errors.CodeUnrecognizedValue,
		},
		{
			name: "level inconsistent with score",
			doc: `transactions:
  - id: TR-1
    bankTransaction: {id: B1, date: "2024-01-15", amount: "10"}
    ledgerTransaction: {id: L1, date: "2024-01-15", amount: "10"}
    status: Auto-Matched
    confidenceLevel: High
    confidenceScore: 40
`,
			code: errors.CodeInconsistent,
		},
		{
			name: "accepted without ledger",
			doc: `transactions:
  - id: TR-1
    bankTransaction: {id: B1, date: "2024-01-15", amount: "10"}
    status: Accepted
    confidenceLevel: Low
    confidenceScore: 10
`,
			code: errors.CodeInconsistent,
		},
		{
			name: "unknown audit severity",
			doc:  "auditLog:\n  - id: A1\n    severity: subtle\n",
			code: errors.CodeUnrecognizedValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, uuid.NewString()+".yaml")
			if err := os.WriteFile(path, []byte(tt.doc), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadSeed(path, models.DefaultThresholds())
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
}

func TestMemoryStore_PersistTransition(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStoreFromSeed(loadTestSeed(t))
	if err != nil {
		t.Fatal(err)
	}

	records, _ := store.FetchMatchedTransactions(ctx)
	rec := records[0]
	next := rec.Clone()
	next.Status = models.StatusAccepted
	next.Version = rec.Version + 1

	req := TransitionRequest{ID: rec.ID, ExpectedVersion: rec.Version, ExpectedStatus: rec.Status, Record: next}
	if err := store.PersistTransition(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// replaying the same request is a lost update
	err = store.PersistTransition(ctx, req)
	if !errors.HasCode(err, errors.CodeConcurrentUpdate) {
		t.Errorf("expected concurrent update, got %v", err)
	}

	err = store.PersistTransition(ctx, TransitionRequest{ID: "TR-404", Record: next})
	if !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	reloaded, _ := store.FetchMatchedTransactions(ctx)
	if reloaded[0].Status != models.StatusAccepted || reloaded[0].Version != 1 {
		t.Errorf("unexpected stored record %s", reloaded[0])
	}
}

func TestMemoryStore_FetchReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store, _ := NewMemoryStoreFromSeed(loadTestSeed(t))

	first, _ := store.FetchMatchedTransactions(ctx)
	first[0].Status = models.StatusReconciled
	first[0].IsSelected = true

	second, _ := store.FetchMatchedTransactions(ctx)
	if second[0].Status != models.StatusAutoMatched || second[0].IsSelected {
		t.Error("mutating a fetched record leaked into the store")
	}
}

func TestMemoryStore_SaveMatchesRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := &models.MatchedTransaction{ID: "TR-1", Status: models.StatusException, ConfidenceLevel: models.ConfidenceLow}

	if err := store.SaveMatches(ctx, []*models.MatchedTransaction{rec}); err != nil {
		t.Fatal(err)
	}
	err := store.SaveMatches(ctx, []*models.MatchedTransaction{{ID: "TR-2"}, rec})
	if !errors.HasCode(err, errors.CodeInconsistent) {
		t.Errorf("expected duplicate rejection, got %v", err)
	}
	records, _ := store.FetchMatchedTransactions(ctx)
	if len(records) != 1 {
		t.Errorf("expected rejected batch to store nothing, got %d records", len(records))
	}
}

func TestMemoryStore_AuditLog(t *testing.T) {
	ctx := context.Background()
	store, _ := NewMemoryStoreFromSeed(loadTestSeed(t))

	entry := &models.AuditLogEntry{
		ID:          "AUD-006",
		Timestamp:   time.Date(2024, 1, 21, 8, 0, 0, 0, time.UTC),
		Actor:       "Sarah Johnson",
		ActorType:   models.ActorUser,
		Category:    models.CategoryReconciliation,
		Action:      models.ActionUpdate,
		Severity:    models.SeverityInfo,
		Description: "Reconciled transaction",
	}
	if err := store.AppendAuditEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}

	all, _ := store.FetchAuditLog(ctx, filter.AuditFilter{})
	if len(all) != 6 || all[0].ID != "AUD-006" {
		t.Fatalf("expected newest entry first, got %d entries starting %s", len(all), all[0].ID)
	}

	warnings, _ := store.FetchAuditLog(ctx, filter.AuditFilter{Severity: []models.AuditSeverity{models.SeverityWarning}})
	if len(warnings) != 1 || warnings[0].ID != "AUD-004" {
		t.Errorf("unexpected warnings %v", warnings)
	}

	bad := *entry
	bad.ID = "AUD-007"
	bad.Category = "billing"
	if err := store.AppendAuditEntry(ctx, &bad); !errors.HasCode(err, errors.CodeUnrecognizedValue) {
		t.Errorf("expected invalid entry rejection, got %v", err)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewMemoryStore()
	if _, err := store.FetchMatchedTransactions(ctx); err == nil {
		t.Error("expected canceled context to fail")
	}
}

// TestGormStore runs against a real PostgreSQL when RECONCILER_TEST_DSN is set
func TestGormStore(t *testing.T) {
	dsn := os.Getenv("RECONCILER_TEST_DSN")
	if dsn == "" {
		t.Skip("RECONCILER_TEST_DSN not set")
	}
	ctx := context.Background()

	store, err := OpenPostgres(dsn, false)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	db := store.DB()
	db.Exec("DELETE FROM matched_transactions")
	db.Exec("DELETE FROM audit_log")
	db.Exec("DELETE FROM ledger_entries")

	if err := store.ImportSeed(ctx, loadTestSeed(t)); err != nil {
		t.Fatalf("failed to import seed: %v", err)
	}

	records, err := store.FetchMatchedTransactions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 5 || records[0].ID != "TR-2024-001" {
		t.Fatalf("unexpected records %d", len(records))
	}
	if records[3].LedgerTransaction != nil {
		t.Error("expected null ledger snapshot to round-trip")
	}

	rec := records[4]
	next := rec.Clone()
	next.Status = models.StatusReconciled
	now := time.Now().UTC().Truncate(time.Second)
	next.ReconciledAt = &now
	next.Version = rec.Version + 1

	req := TransitionRequest{ID: rec.ID, ExpectedVersion: rec.Version, ExpectedStatus: rec.Status, Record: next}
	if err := store.PersistTransition(ctx, req); err != nil {
		t.Fatalf("persist failed: %v", err)
	}
	if err := store.PersistTransition(ctx, req); !errors.HasCode(err, errors.CodeConcurrentUpdate) {
		t.Errorf("expected concurrent update, got %v", err)
	}

	entries, err := store.FetchAuditLog(ctx, filter.AuditFilter{SearchQuery: "TR-2024-005"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "AUD-001" {
		t.Errorf("unexpected audit search result %v", entries)
	}

	ledger, err := store.FetchLedgerEntries(ctx)
	if err != nil || len(ledger) != 3 {
		t.Errorf("expected 3 ledger entries, got %d (%v)", len(ledger), err)
	}
}
