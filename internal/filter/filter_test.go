package filter

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
)

func record(id, date, amount, description string, status models.Status, level models.ConfidenceLevel, ledger *models.LedgerTransaction) *models.MatchedTransaction {
	return &models.MatchedTransaction{
		ID: id,
		BankTransaction: models.BankTransaction{
			ID:          "BNK-" + id,
			Date:        date,
			Description: description,
			Amount:      decimal.RequireFromString(amount),
			Reference:   "REF-" + id,
		},
		LedgerTransaction: ledger,
		Status:            status,
		ConfidenceLevel:   level,
	}
}

func sampleRecords() []*models.MatchedTransaction {
	return []*models.MatchedTransaction{
		record("TR-2024-001", "2024-01-15", "15840.00", "ACME Medical Supplies", models.StatusAutoMatched, models.ConfidenceHigh,
			&models.LedgerTransaction{ID: "SGE-001", Vendor: "ACME Medical Supplies", InvoiceNumber: "INV-2024-0156"}),
		record("TR-2024-002", "2024-01-16", "50000.00", "Global Health Donors", models.StatusAutoMatched, models.ConfidenceHigh,
			&models.LedgerTransaction{ID: "SGE-002", Vendor: "Global Health Donors", InvoiceNumber: "DON-2024-0012"}),
		record("TR-2024-003", "2024-01-17", "8450.00", "Medical Equipment LLC", models.StatusReviewRequired, models.ConfidenceMedium,
			&models.LedgerTransaction{ID: "SGE-003", Vendor: "Medical Equipment LLC", InvoiceNumber: "INV-2024-0178"}),
		record("TR-2024-004", "2024-01-18", "2340.00", "UNKNOWN VENDOR", models.StatusException, models.ConfidenceLow, nil),
		record("TR-2024-005", "2024-01-19", "23500.00", "Pharmaceutical Supplies Inc", models.StatusAccepted, models.ConfidenceHigh,
			&models.LedgerTransaction{ID: "SGE-005", Vendor: "Pharmaceutical Supplies Inc", InvoiceNumber: "INV-2024-0201"}),
	}
}

func ids(records []*models.MatchedTransaction) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestApplyTransactions_EmptyFilterIsIdentity(t *testing.T) {
	records := sampleRecords()
	got := ApplyTransactions(records, TransactionFilter{})
	if !reflect.DeepEqual(ids(got), ids(records)) {
		t.Errorf("expected identity, got %v", ids(got))
	}
	if !(TransactionFilter{}).IsEmpty() {
		t.Error("zero filter should be empty")
	}
}

func TestApplyTransactions(t *testing.T) {
	tests := []struct {
		name   string
		filter TransactionFilter
		want   []string
	}{
		{
			name:   "status set",
			filter: TransactionFilter{Status: []models.Status{models.StatusAutoMatched, models.StatusException}},
			want:   []string{"TR-2024-001", "TR-2024-002", "TR-2024-004"},
		},
		{
			name:   "confidence set",
			filter: TransactionFilter{ConfidenceLevel: []models.ConfidenceLevel{models.ConfidenceMedium}},
			want:   []string{"TR-2024-003"},
		},
		{
			name:   "inclusive date range",
			filter: TransactionFilter{DateFrom: "2024-01-16", DateTo: "2024-01-18"},
			want:   []string{"TR-2024-002", "TR-2024-003", "TR-2024-004"},
		},
		{
			name:   "inclusive amount range",
			filter: TransactionFilter{AmountMin: "8450", AmountMax: "23500.00"},
			want:   []string{"TR-2024-001", "TR-2024-003", "TR-2024-005"},
		},
		{
			name:   "non-numeric bound treated as unset",
			filter: TransactionFilter{AmountMin: "abc", AmountMax: "10000"},
			want:   []string{"TR-2024-003", "TR-2024-004"},
		},
		{
			name:   "search is case-insensitive",
			filter: TransactionFilter{SearchQuery: "medical"},
			want:   []string{"TR-2024-001", "TR-2024-003"},
		},
		{
			name:   "search matches invoice number",
			filter: TransactionFilter{SearchQuery: "inv-2024-0201"},
			want:   []string{"TR-2024-005"},
		},
		{
			name:   "search matches record id",
			filter: TransactionFilter{SearchQuery: "2024-004"},
			want:   []string{"TR-2024-004"},
		},
		{
			name: "search is ANDed with status",
			filter: TransactionFilter{
				Status:      []models.Status{models.StatusReviewRequired},
				SearchQuery: "medical",
			},
			want: []string{"TR-2024-003"},
		},
		{
			name: "all dimensions",
			filter: TransactionFilter{
				Status:          []models.Status{models.StatusAutoMatched},
				ConfidenceLevel: []models.ConfidenceLevel{models.ConfidenceHigh},
				DateFrom:        "2024-01-16",
				AmountMin:       "1000",
				SearchQuery:     "donors",
			},
			want: []string{"TR-2024-002"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(ApplyTransactions(sampleRecords(), tt.filter))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyTransactions_Idempotent(t *testing.T) {
	f := TransactionFilter{
		Status:      []models.Status{models.StatusAutoMatched, models.StatusReviewRequired},
		SearchQuery: "med",
	}
	once := ApplyTransactions(sampleRecords(), f)
	twice := ApplyTransactions(once, f)
	if !reflect.DeepEqual(ids(once), ids(twice)) {
		t.Errorf("filter not idempotent: %v vs %v", ids(once), ids(twice))
	}
}

func TestApplyTransactions_DoesNotMutate(t *testing.T) {
	records := sampleRecords()
	before := ids(records)
	_ = ApplyTransactions(records, TransactionFilter{Status: []models.Status{models.StatusException}})
	if !reflect.DeepEqual(before, ids(records)) {
		t.Error("input slice was reordered or changed")
	}
	if records[0].Status != models.StatusAutoMatched {
		t.Error("input record was mutated")
	}
}

func TestTransactionFilter_Normalize(t *testing.T) {
	f := TransactionFilter{AmountMin: "12x", AmountMax: " 500 ", DateFrom: "15/01/2024", DateTo: "2024-01-31", SearchQuery: "  acme "}
	got, problems := f.Normalize()

	if got.AmountMin != "" {
		t.Errorf("expected malformed amountMin cleared, got %q", got.AmountMin)
	}
	if got.AmountMax != " 500 " {
		t.Errorf("expected valid amountMax kept, got %q", got.AmountMax)
	}
	if got.DateFrom != "" || got.DateTo != "2024-01-31" {
		t.Errorf("unexpected dates %q %q", got.DateFrom, got.DateTo)
	}
	if got.SearchQuery != "acme" {
		t.Errorf("expected trimmed query, got %q", got.SearchQuery)
	}
	if len(problems) != 2 {
		t.Fatalf("expected 2 problems, got %d", len(problems))
	}
	if problems[0].Code != errors.CodeInvalidAmount || problems[1].Code != errors.CodeInvalidDate {
		t.Errorf("unexpected codes %s %s", problems[0].Code, problems[1].Code)
	}
}

func sampleAudit() []*models.AuditLogEntry {
	at := func(s string) time.Time {
		ts, _ := time.Parse(time.RFC3339, s)
		return ts
	}
	return []*models.AuditLogEntry{
		{ID: "AUD-001", Timestamp: at("2024-01-20T10:30:00Z"), Actor: "Sarah Johnson", ActorType: models.ActorUser,
			Category: models.CategoryMatching, Action: models.ActionApprove, Severity: models.SeverityInfo,
			Description: "Approved transaction match", Details: "Transaction TR-2024-005 approved"},
		{ID: "AUD-002", Timestamp: at("2024-01-20T09:15:00Z"), Actor: "AI Matching Engine", ActorType: models.ActorAI,
			Category: models.CategoryMatching, Action: models.ActionCreate, Severity: models.SeverityInfo,
			Description: "Auto-matched transactions", Details: "Processed 50 transactions with 95% confidence"},
		{ID: "AUD-003", Timestamp: at("2024-01-19T16:45:00Z"), Actor: "System", ActorType: models.ActorSystem,
			Category: models.CategoryUpload, Action: models.ActionCreate, Severity: models.SeverityInfo,
			Description: "Bank statement uploaded", Details: "January 2024 statement - 150 transactions"},
		{ID: "AUD-004", Timestamp: at("2024-01-19T14:30:00Z"), Actor: "Sarah Johnson", ActorType: models.ActorUser,
			Category: models.CategoryMatching, Action: models.ActionReject, Severity: models.SeverityWarning,
			Description: "Rejected transaction match", Details: "Transaction TR-2024-089 rejected due to amount mismatch"},
		{ID: "AUD-005", Timestamp: at("2024-01-18T11:20:00Z"), Actor: "John Doe", ActorType: models.ActorUser,
			Category: models.CategoryConfig, Action: models.ActionUpdate, Severity: models.SeverityInfo,
			Description: "Updated matching rules", Details: "Changed confidence threshold from 85% to 90%"},
	}
}

func auditIDs(entries []*models.AuditLogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestApplyAudit(t *testing.T) {
	tests := []struct {
		name   string
		filter AuditFilter
		want   []string
	}{
		{"empty is identity", AuditFilter{}, []string{"AUD-001", "AUD-002", "AUD-003", "AUD-004", "AUD-005"}},
		{"category", AuditFilter{Category: []models.AuditCategory{models.CategoryMatching}}, []string{"AUD-001", "AUD-002", "AUD-004"}},
		{"severity", AuditFilter{Severity: []models.AuditSeverity{models.SeverityWarning}}, []string{"AUD-004"}},
		{"actor type", AuditFilter{ActorType: []models.ActorType{models.ActorAI, models.ActorSystem}}, []string{"AUD-002", "AUD-003"}},
		{"action", AuditFilter{Action: []models.AuditAction{models.ActionCreate}}, []string{"AUD-002", "AUD-003"}},
		{"date-only bounds include the whole day", AuditFilter{DateFrom: "2024-01-19", DateTo: "2024-01-19"}, []string{"AUD-003", "AUD-004"}},
		{"search over details", AuditFilter{SearchQuery: "tr-2024-089"}, []string{"AUD-004"}},
		{
			name:   "search is ANDed with category",
			filter: AuditFilter{Category: []models.AuditCategory{models.CategoryConfig}, SearchQuery: "sarah"},
			want:   []string{},
		},
		{
			name:   "search and actor type",
			filter: AuditFilter{ActorType: []models.ActorType{models.ActorUser}, SearchQuery: "transaction"},
			want:   []string{"AUD-001", "AUD-004"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := auditIDs(ApplyAudit(sampleAudit(), tt.filter))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryBuild(t *testing.T) {
	f, err := TransactionQuery{
		Status:     []string{"Auto-Matched,review required", "Exception"},
		Confidence: []string{"high"},
		AmountMin:  "10",
	}.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []models.Status{models.StatusAutoMatched, models.StatusReviewRequired, models.StatusException}
	if !reflect.DeepEqual(f.Status, want) {
		t.Errorf("got %v, want %v", f.Status, want)
	}
	if len(f.ConfidenceLevel) != 1 || f.ConfidenceLevel[0] != models.ConfidenceHigh {
		t.Errorf("unexpected confidence %v", f.ConfidenceLevel)
	}

	if _, err := (TransactionQuery{Status: []string{"Manual Handling"}}).Build(); !errors.HasCode(err, errors.CodeUnrecognizedValue) {
		t.Errorf("expected unknown status to fail, got %v", err)
	}

	af, err := AuditQuery{Severity: []string{"warning"}, ActorType: []string{"ai"}}.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if af.Severity[0] != models.SeverityWarning || af.ActorType[0] != models.ActorAI {
		t.Errorf("unexpected audit filter %+v", af)
	}
	if _, err := (AuditQuery{Category: []string{"billing"}}).Build(); err == nil {
		t.Error("expected unknown category to fail")
	}
}
