package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"reconciliation-workflow/pkg/errors"
)

func sampleRecord() *MatchedTransaction {
	balance := decimal.RequireFromString("2888843.45")
	return &MatchedTransaction{
		ID: "TR-2024-003",
		BankTransaction: BankTransaction{
			ID:          "BNK-003",
			Date:        "2024-01-17",
			Description: "Medical Equipment LLC",
			Amount:      decimal.RequireFromString("8450.00"),
			Reference:   "TRF20240117003",
			Balance:     &balance,
		},
		LedgerTransaction: &LedgerTransaction{
			ID:            "SGE-003",
			Date:          "2024-01-17",
			Vendor:        "Medical Equipment LLC",
			InvoiceNumber: "INV-2024-0178",
			Amount:        decimal.RequireFromString("8500.00"),
			Reference:     "PO-2024-0091",
		},
		Status:          StatusReviewRequired,
		ConfidenceLevel: ConfidenceMedium,
		ConfidenceScore: 75.3,
		Notes:           "Amount discrepancy: $50 difference",
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    Status
		wantErr bool
	}{
		{"Auto-Matched", StatusAutoMatched, false},
		{"auto_matched", StatusAutoMatched, false},
		{"ReviewRequired", StatusReviewRequired, false},
		{" reconciled ", StatusReconciled, false},
		{"Manual Handling", "", true},
		{"subtle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStatus(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				if !errors.HasCode(err, errors.CodeUnrecognizedValue) {
					t.Errorf("expected unrecognized value code, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestEnumsFailClosed(t *testing.T) {
	if _, err := ParseAuditCategory("billing"); err == nil {
		t.Error("expected unknown category to fail")
	}
	if _, err := ParseAuditSeverity("subtle"); err == nil {
		t.Error("expected unknown severity to fail")
	}
	if _, err := ParseActorType("robot"); err == nil {
		t.Error("expected unknown actor type to fail")
	}
	if _, err := ParseNotificationType("alert"); err == nil {
		t.Error("expected unknown notification type to fail")
	}
	if v, err := ParseAuditAction("APPROVE"); err != nil || v != ActionApprove {
		t.Errorf("expected approve, got %s (%v)", v, err)
	}
	if Status("Manual Handling").IsValid() {
		t.Error("Manual Handling must not be a valid status")
	}
}

func TestEnumDecodingValidates(t *testing.T) {
	var entry AuditLogEntry
	err := json.Unmarshal([]byte(`{"id":"A","severity":"subtle"}`), &entry)
	if err == nil {
		t.Fatal("expected JSON decoding to reject unknown severity")
	}

	var rec MatchedTransaction
	doc := "id: TR-1\nstatus: Manual Handling\n"
	if err := yaml.Unmarshal([]byte(doc), &rec); err == nil {
		t.Fatal("expected YAML decoding to reject unknown status")
	}

	doc = "id: TR-1\nstatus: Review Required\nconfidenceLevel: Medium\nconfidenceScore: 75.3\n"
	if err := yaml.Unmarshal([]byte(doc), &rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusReviewRequired {
		t.Errorf("expected Review Required, got %s", rec.Status)
	}
}

func TestConfidenceThresholds_Bucket(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		score   float64
		want    ConfidenceLevel
		wantErr bool
	}{
		{98.5, ConfidenceHigh, false},
		{90, ConfidenceHigh, false},
		{89.99, ConfidenceMedium, false},
		{75.3, ConfidenceMedium, false},
		{60, ConfidenceMedium, false},
		{25.0, ConfidenceLow, false},
		{0, ConfidenceLow, false},
		{100, ConfidenceHigh, false},
		{-1, "", true},
		{100.1, "", true},
	}

	for _, tt := range tests {
		got, err := th.Bucket(tt.score)
		if tt.wantErr {
			if !errors.HasCode(err, errors.CodeOutOfRange) {
				t.Errorf("Bucket(%v) expected out of range, got %v", tt.score, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Bucket(%v) unexpected error: %v", tt.score, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Bucket(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestConfidenceThresholds_Validate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("default thresholds should be valid: %v", err)
	}
	if err := (ConfidenceThresholds{High: 50, Medium: 60}).Validate(); err == nil {
		t.Error("expected inverted thresholds to fail")
	}
	if err := (ConfidenceThresholds{High: 110, Medium: 60}).Validate(); err == nil {
		t.Error("expected high threshold above 100 to fail")
	}
}

func TestMatchedTransaction_Validate(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name     string
		mutate   func(m *MatchedTransaction)
		wantCode errors.ErrorCode
	}{
		{"valid", func(m *MatchedTransaction) {}, ""},
		{"missing id", func(m *MatchedTransaction) { m.ID = " " }, errors.CodeMissingField},
		{"bad bank date", func(m *MatchedTransaction) { m.BankTransaction.Date = "17/01/2024" }, errors.CodeInvalidDate},
		{"unknown status", func(m *MatchedTransaction) { m.Status = "Manual Handling" }, errors.CodeUnrecognizedValue},
		{"level contradicts score", func(m *MatchedTransaction) { m.ConfidenceLevel = ConfidenceHigh }, errors.CodeInconsistent},
		{"score out of range", func(m *MatchedTransaction) { m.ConfidenceScore = 120 }, errors.CodeOutOfRange},
		{"exception without ledger", func(m *MatchedTransaction) {
			m.LedgerTransaction = nil
			m.Status = StatusException
		}, ""},
		{"accepted without ledger", func(m *MatchedTransaction) {
			m.LedgerTransaction = nil
			m.Status = StatusAccepted
		}, errors.CodeInconsistent},
		{"reconciled without ledger", func(m *MatchedTransaction) {
			m.LedgerTransaction = nil
			m.Status = StatusReconciled
		}, errors.CodeInconsistent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mutate(rec)
			err := rec.Validate(th)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.wantCode) {
				t.Errorf("expected code %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestMatchedTransaction_Clone(t *testing.T) {
	now := time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)
	rec := sampleRecord()
	rec.MatchedDate = &now

	c := rec.Clone()
	c.LedgerTransaction.Vendor = "changed"
	*c.BankTransaction.Balance = decimal.Zero
	later := now.Add(time.Hour)
	*c.MatchedDate = later

	if rec.LedgerTransaction.Vendor != "Medical Equipment LLC" {
		t.Error("clone shares ledger snapshot with original")
	}
	if rec.BankTransaction.Balance.IsZero() {
		t.Error("clone shares balance with original")
	}
	if !rec.MatchedDate.Equal(now) {
		t.Error("clone shares matched date with original")
	}
}

func TestMatchedTransaction_Variance(t *testing.T) {
	rec := sampleRecord()
	if !rec.Variance().Equal(decimal.NewFromInt(-50)) {
		t.Errorf("expected -50, got %s", rec.Variance())
	}
	rec.LedgerTransaction = nil
	if !rec.Variance().Equal(rec.BankTransaction.Amount) {
		t.Errorf("expected bank amount without ledger, got %s", rec.Variance())
	}
}

func TestLedgerTransaction_Source(t *testing.T) {
	l := LedgerTransaction{ID: "SGE-1"}
	if l.Source() != "Sage" {
		t.Errorf("expected Sage, got %s", l.Source())
	}
}

func TestAuditLogEntry_Validate(t *testing.T) {
	entry := AuditLogEntry{
		ID:        "AUD-001",
		Timestamp: time.Date(2024, 1, 20, 10, 30, 0, 0, time.UTC),
		Actor:     "Sarah Johnson",
		ActorType: ActorUser,
		Category:  CategoryMatching,
		Action:    ActionApprove,
		Severity:  SeverityInfo,
	}
	if err := entry.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.TimestampKey() != "2024-01-20T10:30:00Z" {
		t.Errorf("unexpected timestamp key %s", entry.TimestampKey())
	}

	entry.Severity = "subtle"
	if !errors.HasCode(entry.Validate(), errors.CodeUnrecognizedValue) {
		t.Error("expected unknown severity to fail validation")
	}
}

func TestSnapshot(t *testing.T) {
	rec := sampleRecord()
	state := Snapshot(rec)
	if state["status"] != "Review Required" {
		t.Errorf("unexpected status %v", state["status"])
	}
	if state["ledgerTransactionId"] != "SGE-003" {
		t.Errorf("unexpected ledger id %v", state["ledgerTransactionId"])
	}
	if _, ok := state["matchedBy"]; ok {
		t.Error("empty matchedBy should be omitted")
	}
	if Snapshot(nil) != nil {
		t.Error("expected nil snapshot for nil record")
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"2024-01-15", "2024-01-15", false},
		{"01/15/2024", "2024-01-15", false},
		{"2024/01/15", "2024-01-15", false},
		{"2024-01-15T10:30:00Z", "2024-01-15", false},
		{"yesterday", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeDate(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeDate(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"8450.00", "8450", false},
		{"$1,250.50", "1250.5", false},
		{"-500", "-500", false},
		{"abc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDecimalFromString(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDecimalFromString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got.String() != tt.want {
			t.Errorf("ParseDecimalFromString(%q) = %s, want %s", tt.input, got.String(), tt.want)
		}
	}
}
