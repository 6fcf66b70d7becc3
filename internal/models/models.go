package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-workflow/pkg/errors"
)

// DateLayout is the calendar date format used for bank and ledger dates
const DateLayout = "2006-01-02"

// LedgerSource names the ledger system every LedgerTransaction comes from
const LedgerSource = "Sage"

// BankTransaction is one line of an uploaded bank statement. It is never
// mutated after ingestion.
type BankTransaction struct {
	ID          string           `json:"id" yaml:"id"`
	Date        string           `json:"date" yaml:"date"`
	Description string           `json:"description" yaml:"description"`
	Amount      decimal.Decimal  `json:"amount" yaml:"amount"`
	Reference   string           `json:"reference" yaml:"reference"`
	Balance     *decimal.Decimal `json:"balance,omitempty" yaml:"balance,omitempty"`
}

// Validate performs basic validation on the BankTransaction
func (b *BankTransaction) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "bankTransaction.id", b.ID, nil)
	}
	if err := ValidateDate("bankTransaction.date", b.Date); err != nil {
		return err
	}
	return nil
}

// String returns a string representation of the BankTransaction
func (b *BankTransaction) String() string {
	return fmt.Sprintf("BankTransaction{ID: %s, Amount: %s, Date: %s}", b.ID, b.Amount.String(), b.Date)
}

// LedgerTransaction is an invoice or payment entry synced from the ledger.
type LedgerTransaction struct {
	ID            string          `json:"id" yaml:"id"`
	Date          string          `json:"date" yaml:"date"`
	Vendor        string          `json:"vendor" yaml:"vendor"`
	InvoiceNumber string          `json:"invoiceNumber" yaml:"invoiceNumber"`
	Amount        decimal.Decimal `json:"amount" yaml:"amount"`
	Reference     string          `json:"reference" yaml:"reference"`
	Type          string          `json:"type,omitempty" yaml:"type,omitempty"`
}

// Source reports the ledger system the entry was synced from
func (l *LedgerTransaction) Source() string {
	return LedgerSource
}

// Validate performs basic validation on the LedgerTransaction
func (l *LedgerTransaction) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "ledgerTransaction.id", l.ID, nil)
	}
	return ValidateDate("ledgerTransaction.date", l.Date)
}

// MatchedTransaction pairs a bank line with an optional ledger candidate and
// carries the review lifecycle. Bank and ledger snapshots are owned copies.
type MatchedTransaction struct {
	ID                string             `json:"id" yaml:"id"`
	BankTransaction   BankTransaction    `json:"bankTransaction" yaml:"bankTransaction"`
	LedgerTransaction *LedgerTransaction `json:"ledgerTransaction" yaml:"ledgerTransaction"`
	Status            Status             `json:"status" yaml:"status"`
	ConfidenceLevel   ConfidenceLevel    `json:"confidenceLevel" yaml:"confidenceLevel"`
	ConfidenceScore   float64            `json:"confidenceScore" yaml:"confidenceScore"`
	Notes             string             `json:"notes,omitempty" yaml:"notes,omitempty"`
	MatchedBy         string             `json:"matchedBy,omitempty" yaml:"matchedBy,omitempty"`
	MatchedDate       *time.Time         `json:"matchedDate,omitempty" yaml:"matchedDate,omitempty"`
	ReconciledAt      *time.Time         `json:"reconciledAt,omitempty" yaml:"reconciledAt,omitempty"`
	Version           int64              `json:"version" yaml:"version"`
	IsSelected        bool               `json:"isSelected" yaml:"-"`
}

// HasLedger reports whether a ledger candidate is attached
func (m *MatchedTransaction) HasLedger() bool {
	return m.LedgerTransaction != nil
}

// Clone returns a deep copy so callers can compute a next state without
// touching the original.
func (m *MatchedTransaction) Clone() *MatchedTransaction {
	if m == nil {
		return nil
	}
	c := *m
	if m.BankTransaction.Balance != nil {
		balance := *m.BankTransaction.Balance
		c.BankTransaction.Balance = &balance
	}
	if m.LedgerTransaction != nil {
		ledger := *m.LedgerTransaction
		c.LedgerTransaction = &ledger
	}
	if m.MatchedDate != nil {
		t := *m.MatchedDate
		c.MatchedDate = &t
	}
	if m.ReconciledAt != nil {
		t := *m.ReconciledAt
		c.ReconciledAt = &t
	}
	return &c
}

// Variance returns bank amount minus ledger amount, or the bank amount when
// there is no candidate.
func (m *MatchedTransaction) Variance() decimal.Decimal {
	if m.LedgerTransaction == nil {
		return m.BankTransaction.Amount
	}
	return m.BankTransaction.Amount.Sub(m.LedgerTransaction.Amount)
}

// Validate checks the record invariants: known enums, a confidence level
// consistent with the score, and a ledger candidate wherever the status
// implies one.
func (m *MatchedTransaction) Validate(thresholds ConfidenceThresholds) error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id", m.ID, nil)
	}
	if err := m.BankTransaction.Validate(); err != nil {
		return err
	}
	if m.LedgerTransaction != nil {
		if err := m.LedgerTransaction.Validate(); err != nil {
			return err
		}
	}
	if !m.Status.IsValid() {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "status", m.Status, nil)
	}
	if !m.ConfidenceLevel.IsValid() {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "confidenceLevel", m.ConfidenceLevel, nil)
	}

	expected, err := thresholds.Bucket(m.ConfidenceScore)
	if err != nil {
		return err
	}
	if expected != m.ConfidenceLevel {
		return errors.ValidationError(errors.CodeInconsistent, "confidenceLevel", m.ConfidenceLevel, nil).
			WithContext("confidence_score", m.ConfidenceScore).
			WithContext("expected_level", expected)
	}

	if m.LedgerTransaction == nil && !AllowsMissingLedger(m.Status) {
		return errors.ValidationError(errors.CodeInconsistent, "ledgerTransaction", nil, nil).
			WithContext("status", m.Status).
			WithSuggestion("attach a ledger candidate with a manual match first")
	}
	return nil
}

// AllowsMissingLedger reports whether a record in status s may have no
// ledger candidate.
func AllowsMissingLedger(s Status) bool {
	switch s {
	case StatusException, StatusReviewRequired, StatusRematched:
		return true
	default:
		return false
	}
}

// String returns a string representation of the MatchedTransaction
func (m *MatchedTransaction) String() string {
	ledgerID := "none"
	if m.LedgerTransaction != nil {
		ledgerID = m.LedgerTransaction.ID
	}
	return fmt.Sprintf("MatchedTransaction{ID: %s, Bank: %s, Ledger: %s, Status: %s, Confidence: %s/%.1f, Version: %d}",
		m.ID, m.BankTransaction.ID, ledgerID, m.Status, m.ConfidenceLevel, m.ConfidenceScore, m.Version)
}

// ConfidenceThresholds buckets a 0-100 score into a ConfidenceLevel.
// Scores >= High are High, scores >= Medium are Medium, the rest are Low.
type ConfidenceThresholds struct {
	High   float64 `json:"high" yaml:"high" mapstructure:"high_threshold"`
	Medium float64 `json:"medium" yaml:"medium" mapstructure:"medium_threshold"`
}

// DefaultThresholds returns the thresholds the matcher publishes
func DefaultThresholds() ConfidenceThresholds {
	return ConfidenceThresholds{High: 90, Medium: 60}
}

// Validate checks that 0 <= Medium < High <= 100
func (t ConfidenceThresholds) Validate() error {
	if t.Medium < 0 || t.High > 100 || t.Medium >= t.High {
		return errors.ValidationError(errors.CodeOutOfRange, "thresholds",
			fmt.Sprintf("high=%.1f medium=%.1f", t.High, t.Medium), nil)
	}
	return nil
}

// Bucket classifies score. Scores outside [0,100] are rejected.
func (t ConfidenceThresholds) Bucket(score float64) (ConfidenceLevel, error) {
	if score < 0 || score > 100 {
		return "", errors.ValidationError(errors.CodeOutOfRange, "confidenceScore", score, nil)
	}
	switch {
	case score >= t.High:
		return ConfidenceHigh, nil
	case score >= t.Medium:
		return ConfidenceMedium, nil
	default:
		return ConfidenceLow, nil
	}
}

// ValidateDate checks that value is a YYYY-MM-DD calendar date
func ValidateDate(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.ValidationError(errors.CodeMissingField, field, value, nil)
	}
	if _, err := time.Parse(DateLayout, value); err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, field, value, err)
	}
	return nil
}

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// Remove common currency symbols and thousand separators
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// NormalizeDate converts the date layouts banks commonly export into
// YYYY-MM-DD.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("date string cannot be empty")
	}

	formats := []string{
		DateLayout,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006/01/02",
		"01/02/2006",
		"Jan 2, 2006",
		"January 2, 2006",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.Format(DateLayout), nil
		} else {
			lastErr = err
		}
	}

	return "", fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}
