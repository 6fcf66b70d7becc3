// Package filter narrows matched transactions and audit entries for display.
//
// Every function here is pure: inputs are never mutated and the result keeps
// the input order. Dimensions are ANDed together, an empty value set leaves
// its dimension inactive, range bounds are inclusive and the free-text search
// is ANDed with the other dimensions in both views.
package filter

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
)

// TransactionFilter is the query state of the transaction list view
type TransactionFilter struct {
	Status          []models.Status          `json:"status"`
	ConfidenceLevel []models.ConfidenceLevel `json:"confidenceLevel"`
	DateFrom        string                   `json:"dateFrom"`
	DateTo          string                   `json:"dateTo"`
	AmountMin       string                   `json:"amountMin"`
	AmountMax       string                   `json:"amountMax"`
	SearchQuery     string                   `json:"searchQuery"`
}

// AuditFilter is the query state of the audit trail view
type AuditFilter struct {
	Category    []models.AuditCategory `json:"category"`
	Action      []models.AuditAction   `json:"action"`
	Severity    []models.AuditSeverity `json:"severity"`
	ActorType   []models.ActorType     `json:"actorType"`
	DateFrom    string                 `json:"dateFrom"`
	DateTo      string                 `json:"dateTo"`
	SearchQuery string                 `json:"searchQuery"`
}

// IsEmpty reports whether no dimension is active
func (f TransactionFilter) IsEmpty() bool {
	return len(f.Status) == 0 && len(f.ConfidenceLevel) == 0 &&
		strings.TrimSpace(f.DateFrom) == "" && strings.TrimSpace(f.DateTo) == "" &&
		strings.TrimSpace(f.AmountMin) == "" && strings.TrimSpace(f.AmountMax) == "" &&
		strings.TrimSpace(f.SearchQuery) == ""
}

// IsEmpty reports whether no dimension is active
func (f AuditFilter) IsEmpty() bool {
	return len(f.Category) == 0 && len(f.Action) == 0 && len(f.Severity) == 0 && len(f.ActorType) == 0 &&
		strings.TrimSpace(f.DateFrom) == "" && strings.TrimSpace(f.DateTo) == "" &&
		strings.TrimSpace(f.SearchQuery) == ""
}

// Normalize returns a copy of f with malformed bounds cleared. Each cleared
// bound is reported as a validation error so the caller can log it; the
// corrected filter is always usable.
func (f TransactionFilter) Normalize() (TransactionFilter, []*errors.ReconcilerError) {
	var problems []*errors.ReconcilerError
	out := f

	if _, ok, err := parseAmount("amountMin", f.AmountMin); !ok {
		out.AmountMin = ""
		if err != nil {
			problems = append(problems, err)
		}
	}
	if _, ok, err := parseAmount("amountMax", f.AmountMax); !ok {
		out.AmountMax = ""
		if err != nil {
			problems = append(problems, err)
		}
	}
	out.DateFrom, problems = normalizeDate("dateFrom", f.DateFrom, problems)
	out.DateTo, problems = normalizeDate("dateTo", f.DateTo, problems)
	out.SearchQuery = strings.TrimSpace(f.SearchQuery)

	return out, problems
}

// Normalize returns a copy of f with malformed date bounds cleared
func (f AuditFilter) Normalize() (AuditFilter, []*errors.ReconcilerError) {
	var problems []*errors.ReconcilerError
	out := f
	out.DateFrom, problems = normalizeDate("dateFrom", f.DateFrom, problems)
	out.DateTo, problems = normalizeDate("dateTo", f.DateTo, problems)
	out.SearchQuery = strings.TrimSpace(f.SearchQuery)
	return out, problems
}

// ApplyTransactions returns the records that satisfy every active dimension of f
func ApplyTransactions(records []*models.MatchedTransaction, f TransactionFilter) []*models.MatchedTransaction {
	match := f.Predicate()
	result := make([]*models.MatchedTransaction, 0, len(records))
	for _, rec := range records {
		if match(rec) {
			result = append(result, rec)
		}
	}
	return result
}

// ApplyAudit returns the entries that satisfy every active dimension of f
func ApplyAudit(entries []*models.AuditLogEntry, f AuditFilter) []*models.AuditLogEntry {
	match := f.Predicate()
	result := make([]*models.AuditLogEntry, 0, len(entries))
	for _, entry := range entries {
		if match(entry) {
			result = append(result, entry)
		}
	}
	return result
}

// Predicate compiles f into a reusable match function. Bounds are parsed
// once; malformed bounds behave as unset.
func (f TransactionFilter) Predicate() func(*models.MatchedTransaction) bool {
	lower, hasMin, _ := parseAmount("amountMin", f.AmountMin)
	upper, hasMax, _ := parseAmount("amountMax", f.AmountMax)
	dateFrom, _ := validDateBound(f.DateFrom)
	dateTo, _ := validDateBound(f.DateTo)
	query := strings.ToLower(strings.TrimSpace(f.SearchQuery))

	return func(rec *models.MatchedTransaction) bool {
		if rec == nil {
			return false
		}
		if !inSet(f.Status, rec.Status) || !inSet(f.ConfidenceLevel, rec.ConfidenceLevel) {
			return false
		}
		if !inDateRange(rec.BankTransaction.Date, dateFrom, dateTo) {
			return false
		}
		amount := rec.BankTransaction.Amount
		if hasMin && amount.LessThan(lower) {
			return false
		}
		if hasMax && amount.GreaterThan(upper) {
			return false
		}
		return query == "" || containsAny(query, transactionSearchFields(rec)...)
	}
}

// Predicate compiles f into a reusable match function
func (f AuditFilter) Predicate() func(*models.AuditLogEntry) bool {
	dateFrom, _ := validDateBound(f.DateFrom)
	dateTo, _ := validDateBound(f.DateTo)
	query := strings.ToLower(strings.TrimSpace(f.SearchQuery))

	return func(entry *models.AuditLogEntry) bool {
		if entry == nil {
			return false
		}
		if !inSet(f.Category, entry.Category) || !inSet(f.Action, entry.Action) ||
			!inSet(f.Severity, entry.Severity) || !inSet(f.ActorType, entry.ActorType) {
			return false
		}
		if !inDateRange(entry.TimestampKey(), dateFrom, dateTo) {
			return false
		}
		return query == "" || containsAny(query, entry.Actor, entry.Description, entry.Details)
	}
}

func transactionSearchFields(rec *models.MatchedTransaction) []string {
	fields := []string{
		rec.ID,
		rec.BankTransaction.Description,
		rec.BankTransaction.Reference,
	}
	if rec.LedgerTransaction != nil {
		fields = append(fields, rec.LedgerTransaction.Vendor, rec.LedgerTransaction.InvoiceNumber)
	}
	return fields
}

// inSet treats an empty accepted set as "match everything"
func inSet[T comparable](accepted []T, value T) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, v := range accepted {
		if v == value {
			return true
		}
	}
	return false
}

// inDateRange compares ISO strings lexicographically. The value is cut to the
// bound's length so a date-only bound includes every timestamp on that day.
func inDateRange(value, from, to string) bool {
	if from != "" && truncate(value, len(from)) < from {
		return false
	}
	if to != "" && truncate(value, len(to)) > to {
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func containsAny(query string, fields ...string) bool {
	for _, field := range fields {
		if field != "" && strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// parseAmount returns ok=false for an unset or non-numeric bound. err is only
// set for a non-empty bound that failed to parse.
func parseAmount(field, raw string) (decimal.Decimal, bool, *errors.ReconcilerError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false, nil
	}
	d, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return decimal.Zero, false, errors.ValidationError(errors.CodeInvalidAmount, field, raw, err)
	}
	return d, true, nil
}

// validDateBound accepts a YYYY-MM-DD date or an RFC 3339 timestamp
func validDateBound(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if _, err := time.Parse(models.DateLayout, raw); err == nil {
		return raw, true
	}
	if _, err := time.Parse(time.RFC3339, raw); err == nil {
		return raw, true
	}
	return "", false
}

func normalizeDate(field, raw string, problems []*errors.ReconcilerError) (string, []*errors.ReconcilerError) {
	if strings.TrimSpace(raw) == "" {
		return "", problems
	}
	bound, ok := validDateBound(raw)
	if !ok {
		return "", append(problems, errors.ValidationError(errors.CodeInvalidDate, field, raw, nil))
	}
	return bound, problems
}
