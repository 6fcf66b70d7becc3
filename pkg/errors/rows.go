package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RowContext locates a problem inside an uploaded statement.
type RowContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// RowError is a recoverable problem with one statement row. The row is
// skipped and ingestion continues.
type RowError struct {
	*ReconcilerError
	Row      *RowContext `json:"row"`
	Examples []string    `json:"examples,omitempty"`
}

// Error implements the error interface with the row location appended
func (e *RowError) Error() string {
	if e.Row == nil {
		return e.ReconcilerError.Error()
	}
	location := fmt.Sprintf("at %s", filepath.Base(e.Row.File))
	if e.Row.Line > 0 {
		location += fmt.Sprintf(":%d", e.Row.Line)
	}
	if e.Row.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Row.Column)
	}
	return e.ReconcilerError.Error() + " " + location
}

// NewRowError creates a row error in the parse category
func NewRowError(code ErrorCode, row *RowContext, message string, cause error) *RowError {
	base := build(cause, CategoryParse, code, message)
	if row != nil {
		base.WithContext("file", row.File).
			WithContext("line", row.Line).
			WithContext("column", row.Column).
			WithContext("value", row.Value)
	}
	return &RowError{ReconcilerError: base, Row: row}
}

// WithExamples adds example values to help fix the row
func (e *RowError) WithExamples(examples ...string) *RowError {
	e.Examples = examples
	return e
}

// InvalidAmountRow reports an amount cell that is not a decimal number
func InvalidAmountRow(file string, line int, column, value string) *RowError {
	row := &RowContext{File: file, Line: line, Column: column, Value: value, Expected: "decimal number"}
	err := NewRowError(CodeInvalidAmount, row, "invalid amount format", nil).
		WithExamples("12.34", "1250.50", "-500.00")
	err.WithSuggestion("remove currency symbols and use decimal format")
	return err
}

// InvalidDateRow reports a date cell that is not an ISO calendar date
func InvalidDateRow(file string, line int, column, value string) *RowError {
	row := &RowContext{File: file, Line: line, Column: column, Value: value, Expected: "date in YYYY-MM-DD format"}
	err := NewRowError(CodeInvalidDate, row, "invalid date format", nil).
		WithExamples("2024-01-15", "2024-12-31")
	err.WithSuggestion("use YYYY-MM-DD dates")
	return err
}

// EmptyValueRow reports a required cell left empty
func EmptyValueRow(file string, line int, column string) *RowError {
	row := &RowContext{File: file, Line: line, Column: column}
	err := NewRowError(CodeMissingField, row, fmt.Sprintf("required column '%s' is empty", column), nil)
	err.WithSuggestion("provide a value for every required column")
	return err
}

// RowErrorCollector gathers row errors up to a limit
type RowErrorCollector struct {
	errors    []*RowError
	maxErrors int
}

// NewRowErrorCollector creates a collector; maxErrors <= 0 means unlimited.
func NewRowErrorCollector(maxErrors int) *RowErrorCollector {
	return &RowErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether processing may continue
func (c *RowErrorCollector) Add(err *RowError) bool {
	if err == nil {
		return true
	}
	c.errors = append(c.errors, err)
	return c.maxErrors <= 0 || len(c.errors) < c.maxErrors
}

// HasErrors returns true if any errors have been collected
func (c *RowErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all collected errors
func (c *RowErrorCollector) Errors() []*RowError {
	return c.errors
}

// Summary returns an error summary for all collected errors
func (c *RowErrorCollector) Summary() *ErrorSummary {
	result := make([]*ReconcilerError, len(c.errors))
	for i, err := range c.errors {
		result[i] = err.ReconcilerError
	}
	return NewErrorSummary(result)
}

// Messages renders up to max errors for logs and job status output.
func (c *RowErrorCollector) Messages(max int) []string {
	var lines []string
	for i, err := range c.errors {
		if max > 0 && i >= max {
			lines = append(lines, fmt.Sprintf("... and %d more", len(c.errors)-max))
			break
		}
		lines = append(lines, err.Error())
	}
	return lines
}

// FindMissingColumns returns the expected columns absent from actual, ignoring case.
func FindMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool)
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}
	return missing
}
