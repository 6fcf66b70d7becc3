package ingest

import (
	"fmt"
	"strings"
)

// Canonical column names of a bank statement
const (
	ColumnID          = "id"
	ColumnDate        = "date"
	ColumnDescription = "description"
	ColumnAmount      = "amount"
	ColumnReference   = "reference"
	ColumnBalance     = "balance"
)

// ColumnConfig maps statement headers onto canonical columns
type ColumnConfig struct {
	Required  []string          `json:"required"`
	Aliases   map[string]string `json:"aliases,omitempty"`
	Delimiter rune              `json:"delimiter"`
	// MaxRowErrors stops parsing after this many bad rows; 0 means no limit
	MaxRowErrors int `json:"max_row_errors"`
}

// DefaultColumnConfig returns aliases for the export formats banks commonly use
func DefaultColumnConfig() *ColumnConfig {
	return &ColumnConfig{
		Required:     []string{ColumnDate, ColumnAmount},
		Delimiter:    ',',
		MaxRowErrors: 100,
		Aliases: map[string]string{
			"unique_identifier": ColumnID,
			"identifier":        ColumnID,
			"transaction_id":    ColumnID,
			"statement_id":      ColumnID,
			"txn_id":            ColumnID,
			"transaction_date":  ColumnDate,
			"statement_date":    ColumnDate,
			"posting_date":      ColumnDate,
			"value_date":        ColumnDate,
			"narration":         ColumnDescription,
			"details":           ColumnDescription,
			"particulars":       ColumnDescription,
			"payee":             ColumnDescription,
			"amt":               ColumnAmount,
			"value":             ColumnAmount,
			"sum":               ColumnAmount,
			"ref":               ColumnReference,
			"ref_no":            ColumnReference,
			"cheque_no":         ColumnReference,
			"running_balance":   ColumnBalance,
			"closing_balance":   ColumnBalance,
		},
	}
}

// Validate checks the configuration
func (c *ColumnConfig) Validate() error {
	if len(c.Required) == 0 {
		return fmt.Errorf("at least one required column must be configured")
	}
	for _, col := range c.Required {
		if !isCanonical(col) {
			return fmt.Errorf("unknown required column '%s'", col)
		}
	}
	for alias, target := range c.Aliases {
		if !isCanonical(target) {
			return fmt.Errorf("alias '%s' points at unknown column '%s'", alias, target)
		}
	}
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '\r' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	return nil
}

// Canonical resolves a header to its canonical column name
func (c *ColumnConfig) Canonical(header string) string {
	key := strings.ToLower(strings.TrimSpace(header))
	key = strings.NewReplacer(" ", "_", "-", "_", ".", "").Replace(key)
	if target, ok := c.Aliases[key]; ok {
		return target
	}
	return key
}

// headerIndex maps canonical column names to their position in the header row.
// The first occurrence wins.
func (c *ColumnConfig) headerIndex(headers []string) map[string]int {
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		name := c.Canonical(h)
		if _, seen := index[name]; !seen && name != "" {
			index[name] = i
		}
	}
	return index
}

func isCanonical(name string) bool {
	switch name {
	case ColumnID, ColumnDate, ColumnDescription, ColumnAmount, ColumnReference, ColumnBalance:
		return true
	}
	return false
}
