// Package reporter exports a filtered view of the review workspace.
//
// A Report bundles the records that passed a TransactionFilter with the
// dashboard statistics computed over those same records. The generator
// renders it in one of three formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per record for spreadsheet applications
//
// Example usage:
//
//	report := reporter.NewReport(records, f, time.Now())
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = generator.GenerateReport(report, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ContentType is the HTTP media type of the format
func (f OutputFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Report is one exported view
type Report struct {
	GeneratedAt  time.Time                    `json:"generatedAt"`
	Filter       filter.TransactionFilter     `json:"filter"`
	Summary      *reconciler.DashboardStats   `json:"summary"`
	Transactions []*models.MatchedTransaction `json:"transactions"`
}

// NewReport snapshots records and computes their statistics
func NewReport(records []*models.MatchedTransaction, f filter.TransactionFilter, generatedAt time.Time) *Report {
	owned := make([]*models.MatchedTransaction, len(records))
	for i, rec := range records {
		owned[i] = rec.Clone()
	}
	return &Report{
		GeneratedAt:  generatedAt.UTC(),
		Filter:       f,
		Summary:      reconciler.Summarize(owned),
		Transactions: owned,
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeTransactions    bool `json:"include_transactions"`
	IncludeStatusBreakdown bool `json:"include_status_breakdown"`

	// Console formatting options
	TableMaxWidth  int `json:"table_max_width"`
	MaxConsoleRows int `json:"max_console_rows"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	SortByAmount bool `json:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeTransactions:    true,
		IncludeStatusBreakdown: true,
		TableMaxWidth:          120,
		MaxConsoleRows:         50,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
		SortByAmount:           false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxConsoleRows < 0 {
		return fmt.Errorf("max console rows cannot be negative, got %d", c.MaxConsoleRows)
	}

	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' || c.CSVDelimiter == '\r' {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}

	return nil
}

// ReportGenerator renders reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport writes the report to writer
func (rg *ReportGenerator) GenerateReport(report *Report, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *Report, writer io.Writer) error {
	out := &errWriter{w: writer}

	out.printf("RECONCILIATION REPORT\n")
	out.printf("Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	if !report.Filter.IsEmpty() {
		out.printf("Filter: %s\n", describeFilter(report.Filter))
	}
	out.printf("\n")

	summary := report.Summary
	if summary == nil {
		summary = reconciler.Summarize(report.Transactions)
	}

	out.printf("=== SUMMARY ===\n")
	rg.printSummaryTable(summary, out)
	out.printf("\n")

	out.printf("=== FINANCIAL SUMMARY ===\n")
	rg.printFinancialSummary(summary, out)
	out.printf("\n")

	if rg.config.IncludeStatusBreakdown {
		out.printf("=== STATUS BREAKDOWN ===\n")
		rg.printStatusBreakdown(summary, out)
		out.printf("\n")
	}

	if rg.config.IncludeTransactions && len(report.Transactions) > 0 {
		out.printf("=== TRANSACTIONS ===\n")
		rg.printTransactionList(rg.ordered(report.Transactions), out)
	}

	return out.err
}

func (rg *ReportGenerator) generateJSONReport(report *Report, writer io.Writer) error {
	output := map[string]interface{}{
		"generatedAt": report.GeneratedAt,
		"summary":     report.Summary,
	}
	if !report.Filter.IsEmpty() {
		output["filter"] = report.Filter
	}
	if rg.config.IncludeTransactions {
		output["transactions"] = rg.ordered(report.Transactions)
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(output)
}

// csvHeaders is the column layout of the CSV export
var csvHeaders = []string{
	"ID",
	"Bank_ID",
	"Date",
	"Description",
	"Amount",
	"Reference",
	"Ledger_ID",
	"Vendor",
	"Invoice",
	"Ledger_Amount",
	"Variance",
	"Status",
	"Confidence_Level",
	"Confidence_Score",
	"Matched_By",
	"Notes",
}

func (rg *ReportGenerator) generateCSVReport(report *Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, rec := range rg.ordered(report.Transactions) {
		var ledgerID, vendor, invoice, ledgerAmount string
		if rec.HasLedger() {
			ledgerID = rec.LedgerTransaction.ID
			vendor = rec.LedgerTransaction.Vendor
			invoice = rec.LedgerTransaction.InvoiceNumber
			ledgerAmount = rec.LedgerTransaction.Amount.StringFixed(2)
		}
		row := []string{
			rec.ID,
			rec.BankTransaction.ID,
			rec.BankTransaction.Date,
			rec.BankTransaction.Description,
			rec.BankTransaction.Amount.StringFixed(2),
			rec.BankTransaction.Reference,
			ledgerID,
			vendor,
			invoice,
			ledgerAmount,
			rec.Variance().StringFixed(2),
			string(rec.Status),
			string(rec.ConfidenceLevel),
			fmt.Sprintf("%.1f", rec.ConfidenceScore),
			rec.MatchedBy,
			rec.Notes,
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.ID, err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(summary *reconciler.DashboardStats, out *errWriter) {
	out.printf("Transactions:  %d\n", summary.TotalTransactions)
	out.printf("  Auto-Matched: %d (%.1f%%)\n",
		summary.AutoMatched, rg.calculatePercentage(summary.AutoMatched, summary.TotalTransactions))
	out.printf("  Needs Review: %d (%.1f%%)\n",
		summary.NeedsReview, rg.calculatePercentage(summary.NeedsReview, summary.TotalTransactions))
	out.printf("  Exceptions:   %d (%.1f%%)\n",
		summary.Exceptions, rg.calculatePercentage(summary.Exceptions, summary.TotalTransactions))
	out.printf("Reconciliation Rate: %.1f%%\n", summary.ReconciliationRate)
	out.printf("Average Confidence:  %.1f%%\n", summary.AverageConfidence)
}

func (rg *ReportGenerator) printFinancialSummary(summary *reconciler.DashboardStats, out *errWriter) {
	out.printf("Bank Total:   %s\n", summary.BankTotal.StringFixed(2))
	out.printf("Ledger Total: %s\n", summary.LedgerTotal.StringFixed(2))
	out.printf("Variance:     %s\n", summary.Variance.StringFixed(2))
}

func (rg *ReportGenerator) printStatusBreakdown(summary *reconciler.DashboardStats, out *errWriter) {
	for _, status := range models.AllStatuses {
		count := summary.ByStatus[status]
		if count == 0 {
			continue
		}
		out.printf("%-16s %d (%.1f%%)\n", string(status)+":", count,
			rg.calculatePercentage(count, summary.TotalTransactions))
	}
}

func (rg *ReportGenerator) printTransactionList(records []*models.MatchedTransaction, out *errWriter) {
	for i, rec := range records {
		if rg.config.MaxConsoleRows > 0 && i >= rg.config.MaxConsoleRows {
			out.printf("  ... and %d more\n", len(records)-i)
			break
		}
		ledger := "-"
		if rec.HasLedger() {
			ledger = rec.LedgerTransaction.ID
		}
		line := fmt.Sprintf("  %d. %s  %s  %12s  %-15s  %-6s %5.1f  %s  %s",
			i+1,
			rec.ID,
			rec.BankTransaction.Date,
			rec.BankTransaction.Amount.StringFixed(2),
			rec.Status,
			rec.ConfidenceLevel,
			rec.ConfidenceScore,
			ledger,
			rec.BankTransaction.Description)
		out.printf("%s\n", rg.fit(line))
	}
}

// Helper methods

func (rg *ReportGenerator) fit(line string) string {
	if len(line) <= rg.config.TableMaxWidth {
		return line
	}
	return line[:rg.config.TableMaxWidth-3] + "..."
}

func (rg *ReportGenerator) ordered(records []*models.MatchedTransaction) []*models.MatchedTransaction {
	if !rg.config.SortByAmount {
		return records
	}
	sorted := make([]*models.MatchedTransaction, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BankTransaction.Amount.GreaterThan(sorted[j].BankTransaction.Amount)
	})
	return sorted
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func describeFilter(f filter.TransactionFilter) string {
	var parts []string
	if len(f.Status) > 0 {
		parts = append(parts, "status="+joinValues(f.Status))
	}
	if len(f.ConfidenceLevel) > 0 {
		parts = append(parts, "confidence="+joinValues(f.ConfidenceLevel))
	}
	if f.DateFrom != "" || f.DateTo != "" {
		parts = append(parts, fmt.Sprintf("date=%s..%s", f.DateFrom, f.DateTo))
	}
	if f.AmountMin != "" || f.AmountMax != "" {
		parts = append(parts, fmt.Sprintf("amount=%s..%s", f.AmountMin, f.AmountMax))
	}
	if q := strings.TrimSpace(f.SearchQuery); q != "" {
		parts = append(parts, fmt.Sprintf("search=%q", q))
	}
	return strings.Join(parts, " ")
}

func joinValues[T ~string](values []T) string {
	s := make([]string, len(values))
	for i, v := range values {
		s[i] = string(v)
	}
	return strings.Join(s, ",")
}

// errWriter keeps the first write error so console rendering stays linear
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
