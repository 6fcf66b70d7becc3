package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"reconciliation-workflow/cmd/reconciler/config"
	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/reporter"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// transactionsOptions are the flags of the transactions command
type transactionsOptions struct {
	query  filter.TransactionQuery
	format string
	output string
	limit  int
}

var txOpts transactionsOptions

var transactionsCmd = &cobra.Command{
	Use:     "transactions",
	Aliases: []string{"tx"},
	Short:   "List or export matched transactions",
	Long: `Transactions prints the matched transactions that pass the filter, with a
summary of the filtered view. Filters combine with AND; repeated or
comma-separated status and confidence values combine with OR.

Examples:
  reconciler transactions
  reconciler transactions --status "Review Required,Exception" --confidence Low
  reconciler transactions --date-from 2024-01-15 --amount-min 5000 -q medical
  reconciler transactions --format csv --output export.csv`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runTransactions(cmd.Context(), txOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(transactionsCmd)

	f := transactionsCmd.Flags()
	f.StringSliceVar(&txOpts.query.Status, "status", nil, "status filter (repeatable or comma-separated)")
	f.StringSliceVar(&txOpts.query.Confidence, "confidence", nil, "confidence level filter: High, Medium, Low")
	f.StringVar(&txOpts.query.DateFrom, "date-from", "", "earliest bank date (YYYY-MM-DD)")
	f.StringVar(&txOpts.query.DateTo, "date-to", "", "latest bank date (YYYY-MM-DD)")
	f.StringVar(&txOpts.query.AmountMin, "amount-min", "", "minimum bank amount")
	f.StringVar(&txOpts.query.AmountMax, "amount-max", "", "maximum bank amount")
	f.StringVarP(&txOpts.query.SearchQuery, "search", "q", "", "case-insensitive text search")
	f.StringVarP(&txOpts.format, "format", "f", string(reporter.FormatConsole), "output format: console, json, csv")
	f.StringVarP(&txOpts.output, "output", "o", "", "output file path (default: stdout)")
	f.IntVar(&txOpts.limit, "limit", 50, "console rows to print, 0 for all")
}

func runTransactions(ctx context.Context, opts transactionsOptions, stdout, stderr io.Writer) error {
	f, err := opts.query.Build()
	if err != nil {
		return err
	}
	reportConfig, err := config.CreateReportConfig(opts.format, opts.limit)
	if err != nil {
		return err
	}

	log := logger.GetGlobalLogger()
	app, err := openApplication(ctx, settings, log)
	if err != nil {
		return err
	}
	defer app.close()

	records, problems := app.workspace.Transactions(f)
	if msg := FormatWarnings(problems); msg != "" {
		fmt.Fprintln(stderr, msg)
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}
	report := reporter.NewReport(records, f, time.Now().UTC())

	out, closeOut, err := openOutput(opts.output, stdout)
	if err != nil {
		return err
	}
	defer closeOut()
	return generator.GenerateReportSafely(report, out)
}

// openOutput returns stdout for an empty path, otherwise a created file
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, dir, err).
				WithSuggestion("create the output directory first")
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	return file, func() { _ = file.Close() }, nil
}
