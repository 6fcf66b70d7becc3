package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/internal/reporter"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

type auditOptions struct {
	query  filter.AuditQuery
	format string
	limit  int
}

var auditOpts auditOptions

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail",
	Long: `Audit prints the audit trail newest first. Filters combine with AND; repeated
or comma-separated values within one filter combine with OR.

Examples:
  reconciler audit
  reconciler audit --category matching,reconciliation --actor-type user
  reconciler audit --severity warning --date-from 2024-01-15 --format json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runAudit(cmd.Context(), auditOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	f := auditCmd.Flags()
	f.StringSliceVar(&auditOpts.query.Category, "category", nil, "category filter (repeatable or comma-separated)")
	f.StringSliceVar(&auditOpts.query.Action, "action", nil, "action filter")
	f.StringSliceVar(&auditOpts.query.Severity, "severity", nil, "severity filter: info, warning, error, critical")
	f.StringSliceVar(&auditOpts.query.ActorType, "actor-type", nil, "actor type filter: user, system, ai")
	f.StringVar(&auditOpts.query.DateFrom, "date-from", "", "earliest timestamp (YYYY-MM-DD or RFC3339)")
	f.StringVar(&auditOpts.query.DateTo, "date-to", "", "latest timestamp (YYYY-MM-DD or RFC3339)")
	f.StringVarP(&auditOpts.query.SearchQuery, "search", "q", "", "case-insensitive text search")
	f.StringVarP(&auditOpts.format, "format", "f", string(reporter.FormatConsole), "output format: console, json")
	f.IntVar(&auditOpts.limit, "limit", 0, "entries to print, 0 for all")
}

func runAudit(ctx context.Context, opts auditOptions, stdout, stderr io.Writer) error {
	format := reporter.OutputFormat(strings.ToLower(opts.format))
	if format != reporter.FormatConsole && format != reporter.FormatJSON {
		return errors.ValidationError(errors.CodeUnrecognizedValue, "format", opts.format, nil).
			WithSuggestion("use console or json")
	}
	if opts.limit < 0 {
		return errors.ValidationError(errors.CodeOutOfRange, "limit", opts.limit, nil)
	}
	f, err := opts.query.Build()
	if err != nil {
		return err
	}

	app, err := openApplication(ctx, settings, logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	defer app.close()

	entries, problems, err := app.workspace.AuditLog(ctx, f)
	if err != nil {
		return err
	}
	if msg := FormatWarnings(problems); msg != "" {
		fmt.Fprintln(stderr, msg)
	}
	total := len(entries)
	if opts.limit > 0 && total > opts.limit {
		entries = entries[:opts.limit]
	}

	if format == reporter.FormatJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{"entries": entries, "count": total})
	}
	return writeAuditTable(stdout, entries, total)
}

func writeAuditTable(w io.Writer, entries []*models.AuditLogEntry, total int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSEVERITY\tCATEGORY\tACTION\tACTOR\tDESCRIPTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s (%s)\t%s\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.Severity, e.Category, e.Action,
			e.Actor, e.ActorType, e.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(entries) < total {
		_, err := fmt.Fprintf(w, "... and %d more\n", total-len(entries))
		return err
	}
	_, err := fmt.Fprintf(w, "%d entries\n", total)
	return err
}
