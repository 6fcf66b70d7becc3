package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	out     io.Writer
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		out:     os.Stderr,
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := categoryHelp(err.Category); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case stderrors.Is(err, context.Canceled):
		fmt.Fprintf(h.out, "Interrupted\n")
		return 130
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more detail\n")
	}
	return 1
}

func categoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the file exists and is readable
• Verify the path (use absolute paths if needed)`

	case errors.CategoryParse:
		return `Parse error help:
• Statements must be CSV or XLSX with a header row
• Check the date, description, amount and reference columns
• Save the file in UTF-8 encoding`

	case errors.CategoryValidation:
		return `Validation error help:
• Dates use YYYY-MM-DD (or RFC3339)
• Amounts are decimal numbers without currency symbols
• Status and confidence values must match a known option exactly`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your flags and the file passed with --config
• Environment overrides use the RECONCILER_ prefix, e.g. RECONCILER_SERVER_ADDR
• Use 'reconciler --help' to see all commands`

	case errors.CategoryLifecycle:
		return `Workflow error help:
• Reload the record; another reviewer may have changed it
• Approve and reject need a ledger match; reconcile needs an accepted record`

	case errors.CategoryCollaborator:
		return `Service error help:
• Check that the database is reachable (database.dsn)
• Increase collaborator.timeout if the ledger is slow`
	}
	return ""
}

func isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}

// FormatWarnings lists recoverable problems such as cleared filter bounds
func FormatWarnings(problems []*errors.ReconcilerError) string {
	if len(problems) == 0 {
		return ""
	}
	if len(problems) == 1 {
		return fmt.Sprintf("Warning: %s", problems[0].Message)
	}

	lines := []string{fmt.Sprintf("Found %d warnings:", len(problems))}
	for i, p := range problems {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, p.Message))
		if i >= 9 && len(problems) > 10 {
			lines = append(lines, fmt.Sprintf("  ... and %d more warnings", len(problems)-10))
			break
		}
	}
	return strings.Join(lines, "\n")
}
