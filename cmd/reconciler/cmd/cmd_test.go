package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/spf13/viper"

	"reconciliation-workflow/cmd/reconciler/config"
	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

var seedPath = filepath.Join("..", "..", "..", "testdata", "seed.yaml")

// useSettings installs in-memory settings backed by the demo seed
func useSettings(t *testing.T) {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	v.Set("database.seed_file", seedPath)
	s, err := config.Load(v)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	previous := settings
	settings = s
	logger.SetGlobalLogger(logger.Discard())
	t.Cleanup(func() { settings = previous })
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "transactions": false, "audit": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRunTransactions(t *testing.T) {
	useSettings(t)

	tests := []struct {
		name     string
		opts     transactionsOptions
		contains []string
		csvRows  int
		wantCode errors.ErrorCode
	}{
		{
			name:     "console",
			opts:     transactionsOptions{format: "console", limit: 50},
			contains: []string{"RECONCILIATION REPORT", "=== SUMMARY ===", "TR-2024-004"},
		},
		{
			name:    "csv review required",
			opts:    transactionsOptions{query: filter.TransactionQuery{Status: []string{"Review Required"}}, format: "csv"},
			csvRows: 1,
		},
		{
			name:    "csv search and amount",
			opts:    transactionsOptions{query: filter.TransactionQuery{AmountMin: "10000", SearchQuery: "medical"}, format: "csv"},
			csvRows: 1,
		},
		{
			name:     "unknown status",
			opts:     transactionsOptions{query: filter.TransactionQuery{Status: []string{"Pending"}}, format: "console"},
			wantCode: errors.CodeUnrecognizedValue,
		},
		{
			name:     "unknown format",
			opts:     transactionsOptions{format: "pdf"},
			wantCode: errors.CodeUnrecognizedValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := runTransactions(context.Background(), tt.opts, &stdout, &stderr)
			if tt.wantCode != "" {
				if !errors.HasCode(err, tt.wantCode) {
					t.Fatalf("runTransactions() error = %v, want %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("runTransactions() error = %v", err)
			}
			for _, want := range tt.contains {
				if !strings.Contains(stdout.String(), want) {
					t.Errorf("output missing %q", want)
				}
			}
			if tt.csvRows > 0 {
				rows, err := csv.NewReader(&stdout).ReadAll()
				if err != nil {
					t.Fatalf("csv: %v", err)
				}
				if len(rows) != tt.csvRows+1 {
					t.Errorf("csv rows = %d, want %d plus header", len(rows)-1, tt.csvRows)
				}
			}
		})
	}
}

func TestRunTransactions_Warnings(t *testing.T) {
	useSettings(t)
	var stdout, stderr bytes.Buffer
	opts := transactionsOptions{query: filter.TransactionQuery{DateFrom: "15/01/2024"}, format: "json"}
	if err := runTransactions(context.Background(), opts, &stdout, &stderr); err != nil {
		t.Fatalf("runTransactions() error = %v", err)
	}
	if !strings.HasPrefix(stderr.String(), "Warning:") {
		t.Errorf("stderr = %q, want a warning", stderr.String())
	}

	var body struct {
		Summary struct {
			TotalTransactions int `json:"totalTransactions"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Summary.TotalTransactions != 5 {
		t.Errorf("total = %d, want 5 with the bound cleared", body.Summary.TotalTransactions)
	}
}

func TestRunTransactions_OutputFile(t *testing.T) {
	useSettings(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "export.csv")
	opts := transactionsOptions{format: "csv", output: path}
	if err := runTransactions(context.Background(), opts, &bytes.Buffer{}, &bytes.Buffer{}); err != nil {
		t.Fatalf("runTransactions() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 6 {
		t.Errorf("export lines = %d, want 6", lines)
	}

	opts.output = filepath.Join(dir, "missing", "export.csv")
	err = runTransactions(context.Background(), opts, &bytes.Buffer{}, &bytes.Buffer{})
	if !errors.HasCode(err, errors.CodeFileNotFound) {
		t.Errorf("runTransactions() error = %v, want file_not_found", err)
	}
}

func TestRunAudit(t *testing.T) {
	useSettings(t)

	t.Run("json by category", func(t *testing.T) {
		var stdout bytes.Buffer
		opts := auditOptions{query: filter.AuditQuery{Category: []string{"matching"}}, format: "json"}
		if err := runAudit(context.Background(), opts, &stdout, &bytes.Buffer{}); err != nil {
			t.Fatalf("runAudit() error = %v", err)
		}
		var body struct {
			Count   int `json:"count"`
			Entries []struct {
				ID string `json:"id"`
			} `json:"entries"`
		}
		if err := json.Unmarshal(stdout.Bytes(), &body); err != nil {
			t.Fatalf("json: %v", err)
		}
		if body.Count != 3 || len(body.Entries) != 3 {
			t.Fatalf("count = %d, entries = %d; want 3", body.Count, len(body.Entries))
		}
		if body.Entries[0].ID != "AUD-001" {
			t.Errorf("first entry = %s, want newest AUD-001", body.Entries[0].ID)
		}
	})

	t.Run("console limit", func(t *testing.T) {
		var stdout bytes.Buffer
		opts := auditOptions{format: "console", limit: 2}
		if err := runAudit(context.Background(), opts, &stdout, &bytes.Buffer{}); err != nil {
			t.Fatalf("runAudit() error = %v", err)
		}
		out := stdout.String()
		for _, want := range []string{"SEVERITY", "Sarah Johnson (user)", "... and 3 more"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("rejects", func(t *testing.T) {
		for _, opts := range []auditOptions{
			{format: "csv"},
			{format: "console", limit: -1},
			{format: "console", query: filter.AuditQuery{Severity: []string{"fatal"}}},
		} {
			if err := runAudit(context.Background(), opts, &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
				t.Errorf("runAudit(%+v) expected error", opts)
			}
		}
	})
}

func TestOpenApplication_MissingSeed(t *testing.T) {
	useSettings(t)
	s := *settings
	s.Database.SeedFile = filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := openApplication(context.Background(), &s, logger.Discard()); !errors.HasCode(err, errors.CodeFileNotFound) {
		t.Errorf("openApplication() error = %v, want file_not_found", err)
	}
}

func TestCLIErrorHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		contains []string
	}{
		{name: "nil", err: nil, wantCode: 0},
		{
			name:     "validation",
			err:      errors.ValidationError(errors.CodeUnrecognizedValue, "status", "Pending", nil),
			wantCode: 3,
			contains: []string{"Error: unrecognized value", "field: status", "Suggestion:", "Validation error help"},
		},
		{
			name:     "configuration",
			err:      errors.ConfigurationError(errors.CodeMissingConfig, "database.dsn", nil, nil),
			wantCode: 4,
			contains: []string{"RECONCILER_"},
		},
		{
			name:     "lifecycle",
			err:      errors.InvalidTransition("TR-2024-005", "Accepted", "approve", ""),
			wantCode: 5,
			contains: []string{"current_status: Accepted", "Workflow error help"},
		},
		{
			name:     "collaborator",
			err:      errors.CollaboratorFailure(errors.CodeTimeout, "ledger", "persist transition", nil),
			wantCode: 6,
		},
		{
			name:     "file not found",
			err:      &fs.PathError{Op: "open", Path: "seed.yaml", Err: syscall.ENOENT},
			wantCode: 2,
			contains: []string{"File not found"},
		},
		{name: "interrupted", err: context.Canceled, wantCode: 130},
		{name: "generic", err: stderrors.New("boom"), wantCode: 1, contains: []string{"Error: boom", "--verbose"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := &CLIErrorHandler{logger: logger.Discard(), out: &out}
			if code := h.HandleError(tt.err); code != tt.wantCode {
				t.Errorf("HandleError() = %d, want %d", code, tt.wantCode)
			}
			for _, want := range tt.contains {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestFormatWarnings(t *testing.T) {
	if got := FormatWarnings(nil); got != "" {
		t.Errorf("FormatWarnings(nil) = %q", got)
	}

	var problems []*errors.ReconcilerError
	for i := 0; i < 12; i++ {
		problems = append(problems, errors.ValidationError(errors.CodeInvalidDate, "dateFrom", i, nil))
	}
	got := FormatWarnings(problems)
	if !strings.HasPrefix(got, "Found 12 warnings:") || !strings.Contains(got, "... and 2 more warnings") {
		t.Errorf("FormatWarnings() = %q", got)
	}
}

func TestExecute_ConfigFile(t *testing.T) {
	t.Cleanup(func() {
		viper.Reset()
		cfgFile = ""
		txOpts = transactionsOptions{}
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
	previous := settings
	t.Cleanup(func() { settings = previous })

	path := filepath.Join(t.TempDir(), "reconciler.yaml")
	content := "database:\n  seed_file: " + seedPath + "\nlog:\n  level: error\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"--config", path, "transactions", "--status", "Exception", "--format", "csv"})
	if err := Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if settings == nil || settings.Database.SeedFile != seedPath {
		t.Fatalf("settings not loaded from config file: %+v", settings)
	}
	if !strings.Contains(stdout.String(), "TR-2024-004") || strings.Count(stdout.String(), "\n") != 2 {
		t.Errorf("output = %q", stdout.String())
	}
}
