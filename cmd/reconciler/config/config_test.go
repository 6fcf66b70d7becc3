package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"reconciliation-workflow/internal/reporter"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q", s.Server.Addr)
	}
	if s.Database.Driver != DriverMemory {
		t.Errorf("database.driver = %q", s.Database.Driver)
	}
	if th := s.Thresholds(); th.High != 90 || th.Medium != 60 {
		t.Errorf("thresholds = %+v", th)
	}
	if s.Collaborator.Timeout != 10*time.Second {
		t.Errorf("collaborator.timeout = %s", s.Collaborator.Timeout)
	}
	if s.Ingest.MaxUploadBytes != 10<<20 || s.APIConfig().MaxUploadBytes != 10<<20 {
		t.Errorf("max upload = %d", s.Ingest.MaxUploadBytes)
	}
	if s.Jobs.SummarySchedule != "" || s.Jobs.AuditFlushSchedule == "" {
		t.Errorf("jobs = %+v", s.Jobs)
	}

	tol := s.ToleranceConfig()
	if tol.DateToleranceDays != 3 || tol.AmountTolerancePercent != 1 || tol.MinScore != 40 {
		t.Errorf("tolerance = %+v", tol)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciler.yaml")
	content := `
server:
  addr: ":9090"
  cors_origins: ["*"]
matching:
  high_threshold: 95
  medium_threshold: 70
collaborator:
  timeout: 3s
ingest:
  job_ttl: 30m
jobs:
  summary_schedule: "30 17 * * 1-5"
  timezone: Asia/Kolkata
  summary_recipients: [sarah.johnson, mike.chen]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v := newViper(t)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	s, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Server.Addr != ":9090" || len(s.Server.CORSOrigins) != 1 {
		t.Errorf("server = %+v", s.Server)
	}
	if s.ReconcilerConfig().Thresholds.High != 95 || s.IngestConfig().Thresholds.Medium != 70 {
		t.Errorf("thresholds not propagated: %+v", s.Matching)
	}
	if s.Collaborator.Timeout != 3*time.Second || s.Ingest.JobTTL != 30*time.Minute {
		t.Errorf("durations = %s, %s", s.Collaborator.Timeout, s.Ingest.JobTTL)
	}
	if len(s.Jobs.Recipients) != 2 || s.Jobs.TimeZone != "Asia/Kolkata" {
		t.Errorf("jobs = %+v", s.Jobs)
	}
	// untouched keys keep their defaults
	if s.Server.RateBurst != 30 {
		t.Errorf("server.rate_burst = %d", s.Server.RateBurst)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("RECONCILER_SERVER_ADDR", ":7070")
	t.Setenv("RECONCILER_MATCHING_HIGH_THRESHOLD", "85")
	t.Setenv("RECONCILER_COLLABORATOR_TIMEOUT", "250ms")
	t.Setenv("RECONCILER_JOBS_SUMMARY_SCHEDULE", "@daily")
	t.Setenv("RECONCILER_JOBS_SUMMARY_RECIPIENTS", "sarah.johnson,mike.chen")

	s, err := Load(newViper(t))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Server.Addr != ":7070" {
		t.Errorf("server.addr = %q", s.Server.Addr)
	}
	if s.Matching.HighThreshold != 85 {
		t.Errorf("high threshold = %v", s.Matching.HighThreshold)
	}
	if s.Collaborator.Timeout != 250*time.Millisecond {
		t.Errorf("timeout = %s", s.Collaborator.Timeout)
	}
	if len(s.Jobs.Recipients) != 2 {
		t.Errorf("recipients = %v", s.Jobs.Recipients)
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(s *Settings)
		wantCode errors.ErrorCode
	}{
		{name: "valid", mutate: func(*Settings) {}},
		{name: "postgres without dsn", mutate: func(s *Settings) { s.Database.Driver = DriverPostgres }, wantCode: errors.CodeMissingConfig},
		{name: "postgres with dsn", mutate: func(s *Settings) {
			s.Database.Driver = DriverPostgres
			s.Database.DSN = "host=localhost user=recon dbname=recon sslmode=disable"
		}},
		{name: "unknown driver", mutate: func(s *Settings) { s.Database.Driver = "sqlite" }, wantCode: errors.CodeInvalidConfig},
		{name: "bad log level", mutate: func(s *Settings) { s.Log.Level = "loud" }, wantCode: errors.CodeInvalidConfig},
		{name: "thresholds inverted", mutate: func(s *Settings) { s.Matching.MediumThreshold = 95 }, wantCode: errors.CodeInvalidConfig},
		{name: "negative date tolerance", mutate: func(s *Settings) { s.Matching.DateToleranceDays = -1 }, wantCode: errors.CodeInvalidConfig},
		{name: "negative timeout", mutate: func(s *Settings) { s.Collaborator.Timeout = -time.Second }, wantCode: errors.CodeInvalidConfig},
		{name: "empty addr", mutate: func(s *Settings) { s.Server.Addr = "" }, wantCode: errors.CodeMissingConfig},
		{name: "summary without recipients", mutate: func(s *Settings) { s.Jobs.SummarySchedule = "@daily" }, wantCode: errors.CodeMissingConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Load(newViper(t))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.mutate(s)
			err = s.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.wantCode) {
				t.Errorf("Validate() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestSettings_LoggerConfig(t *testing.T) {
	s := &Settings{Log: LogSettings{Level: "WARN", Format: "text"}}
	config, err := s.LoggerConfig(false)
	if err != nil {
		t.Fatalf("LoggerConfig() error = %v", err)
	}
	if config.Level != logger.WarnLevel || config.Format != logger.TextFormat {
		t.Errorf("config = %+v", config)
	}

	config, _ = s.LoggerConfig(true)
	if config.Level != logger.DebugLevel {
		t.Errorf("verbose level = %s", config.Level)
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format  string
		limit   int
		want    reporter.OutputFormat
		rows    int
		wantErr bool
	}{
		{format: "console", limit: 10, want: reporter.FormatConsole, rows: 10},
		{format: "JSON", limit: 10, want: reporter.FormatJSON, rows: 50},
		{format: "csv", limit: 0, want: reporter.FormatCSV, rows: 50},
		{format: "pdf", wantErr: true},
		{format: "console", limit: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			config, err := CreateReportConfig(tt.format, tt.limit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateReportConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if config.Format != tt.want || config.MaxConsoleRows != tt.rows {
				t.Errorf("config = %s/%d, want %s/%d", config.Format, config.MaxConsoleRows, tt.want, tt.rows)
			}
			if err := config.Validate(); err != nil {
				t.Errorf("config invalid: %v", err)
			}
		})
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	v := newViper(t)
	v.SetConfigFile(filepath.Join("..", "..", "..", "configs", "reconciler.yaml"))
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	s, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Jobs.SummarySchedule == "" || len(s.Jobs.Recipients) == 0 {
		t.Errorf("sample config should enable the daily summary: %+v", s.Jobs)
	}
	if s.Ingest.JobTimeout != 5*time.Minute {
		t.Errorf("ingest.job_timeout = %s", s.Ingest.JobTimeout)
	}
}
