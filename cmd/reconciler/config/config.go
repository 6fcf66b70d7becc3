package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"reconciliation-workflow/internal/api"
	"reconciliation-workflow/internal/ingest"
	"reconciliation-workflow/internal/jobs"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/internal/reconciler"
	"reconciliation-workflow/internal/reporter"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// EnvPrefix is prepended to every environment override, e.g. RECONCILER_SERVER_ADDR
const EnvPrefix = "RECONCILER"

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Settings is the full application configuration
type Settings struct {
	Server       ServerSettings       `mapstructure:"server"`
	Database     DatabaseSettings     `mapstructure:"database"`
	Log          LogSettings          `mapstructure:"log"`
	Matching     MatchingSettings     `mapstructure:"matching"`
	Collaborator CollaboratorSettings `mapstructure:"collaborator"`
	Ingest       IngestSettings       `mapstructure:"ingest"`
	Jobs         jobs.Config          `mapstructure:"jobs"`
}

type ServerSettings struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	RateLimit   float64  `mapstructure:"rate_limit"`
	RateBurst   int      `mapstructure:"rate_burst"`
}

type DatabaseSettings struct {
	// Driver is memory or postgres
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// SeedFile preloads the store. With postgres it is imported on startup.
	SeedFile string `mapstructure:"seed_file"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MatchingSettings covers confidence bucketing and the local tolerance matcher
type MatchingSettings struct {
	HighThreshold          float64 `mapstructure:"high_threshold"`
	MediumThreshold        float64 `mapstructure:"medium_threshold"`
	DateToleranceDays      int     `mapstructure:"date_tolerance_days"`
	AmountTolerancePercent float64 `mapstructure:"amount_tolerance_percent"`
	MinScore               float64 `mapstructure:"min_score"`
}

type CollaboratorSettings struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type IngestSettings struct {
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	JobTTL         time.Duration `mapstructure:"job_ttl"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
}

// SetDefaults registers every key so environment overrides are picked up by Unmarshal
func SetDefaults(v *viper.Viper) {
	server := api.DefaultConfig()
	v.SetDefault("server.addr", server.Addr)
	v.SetDefault("server.cors_origins", server.CORSOrigins)
	v.SetDefault("server.rate_limit", server.RateLimit)
	v.SetDefault("server.rate_burst", server.RateBurst)

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.seed_file", "testdata/seed.yaml")

	v.SetDefault("log.level", string(logger.InfoLevel))
	v.SetDefault("log.format", string(logger.JSONFormat))

	thresholds := models.DefaultThresholds()
	tolerance := ingest.DefaultToleranceConfig()
	v.SetDefault("matching.high_threshold", thresholds.High)
	v.SetDefault("matching.medium_threshold", thresholds.Medium)
	v.SetDefault("matching.date_tolerance_days", tolerance.DateToleranceDays)
	v.SetDefault("matching.amount_tolerance_percent", tolerance.AmountTolerancePercent)
	v.SetDefault("matching.min_score", tolerance.MinScore)

	v.SetDefault("collaborator.timeout", reconciler.DefaultConfig().CollaboratorTimeout)

	in := ingest.DefaultConfig()
	v.SetDefault("ingest.max_upload_bytes", in.MaxUploadBytes)
	v.SetDefault("ingest.job_ttl", in.JobTTL)
	v.SetDefault("ingest.job_timeout", in.JobTimeout)

	// The summary stays off until recipients are configured.
	v.SetDefault("jobs.summary_schedule", "")
	v.SetDefault("jobs.audit_flush_schedule", jobs.DefaultAuditFlushSchedule)
	v.SetDefault("jobs.timezone", jobs.DefaultTimeZone)
	v.SetDefault("jobs.summary_recipients", []string{})
}

// BindEnv maps RECONCILER_SECTION_KEY variables onto section.key
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the settings held by v
func Load(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "settings", nil, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks every section and reports the first problem
func (s *Settings) Validate() error {
	switch s.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if strings.TrimSpace(s.Database.DSN) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "database.dsn", nil, nil).
				WithSuggestion("set RECONCILER_DATABASE_DSN or database.dsn when database.driver is postgres")
		}
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "database.driver", s.Database.Driver, nil).
			WithSuggestion("use memory or postgres")
	}

	if _, err := s.LoggerConfig(false); err != nil {
		return err
	}
	if err := s.Thresholds().Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", s.Matching, err)
	}
	if err := s.ToleranceConfig().Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", s.Matching, err)
	}
	if s.Collaborator.Timeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "collaborator.timeout", s.Collaborator.Timeout, nil)
	}
	if s.Ingest.JobTTL < 0 || s.Ingest.JobTimeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "ingest", s.Ingest, nil).
			WithSuggestion("durations cannot be negative")
	}
	if err := s.APIConfig().Validate(); err != nil {
		return err
	}
	return s.Jobs.Validate()
}

// Thresholds returns the confidence bucketing thresholds
func (s *Settings) Thresholds() models.ConfidenceThresholds {
	return models.ConfidenceThresholds{High: s.Matching.HighThreshold, Medium: s.Matching.MediumThreshold}
}

// ToleranceConfig builds the local matcher configuration. Weights keep their defaults.
func (s *Settings) ToleranceConfig() ingest.ToleranceConfig {
	config := ingest.DefaultToleranceConfig()
	config.DateToleranceDays = s.Matching.DateToleranceDays
	config.AmountTolerancePercent = s.Matching.AmountTolerancePercent
	config.MinScore = s.Matching.MinScore
	return config
}

// ReconcilerConfig builds the workspace configuration
func (s *Settings) ReconcilerConfig() *reconciler.Config {
	return &reconciler.Config{
		Thresholds:          s.Thresholds(),
		CollaboratorTimeout: s.Collaborator.Timeout,
	}
}

// IngestConfig builds the statement ingestion configuration
func (s *Settings) IngestConfig() ingest.Config {
	return ingest.Config{
		MaxUploadBytes: s.Ingest.MaxUploadBytes,
		JobTTL:         s.Ingest.JobTTL,
		JobTimeout:     s.Ingest.JobTimeout,
		Thresholds:     s.Thresholds(),
	}
}

// APIConfig builds the HTTP server configuration
func (s *Settings) APIConfig() api.Config {
	return api.Config{
		Addr:           s.Server.Addr,
		CORSOrigins:    s.Server.CORSOrigins,
		RateLimit:      s.Server.RateLimit,
		RateBurst:      s.Server.RateBurst,
		MaxUploadBytes: s.Ingest.MaxUploadBytes,
	}
}

// LoggerConfig builds the logger configuration; verbose forces debug level
func (s *Settings) LoggerConfig(verbose bool) (*logger.Config, error) {
	config := logger.ServerConfig()
	if s.Log.Level != "" {
		config.Level = logger.Level(strings.ToLower(s.Log.Level))
	}
	if s.Log.Format != "" {
		config.Format = logger.Format(strings.ToLower(s.Log.Format))
	}
	if verbose {
		config.Level = logger.DebugLevel
		config.CallerInfo = true
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", s.Log, err)
	}
	return config, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, limit int) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(format))
	if !config.Format.IsValid() {
		return nil, errors.ValidationError(errors.CodeUnrecognizedValue, "format", format, nil).
			WithSuggestion("use console, json or csv")
	}
	if limit < 0 {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "limit", limit, fmt.Errorf("limit cannot be negative"))
	}
	if config.Format == reporter.FormatConsole {
		config.MaxConsoleRows = limit
	}
	return config, nil
}
