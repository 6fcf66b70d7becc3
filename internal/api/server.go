// Package api exposes the review workspace over HTTP with gin.
package api

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"reconciliation-workflow/internal/ingest"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/internal/notify"
	"reconciliation-workflow/internal/reconciler"
	"reconciliation-workflow/internal/reporter"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// Config holds HTTP server settings
type Config struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// RateLimit is the sustained requests per second, RateBurst the bucket size.
	// A zero RateLimit disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// MaxUploadBytes caps multipart statement uploads
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// DefaultConfig returns the server defaults
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimit:      10,
		RateBurst:      30,
		MaxUploadBytes: 10 << 20,
	}
}

// Validate checks the server settings
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "server.addr", c.Addr, nil)
	}
	if c.RateLimit < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server.rate_limit", c.RateLimit, nil)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server.rate_burst", c.RateBurst, nil).
			WithSuggestion("rate_burst must be at least 1 when rate limiting is enabled")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server.max_upload_bytes", c.MaxUploadBytes, nil)
	}
	return nil
}

// Deps are the services the handlers call
type Deps struct {
	Workspace *reconciler.ReconciliationService
	Ingest    *ingest.Service
	Notify    notify.Service
	Report    *reporter.ReportConfig
	Logger    logger.Logger
	// Recipients are notified of completed uploads that name no uploader
	Recipients []string
}

// Server owns the handlers and the gin engine
type Server struct {
	workspace *reconciler.ReconciliationService
	ingest    *ingest.Service
	notify    notify.Service
	report    reporter.ReportConfig
	config    Config
	logger    logger.Logger
	clock     func() time.Time

	recipients []string
}

// New wires the handlers. Records produced by completed statement jobs are
// added to the workspace and announced to the uploader.
func New(deps Deps, config Config) (*Server, error) {
	if deps.Workspace == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "workspace", nil, nil)
	}
	if deps.Notify == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "notify", nil, nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log := deps.Logger
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	report := reporter.DefaultReportConfig()
	if deps.Report != nil {
		report = deps.Report
	}

	s := &Server{
		workspace: deps.Workspace,
		ingest:    deps.Ingest,
		notify:    deps.Notify,
		report:    *report,
		config:    config,
		logger:    log.WithComponent("api"),
		clock:     time.Now,

		recipients: deps.Recipients,
	}
	if s.ingest != nil {
		s.ingest.SetLedgerFilter(s.workspace.AvailableLedger)
		s.ingest.OnComplete(func(job *ingest.JobStatus, records []*models.MatchedTransaction) {
			added := s.workspace.AddRecords(records)
			s.logger.WithFields(logger.Fields{"job_id": job.JobID, "added": added}).Info("Statement records added to workspace")
			s.notifyUpload(context.Background(), job, added)
		})
	}
	return s, nil
}

// Router builds the gin engine with middleware and routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(s.corsConfig()))
	if s.config.RateLimit > 0 {
		r.Use(s.rateLimit())
	}
	r.MaxMultipartMemory = s.config.MaxUploadBytes

	s.registerRoutes(r)
	return r
}
