// Package jobs runs the periodic work of the review workspace: the daily
// reconciliation summary and retries of audit entries that could not be
// recorded.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/internal/notify"
	"reconciliation-workflow/internal/reconciler"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

const (
	DefaultSummarySchedule    = "0 18 * * *"
	DefaultAuditFlushSchedule = "@every 5m"
	DefaultTimeZone           = "UTC"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config holds job schedules
type Config struct {
	// SummarySchedule is a five-field cron spec or descriptor. Empty disables the summary.
	SummarySchedule    string   `mapstructure:"summary_schedule"`
	AuditFlushSchedule string   `mapstructure:"audit_flush_schedule"`
	TimeZone           string   `mapstructure:"timezone"`
	Recipients         []string `mapstructure:"summary_recipients"`
}

// DefaultConfig returns the job defaults
func DefaultConfig() Config {
	return Config{
		SummarySchedule:    DefaultSummarySchedule,
		AuditFlushSchedule: DefaultAuditFlushSchedule,
		TimeZone:           DefaultTimeZone,
	}
}

// Validate parses the schedules and the time zone
func (c Config) Validate() error {
	for setting, spec := range map[string]string{
		"jobs.summary_schedule":     c.SummarySchedule,
		"jobs.audit_flush_schedule": c.AuditFlushSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := scheduleParser.Parse(spec); err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, setting, spec, err)
		}
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "jobs.timezone", c.TimeZone, err)
	}
	if c.SummarySchedule != "" && len(c.Recipients) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "jobs.summary_recipients", nil, nil).
			WithSuggestion("list the users who receive the daily summary, or clear jobs.summary_schedule")
	}
	return nil
}

// Workspace is the part of the review workspace the jobs read
type Workspace interface {
	Dashboard() *reconciler.DashboardStats
	FlushPendingAudit(ctx context.Context) (int, error)
}

// Scheduler owns the cron runner
type Scheduler struct {
	config    Config
	workspace Workspace
	notify    notify.Service
	cron      *cron.Cron
	logger    logger.Logger
	timeout   time.Duration
}

// NewScheduler registers the configured jobs. Nothing runs until Start.
func NewScheduler(workspace Workspace, notifier notify.Service, config Config, log logger.Logger) (*Scheduler, error) {
	if workspace == nil || notifier == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "workspace", nil, nil)
	}
	if config.TimeZone == "" {
		config.TimeZone = DefaultTimeZone
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("jobs")

	loc, _ := time.LoadLocation(config.TimeZone)
	cronLog := cronLogger{log}
	s := &Scheduler{
		config:    config,
		workspace: workspace,
		notify:    notifier,
		logger:    log,
		timeout:   time.Minute,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(scheduleParser),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}

	if config.SummarySchedule != "" {
		if _, err := s.cron.AddFunc(config.SummarySchedule, s.job("daily_summary", s.RunDailySummary)); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "jobs.summary_schedule", config.SummarySchedule, err)
		}
	}
	if config.AuditFlushSchedule != "" {
		flush := func(ctx context.Context) error {
			_, err := s.FlushAudit(ctx)
			return err
		}
		if _, err := s.cron.AddFunc(config.AuditFlushSchedule, s.job("audit_flush", flush)); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "jobs.audit_flush_schedule", config.AuditFlushSchedule, err)
		}
	}
	return s, nil
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(logger.Fields{
		"summary":  s.config.SummarySchedule,
		"flush":    s.config.AuditFlushSchedule,
		"timezone": s.config.TimeZone,
		"jobs":     len(s.cron.Entries()),
	}).Info("Scheduler started")
}

// Stop halts scheduling; the returned context is done once running jobs finish
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("Scheduler stopped")
	return ctx
}

// Next reports when each registered job fires next
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Next
	}
	return out
}

// RunDailySummary publishes the dashboard statistics to every recipient.
// Delivery continues past a failing recipient; the first error is returned.
func (s *Scheduler) RunDailySummary(ctx context.Context) error {
	item := SummaryNotification(s.workspace.Dashboard())
	var firstErr error
	for _, user := range s.config.Recipients {
		if err := s.notify.Publish(ctx, user, item); err != nil {
			s.logger.WithField("user", user).WithError(err).Warn("Daily summary not delivered")
			if firstErr == nil {
				firstErr = errors.WrapIfNeeded(err, errors.CategoryCollaborator, errors.CodeCollaboratorFailed,
					"failed to publish daily summary")
			}
		}
	}
	return firstErr
}

// FlushAudit retries audit entries still pending in the workspace
func (s *Scheduler) FlushAudit(ctx context.Context) (int, error) {
	n, err := s.workspace.FlushPendingAudit(ctx)
	if n > 0 {
		s.logger.WithField("flushed", n).Info("Pending audit entries recorded")
	}
	return n, err
}

// SummaryNotification renders dashboard statistics as a notification
func SummaryNotification(stats *reconciler.DashboardStats) models.NotificationItem {
	open := stats.NeedsReview + stats.Exceptions
	kind := models.NotificationSuccess
	if stats.Exceptions > 0 {
		kind = models.NotificationWarning
	} else if open > 0 {
		kind = models.NotificationInfo
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d transactions: %d auto-matched, %d need review, %d exceptions. ",
		stats.TotalTransactions, stats.AutoMatched, stats.NeedsReview, stats.Exceptions)
	fmt.Fprintf(&b, "Reconciliation rate %.1f%%, variance %s.", stats.ReconciliationRate, stats.Variance.StringFixed(2))

	return models.NotificationItem{
		Title:   "Daily reconciliation summary",
		Message: b.String(),
		Type:    kind,
	}
}

func (s *Scheduler) job(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = logger.TimedOperation(name, s.logger, func() error { return fn(ctx) })
	}
}

// cronLogger adapts Logger to cron.Logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

func pairs(keysAndValues []interface{}) logger.Fields {
	fields := make(logger.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
