// Package ingest turns uploaded bank statements into matched transactions.
//
// A statement moves through the stages validating, parsing, matching,
// finalizing and complete. SubmitStatement runs the stages in the
// background and returns a job id to poll; ProcessStatement runs them
// inline. Matching is delegated to a Matcher, which in production is the
// external matching engine.
package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// Stage is a step of statement processing
type Stage string

const (
	StageValidating Stage = "validating"
	StageParsing    Stage = "parsing"
	StageMatching   Stage = "matching"
	StageFinalizing Stage = "finalizing"
	StageComplete   Stage = "complete"
)

// Counts tallies the rows of one job
type Counts struct {
	Rows           int `json:"rows"`
	Parsed         int `json:"parsed"`
	Invalid        int `json:"invalid"`
	AutoMatched    int `json:"autoMatched"`
	ReviewRequired int `json:"reviewRequired"`
	Exceptions     int `json:"exceptions"`
}

// JobStatus is the pollable state of one statement job. When Error is set
// Stage is the stage that failed.
type JobStatus struct {
	JobID       string     `json:"jobId"`
	FileName    string     `json:"fileName"`
	Uploader    string     `json:"uploader,omitempty"`
	Format      Format     `json:"format,omitempty"`
	Stage       Stage      `json:"stage"`
	Counts      Counts     `json:"counts"`
	RowErrors   []string   `json:"rowErrors,omitempty"`
	Warnings    []string   `json:"warnings,omitempty"`
	Error       string     `json:"error,omitempty"`
	RecordIDs   []string   `json:"recordIds,omitempty"`
	SubmittedAt time.Time  `json:"submittedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Done reports whether the job finished, successfully or not
func (j *JobStatus) Done() bool {
	return j.Stage == StageComplete || j.Error != ""
}

func (j *JobStatus) clone() *JobStatus {
	c := *j
	c.RowErrors = append([]string(nil), j.RowErrors...)
	c.Warnings = append([]string(nil), j.Warnings...)
	c.RecordIDs = append([]string(nil), j.RecordIDs...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Store is the part of the ledger service ingestion writes to
type Store interface {
	FetchLedgerEntries(ctx context.Context) ([]models.LedgerTransaction, error)
	SaveMatches(ctx context.Context, records []*models.MatchedTransaction) error
	AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error
}

// Config holds ingestion limits
type Config struct {
	MaxUploadBytes int64
	JobTTL         time.Duration
	JobTimeout     time.Duration
	Thresholds     models.ConfidenceThresholds
	Columns        *ColumnConfig
}

// DefaultConfig returns the ingestion defaults
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes: 10 << 20,
		JobTTL:         time.Hour,
		JobTimeout:     5 * time.Minute,
		Thresholds:     models.DefaultThresholds(),
	}
}

// LedgerFilter narrows the ledger entries offered to the matcher
type LedgerFilter func(entries []models.LedgerTransaction) []models.LedgerTransaction

// CompletionFunc receives the records of every completed job
type CompletionFunc func(job *JobStatus, records []*models.MatchedTransaction)

// Service runs statement jobs
type Service struct {
	store   Store
	matcher Matcher
	parser  *Parser
	config  Config
	jobs    *cache.Cache
	logger  logger.Logger
	clock   func() time.Time

	mu           sync.Mutex
	wg           sync.WaitGroup
	onComplete   []CompletionFunc
	ledgerFilter LedgerFilter
}

// NewService creates an ingestion service. A nil matcher proposes no
// candidates.
func NewService(store Store, matcher Matcher, config Config) (*Service, error) {
	if store == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil)
	}
	if matcher == nil {
		matcher = NoCandidateMatcher{}
	}
	if err := config.Thresholds.Validate(); err != nil {
		return nil, err
	}
	parser, err := NewParser(config.Columns)
	if err != nil {
		return nil, err
	}
	if config.JobTTL <= 0 {
		config.JobTTL = DefaultConfig().JobTTL
	}

	return &Service{
		store:   store,
		matcher: matcher,
		parser:  parser,
		config:  config,
		jobs:    cache.New(config.JobTTL, 2*config.JobTTL),
		logger:  logger.GetGlobalLogger().WithComponent("ingest"),
		clock:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetLogger replaces the service logger
func (s *Service) SetLogger(log logger.Logger) {
	s.logger = log.WithComponent("ingest")
	s.parser.logger = log.WithComponent("statement_parser")
}

// OnComplete registers a callback for completed jobs
func (s *Service) OnComplete(fn CompletionFunc) {
	s.mu.Lock()
	s.onComplete = append(s.onComplete, fn)
	s.mu.Unlock()
}

// SetLedgerFilter installs fn in front of the matcher, e.g. to hide ledger
// entries that are already settled
func (s *Service) SetLedgerFilter(fn LedgerFilter) {
	s.mu.Lock()
	s.ledgerFilter = fn
	s.mu.Unlock()
}

// SubmitStatement checks the upload and processes it in the background.
// The job outlives ctx; only the values of ctx are kept.
func (s *Service) SubmitStatement(ctx context.Context, st Statement) (string, error) {
	format, err := s.precheck(st)
	if err != nil {
		return "", err
	}

	job := s.newJob(st, format)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runCtx := context.WithoutCancel(ctx)
		if s.config.JobTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.config.JobTimeout)
			defer cancel()
		}
		s.run(runCtx, job, st, format)
	}()
	return job.JobID, nil
}

// ProcessStatement runs a statement job inline and returns its final status
// and the created records.
func (s *Service) ProcessStatement(ctx context.Context, st Statement) (*JobStatus, []*models.MatchedTransaction, error) {
	format, err := s.precheck(st)
	if err != nil {
		return nil, nil, err
	}
	job := s.newJob(st, format)
	records, err := s.run(ctx, job, st, format)
	return s.snapshot(job), records, err
}

// PollJobStatus returns a copy of the job state
func (s *Service) PollJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.jobs.Get(jobID)
	if !ok {
		return nil, errors.NotFound("statement job", jobID)
	}
	return s.snapshot(v.(*JobStatus)), nil
}

// Wait blocks until every background job has finished
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) precheck(st Statement) (Format, error) {
	if strings.TrimSpace(st.Name) == "" {
		return "", errors.ValidationError(errors.CodeMissingField, "file", st.Name, nil)
	}
	if len(st.Data) == 0 {
		return "", errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
			WithSuggestion("ensure the statement contains a header row and data rows")
	}
	if s.config.MaxUploadBytes > 0 && int64(len(st.Data)) > s.config.MaxUploadBytes {
		return "", errors.FileError(errors.CodeFileTooLarge, st.Name, nil).
			WithContext("size", len(st.Data)).
			WithContext("limit", s.config.MaxUploadBytes)
	}
	return DetectFormat(st)
}

func (s *Service) newJob(st Statement, format Format) *JobStatus {
	job := &JobStatus{
		JobID:       uuid.NewString(),
		FileName:    st.Name,
		Uploader:    strings.TrimSpace(st.Uploader),
		Format:      format,
		Stage:       StageValidating,
		SubmittedAt: s.clock(),
	}
	s.jobs.SetDefault(job.JobID, job)
	return job
}

func (s *Service) snapshot(job *JobStatus) *JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return job.clone()
}

func (s *Service) update(job *JobStatus, fn func(*JobStatus)) {
	s.mu.Lock()
	fn(job)
	s.mu.Unlock()
}

func (s *Service) run(ctx context.Context, job *JobStatus, st Statement, format Format) ([]*models.MatchedTransaction, error) {
	op := logger.NewOperationLogger("statement_ingest", s.logger).WithFields(logger.Fields{
		"job_id": job.JobID,
		"file":   st.Name,
		"format": format,
	})

	fail := func(err error) ([]*models.MatchedTransaction, error) {
		s.update(job, func(j *JobStatus) {
			j.Error = err.Error()
			now := s.clock()
			j.CompletedAt = &now
		})
		op.Error(err, "Statement ingestion failed")
		return nil, err
	}

	op.Step(string(StageParsing))
	s.update(job, func(j *JobStatus) { j.Stage = StageParsing })
	bank, stats, rowErrs, err := s.parser.Parse(ctx, st, format)
	s.update(job, func(j *JobStatus) {
		j.Counts.Rows = stats.TotalRows
		j.Counts.Parsed = stats.RecordsValid
		j.Counts.Invalid = stats.Invalid
		if rowErrs != nil {
			j.RowErrors = rowErrs.Messages(20)
		}
	})
	if err != nil {
		return fail(err)
	}
	if len(bank) == 0 {
		return fail(errors.ValidationError(errors.CodeInvalidData, "file_content", st.Name, nil).
			WithSuggestion("the statement has no valid rows"))
	}
	if stats.Invalid > 0 {
		op.Warning(fmt.Sprintf("%d invalid rows skipped", stats.Invalid))
	}

	op.Step(string(StageMatching))
	s.update(job, func(j *JobStatus) { j.Stage = StageMatching })
	ledger, err := s.store.FetchLedgerEntries(ctx)
	if err != nil {
		return fail(collaboratorError("ledger", "fetch ledger entries", err))
	}
	s.mu.Lock()
	narrow := s.ledgerFilter
	s.mu.Unlock()
	if narrow != nil {
		ledger = narrow(ledger)
	}
	proposals, err := s.matcher.Match(ctx, bank, ledger)
	if err != nil {
		return fail(collaboratorError("matcher", "match statement", err))
	}
	if len(proposals) != len(bank) {
		return fail(errors.CollaboratorFailure(errors.CodeCollaboratorFailed, "matcher", "match statement",
			fmt.Errorf("expected %d proposals, got %d", len(bank), len(proposals))))
	}

	op.Step(string(StageFinalizing))
	s.update(job, func(j *JobStatus) { j.Stage = StageFinalizing })
	now := s.clock()
	records := make([]*models.MatchedTransaction, 0, len(bank))
	var counts Counts
	for i := range bank {
		rec, err := s.buildRecord(bank[i], proposals[i], now)
		if err != nil {
			return fail(err)
		}
		switch rec.Status {
		case models.StatusAutoMatched:
			counts.AutoMatched++
		case models.StatusReviewRequired:
			counts.ReviewRequired++
		default:
			counts.Exceptions++
		}
		records = append(records, rec)
	}
	if err := s.store.SaveMatches(ctx, records); err != nil {
		return fail(collaboratorError("ledger", "save matches", err))
	}

	var warning string
	entry := s.uploadAudit(st, job, len(records), now)
	if err := s.store.AppendAuditEntry(ctx, entry); err != nil {
		warning = fmt.Sprintf("audit entry not recorded: %v", err)
		op.Warning(warning)
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	s.update(job, func(j *JobStatus) {
		j.Stage = StageComplete
		j.Counts.AutoMatched = counts.AutoMatched
		j.Counts.ReviewRequired = counts.ReviewRequired
		j.Counts.Exceptions = counts.Exceptions
		j.RecordIDs = ids
		if warning != "" {
			j.Warnings = append(j.Warnings, warning)
		}
		done := s.clock()
		j.CompletedAt = &done
	})
	op.WithFields(logger.Fields{
		"records":         len(records),
		"auto_matched":    counts.AutoMatched,
		"review_required": counts.ReviewRequired,
		"exceptions":      counts.Exceptions,
	}).Success("Statement ingested")

	s.mu.Lock()
	callbacks := append([]CompletionFunc(nil), s.onComplete...)
	s.mu.Unlock()
	final := s.snapshot(job)
	for _, fn := range callbacks {
		copies := make([]*models.MatchedTransaction, len(records))
		for i, rec := range records {
			copies[i] = rec.Clone()
		}
		fn(final, copies)
	}
	return records, nil
}

func (s *Service) buildRecord(bank models.BankTransaction, p Proposal, now time.Time) (*models.MatchedTransaction, error) {
	status := p.Status
	if status == "" {
		status = models.StatusException
	}
	switch status {
	case models.StatusAutoMatched, models.StatusReviewRequired, models.StatusException:
	default:
		return nil, errors.ValidationError(errors.CodeUnrecognizedValue, "proposal.status", status, nil).
			WithSuggestion("new matches start in Auto-Matched, Review Required or Exception")
	}
	level, err := s.config.Thresholds.Bucket(p.Score)
	if err != nil {
		return nil, err
	}

	rec := &models.MatchedTransaction{
		ID:              fmt.Sprintf("TR-%s-%s", yearOf(bank.Date), shortID()),
		BankTransaction: bank,
		Status:          status,
		ConfidenceLevel: level,
		ConfidenceScore: p.Score,
		Notes:           strings.Join(p.Reasons, "; "),
	}
	if p.Ledger != nil {
		ledger := *p.Ledger
		rec.LedgerTransaction = &ledger
		if status == models.StatusAutoMatched {
			rec.MatchedBy = "AI System"
			t := now
			rec.MatchedDate = &t
		}
	}
	if err := rec.Validate(s.config.Thresholds); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) uploadAudit(st Statement, job *JobStatus, records int, now time.Time) *models.AuditLogEntry {
	actor, actorType := st.Uploader, models.ActorUser
	if strings.TrimSpace(actor) == "" {
		actor, actorType = "System", models.ActorSystem
	}
	return &models.AuditLogEntry{
		ID:          "AUD-" + uuid.NewString(),
		Timestamp:   now,
		Actor:       actor,
		ActorType:   actorType,
		Category:    models.CategoryUpload,
		Action:      models.ActionCreate,
		Severity:    models.SeverityInfo,
		Description: "Bank statement uploaded",
		Details:     fmt.Sprintf("%s - %d transactions", st.Name, records),
		AfterState: map[string]interface{}{
			"jobId":   job.JobID,
			"records": records,
		},
		IPAddress: st.IPAddress,
	}
}

func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return "0000"
}

func collaboratorError(service, operation string, err error) error {
	if errors.IsCollaboratorFailure(err) {
		return err
	}
	if re, ok := errors.AsReconcilerError(err); ok && re.Category == errors.CategoryValidation {
		return re
	}
	code := errors.CodeCollaboratorFailed
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.CodeTimeout
	}
	return errors.CollaboratorFailure(code, service, operation, err)
}
