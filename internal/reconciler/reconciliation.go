// Package reconciler holds the review workspace: the ordered collection of
// matched transactions a reviewer works through, with the lifecycle
// controller and batch coordinator wired to the ledger service.
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"reconciliation-workflow/internal/batch"
	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/ingest"
	"reconciliation-workflow/internal/ledger"
	"reconciliation-workflow/internal/lifecycle"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// MatchingEngineActor is the actor recorded on re-match results
const MatchingEngineActor = "AI Matching Engine"

// Config holds configuration options for the reconciliation service
type Config struct {
	Thresholds models.ConfidenceThresholds
	// CollaboratorTimeout bounds every ledger call made for a transition
	CollaboratorTimeout time.Duration
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Thresholds:          models.DefaultThresholds(),
		CollaboratorTimeout: 10 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.CollaboratorTimeout < 0 {
		return fmt.Errorf("collaborator timeout cannot be negative, got %s", c.CollaboratorTimeout)
	}
	return nil
}

// ReconciliationService owns the in-memory view of matched transactions.
// All reads return copies. Mutations go through the lifecycle controller,
// so the view only changes after the ledger service confirmed the write.
type ReconciliationService struct {
	store       ledger.Service
	controller  *lifecycle.Controller
	coordinator *batch.Coordinator
	rematcher   ingest.Matcher
	config      *Config
	logger      logger.Logger

	mu      sync.RWMutex
	records []*models.MatchedTransaction
	index   map[string]int
}

// Option configures the service
type Option func(*options)

type options struct {
	logger    logger.Logger
	clock     func() time.Time
	rematcher ingest.Matcher
}

// WithLogger sets the logger shared by the service, controller and coordinator
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithClock replaces time.Now for transitions
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithRematcher makes Reanalyze ask matcher for a fresh proposal
func WithRematcher(matcher ingest.Matcher) Option {
	return func(o *options) { o.rematcher = matcher }
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(store ledger.Service, config *Config, opts ...Option) (*ReconciliationService, error) {
	if store == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "store", nil, nil)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config, err)
	}

	o := options{logger: logger.GetGlobalLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	ctrlOpts := []lifecycle.Option{
		lifecycle.WithTimeout(config.CollaboratorTimeout),
		lifecycle.WithLogger(o.logger),
	}
	if o.clock != nil {
		ctrlOpts = append(ctrlOpts, lifecycle.WithClock(o.clock))
	}
	controller := lifecycle.NewController(lifecycle.NewMachine(config.Thresholds), store, ctrlOpts...)
	coordinator := batch.NewCoordinator(controller)
	coordinator.SetLogger(o.logger)

	return &ReconciliationService{
		store:       store,
		controller:  controller,
		coordinator: coordinator,
		rematcher:   o.rematcher,
		config:      config,
		logger:      o.logger.WithComponent("reconciler"),
		index:       make(map[string]int),
	}, nil
}

// Controller returns the lifecycle controller
func (rs *ReconciliationService) Controller() *lifecycle.Controller {
	return rs.controller
}

// Coordinator returns the batch coordinator, e.g. to add progress callbacks
func (rs *ReconciliationService) Coordinator() *batch.Coordinator {
	return rs.coordinator
}

// GetConfiguration returns the current configuration
func (rs *ReconciliationService) GetConfiguration() *Config {
	return rs.config
}

// Load replaces the view with the records held by the ledger service.
// Selection flags survive for records that are still present.
func (rs *ReconciliationService) Load(ctx context.Context) error {
	records, err := rs.store.FetchMatchedTransactions(ctx)
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryCollaborator, errors.CodeCollaboratorFailed,
			"failed to fetch matched transactions")
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	selected := make(map[string]bool)
	for _, rec := range rs.records {
		if rec.IsSelected {
			selected[rec.ID] = true
		}
	}
	rs.records = rs.records[:0]
	rs.index = make(map[string]int, len(records))
	for _, rec := range records {
		if _, dup := rs.index[rec.ID]; dup {
			continue
		}
		rec.IsSelected = selected[rec.ID]
		rs.index[rec.ID] = len(rs.records)
		rs.records = append(rs.records, rec)
	}
	rs.logger.WithField("records", len(rs.records)).Info("Transactions loaded")
	return nil
}

// AddRecords appends newly ingested records, skipping ids already present.
// It returns how many were added.
func (rs *ReconciliationService) AddRecords(records []*models.MatchedTransaction) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	added := 0
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if _, exists := rs.index[rec.ID]; exists {
			continue
		}
		c := rec.Clone()
		c.IsSelected = false
		rs.index[c.ID] = len(rs.records)
		rs.records = append(rs.records, c)
		added++
	}
	return added
}

// Transactions returns the records passing f in display order. Discarded
// filter bounds are returned so callers can surface them.
func (rs *ReconciliationService) Transactions(f filter.TransactionFilter) ([]*models.MatchedTransaction, []*errors.ReconcilerError) {
	normalized, problems := f.Normalize()
	for _, p := range problems {
		rs.logger.WithError(p).Warn("Ignoring invalid transaction filter bound")
	}

	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return cloneAll(filter.ApplyTransactions(rs.records, normalized)), problems
}

// Get returns a copy of one record
func (rs *ReconciliationService) Get(id string) (*models.MatchedTransaction, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	i, ok := rs.index[id]
	if !ok {
		return nil, errors.NotFound("transaction", id)
	}
	return rs.records[i].Clone(), nil
}

// Apply runs one lifecycle command against the record with the given id.
// The updated record is returned together with the audit entry. When the
// transition was saved but the audit entry is still pending, both are
// returned along with the error.
func (rs *ReconciliationService) Apply(ctx context.Context, id string, cmd lifecycle.Command) (*models.MatchedTransaction, *models.AuditLogEntry, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.applyLocked(ctx, id, cmd)
}

func (rs *ReconciliationService) applyLocked(ctx context.Context, id string, cmd lifecycle.Command) (*models.MatchedTransaction, *models.AuditLogEntry, error) {
	i, ok := rs.index[id]
	if !ok {
		return nil, nil, errors.NotFound("transaction", id)
	}
	working := rs.records[i].Clone()
	entry, err := rs.controller.Apply(ctx, working, cmd)
	if entry != nil {
		rs.records[i] = working
		return working.Clone(), entry, err
	}
	return nil, nil, err
}

// ManualMatch attaches the ledger entry ledgerID to the record and sends it
// back to review with the reviewer's confidence score.
func (rs *ReconciliationService) ManualMatch(ctx context.Context, id, ledgerID string, score float64, actor lifecycle.Actor, note string) (*models.MatchedTransaction, *models.AuditLogEntry, error) {
	entries, err := rs.store.FetchLedgerEntries(ctx)
	if err != nil {
		return nil, nil, errors.WrapIfNeeded(err, errors.CategoryCollaborator, errors.CodeCollaboratorFailed,
			"failed to fetch ledger entries")
	}
	var chosen *models.LedgerTransaction
	for i := range entries {
		if entries[i].ID == ledgerID {
			chosen = &entries[i]
			break
		}
	}
	if chosen == nil {
		return nil, nil, errors.NotFound("ledger entry", ledgerID)
	}

	return rs.Apply(ctx, id, lifecycle.Command{
		Action:   lifecycle.ActionManualMatch,
		Actor:    actor,
		Note:     note,
		Proposal: &lifecycle.Proposal{Ledger: chosen, Score: score},
	})
}

// LedgerCandidates lists ledger entries not yet held by an accepted or
// reconciled record.
func (rs *ReconciliationService) LedgerCandidates(ctx context.Context) ([]models.LedgerTransaction, error) {
	entries, err := rs.store.FetchLedgerEntries(ctx)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryCollaborator, errors.CodeCollaboratorFailed,
			"failed to fetch ledger entries")
	}
	return rs.AvailableLedger(entries), nil
}

// AvailableLedger drops the entries already held by an accepted or
// reconciled record. Statement ingestion uses it as its ledger filter.
func (rs *ReconciliationService) AvailableLedger(entries []models.LedgerTransaction) []models.LedgerTransaction {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.availableLocked(entries)
}

func (rs *ReconciliationService) availableLocked(entries []models.LedgerTransaction) []models.LedgerTransaction {
	held := make(map[string]bool)
	for _, rec := range rs.records {
		if rec.HasLedger() && (rec.Status == models.StatusAccepted || rec.Status == models.StatusReconciled) {
			held[rec.LedgerTransaction.ID] = true
		}
	}
	out := make([]models.LedgerTransaction, 0, len(entries))
	for _, e := range entries {
		if !held[e.ID] {
			out = append(out, e)
		}
	}
	return out
}

// Reanalyze sends the record back to the matching engine. With a rematcher
// configured the new proposal is applied straight away; otherwise the
// record waits in Rematched for an external result.
func (rs *ReconciliationService) Reanalyze(ctx context.Context, id string, actor lifecycle.Actor, note string) (*models.MatchedTransaction, []*models.AuditLogEntry, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rec, entry, err := rs.applyLocked(ctx, id, lifecycle.Command{Action: lifecycle.ActionReanalyze, Actor: actor, Note: note})
	if entry == nil {
		return nil, nil, err
	}
	entries := []*models.AuditLogEntry{entry}
	if err != nil || rs.rematcher == nil {
		return rec, entries, err
	}

	proposal, err := rs.rematch(ctx, rec)
	if err != nil {
		rs.logger.WithField("record_id", id).WithError(err).Warn("Re-match failed, record stays in Rematched")
		return rec, entries, err
	}
	next, entry, err := rs.applyLocked(ctx, id, lifecycle.Command{
		Action:   lifecycle.ActionRematchResult,
		Actor:    lifecycle.Actor{Name: MatchingEngineActor, Type: models.ActorAI},
		Note:     strings.Join(proposal.Reasons, "; "),
		Proposal: &lifecycle.Proposal{Ledger: proposal.Ledger, Score: proposal.Score, Status: proposal.Status},
	})
	if entry == nil {
		return rec, entries, err
	}
	return next, append(entries, entry), err
}

func (rs *ReconciliationService) rematch(ctx context.Context, rec *models.MatchedTransaction) (*ingest.Proposal, error) {
	entries, err := rs.store.FetchLedgerEntries(ctx)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryCollaborator, errors.CodeCollaboratorFailed,
			"failed to fetch ledger entries")
	}
	// caller holds rs.mu
	proposals, err := rs.rematcher.Match(ctx, []models.BankTransaction{rec.BankTransaction}, rs.availableLocked(entries))
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryCollaborator, errors.CodeCollaboratorFailed, "re-match failed")
	}
	if len(proposals) != 1 {
		return nil, errors.CollaboratorFailure(errors.CodeCollaboratorFailed, "matcher", "re-match",
			fmt.Errorf("expected 1 proposal, got %d", len(proposals)))
	}
	p := proposals[0]
	if p.Status == "" {
		p.Status = models.StatusException
	}
	return &p, nil
}

// Select sets the selection flag on the given records. Unknown ids fail
// the whole call. It returns how many flags changed.
func (rs *ReconciliationService) Select(ids []string, selected bool) (int, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, id := range ids {
		if _, ok := rs.index[id]; !ok {
			return 0, errors.NotFound("transaction", id)
		}
	}
	changed := 0
	for _, id := range ids {
		rec := rs.records[rs.index[id]]
		if rec.IsSelected != selected {
			rec.IsSelected = selected
			changed++
		}
	}
	return changed, nil
}

// SelectAllAccepted sets the selection flag on every Accepted record
func (rs *ReconciliationService) SelectAllAccepted(selected bool) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	changed := 0
	for _, rec := range rs.records {
		if rec.Status == models.StatusAccepted && rec.IsSelected != selected {
			rec.IsSelected = selected
			changed++
		}
	}
	return changed
}

// Batch applies cmd to the given ids, or to the selected records when ids
// is empty, and replaces the view with the batch result.
func (rs *ReconciliationService) Batch(ctx context.Context, cmd lifecycle.Command, ids ...string) (*batch.Result, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	selector := batch.Selected
	if len(ids) > 0 {
		selector = batch.ByIDs(ids...)
	}
	result, err := rs.coordinator.Apply(ctx, rs.records, selector, cmd)
	if result == nil {
		return nil, err
	}
	rs.records = result.Records
	result.Records = cloneAll(result.Records)
	return result, err
}

// AuditLog returns the audit trail, newest first, filtered by f
func (rs *ReconciliationService) AuditLog(ctx context.Context, f filter.AuditFilter) ([]*models.AuditLogEntry, []*errors.ReconcilerError, error) {
	normalized, problems := f.Normalize()
	for _, p := range problems {
		rs.logger.WithError(p).Warn("Ignoring invalid audit filter bound")
	}
	entries, err := rs.store.FetchAuditLog(ctx, normalized)
	if err != nil {
		return nil, problems, errors.WrapIfNeeded(err, errors.CategoryCollaborator, errors.CodeCollaboratorFailed,
			"failed to fetch audit log")
	}
	return entries, problems, nil
}

// FlushPendingAudit retries audit entries that could not be recorded
func (rs *ReconciliationService) FlushPendingAudit(ctx context.Context) (int, error) {
	return rs.controller.FlushPendingAudit(ctx)
}

func cloneAll(records []*models.MatchedTransaction) []*models.MatchedTransaction {
	out := make([]*models.MatchedTransaction, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
