package lifecycle

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"reconciliation-workflow/internal/ledger"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

const serviceName = "ledger"

// Store is the part of the ledger service the controller writes through
type Store interface {
	PersistTransition(ctx context.Context, req ledger.TransitionRequest) error
	AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error
}

// Controller applies commands to records with confirm-then-commit
// semantics: the caller's record is only replaced after the store accepted
// the conditional write.
type Controller struct {
	machine *Machine
	store   Store
	timeout time.Duration
	clock   func() time.Time
	newID   func() string
	log     logger.Logger

	mu      sync.Mutex
	pending []*models.AuditLogEntry
}

// Option configures a Controller
type Option func(*Controller)

// WithTimeout bounds every store call
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

// WithClock replaces time.Now
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithIDGenerator replaces the audit entry id generator
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

// WithLogger sets the controller logger
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// NewController creates a controller writing through store
func NewController(machine *Machine, store Store, opts ...Option) *Controller {
	c := &Controller{
		machine: machine,
		store:   store,
		timeout: 10 * time.Second,
		clock:   func() time.Time { return time.Now().UTC() },
		newID:   func() string { return "AUD-" + uuid.NewString() },
		log:     logger.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithComponent("lifecycle")
	return c
}

// Machine returns the underlying transition table
func (c *Controller) Machine() *Machine {
	return c.machine
}

// Apply runs cmd against rec. On success rec is replaced in place with the
// next state and the recorded audit entry is returned.
//
// If the store rejects the write, rec is left untouched. If the write
// succeeds but the audit append fails, rec is still committed, the entry is
// queued for FlushPendingAudit and a collaborator error is returned together
// with the entry.
//
// The caller must serialize calls for the same record.
func (c *Controller) Apply(ctx context.Context, rec *models.MatchedTransaction, cmd Command) (*models.AuditLogEntry, error) {
	outcome, err := c.machine.Transition(rec, cmd, c.clock())
	if err != nil {
		return nil, err
	}
	outcome.Record.IsSelected = false
	outcome.Audit.ID = c.newID()

	log := c.log.WithFields(logger.Fields{
		"record_id": rec.ID,
		"action":    cmd.Action,
		"actor":     cmd.Actor.Name,
	})

	req := ledger.TransitionRequest{
		ID:              rec.ID,
		ExpectedVersion: rec.Version,
		ExpectedStatus:  rec.Status,
		Record:          outcome.Record,
	}
	if err := c.call(ctx, func(ctx context.Context) error { return c.store.PersistTransition(ctx, req) }); err != nil {
		err = storeError("persist transition", err)
		log.WithError(err).Warn("Transition not persisted, record unchanged")
		return nil, err
	}

	auditErr := c.call(ctx, func(ctx context.Context) error { return c.store.AppendAuditEntry(ctx, outcome.Audit) })

	from := rec.Status
	*rec = *outcome.Record

	if auditErr != nil {
		c.queue(outcome.Audit)
		err := auditError(auditErr).
			WithSuggestion("the transition was saved; the audit entry is queued for retry").
			WithContext("audit_id", outcome.Audit.ID)
		log.WithError(err).Error("Audit entry not recorded")
		return outcome.Audit, err
	}

	log.WithFields(logger.Fields{"from": from, "to": rec.Status, "version": rec.Version}).Info("Transition applied")
	return outcome.Audit, nil
}

// PendingAudit returns the audit entries still waiting to be recorded
func (c *Controller) PendingAudit() []*models.AuditLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.AuditLogEntry, len(c.pending))
	copy(out, c.pending)
	return out
}

// FlushPendingAudit retries queued audit entries in order and stops at the
// first failure. It returns how many entries were recorded.
func (c *Controller) FlushPendingAudit(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	flushed := 0
	for len(c.pending) > 0 {
		entry := c.pending[0]
		if err := c.call(ctx, func(ctx context.Context) error { return c.store.AppendAuditEntry(ctx, entry) }); err != nil {
			return flushed, auditError(err)
		}
		c.pending = c.pending[1:]
		flushed++
	}
	if flushed > 0 {
		c.log.WithField("count", flushed).Info("Flushed pending audit entries")
	}
	return flushed, nil
}

func (c *Controller) queue(entry *models.AuditLogEntry) {
	c.mu.Lock()
	c.pending = append(c.pending, entry)
	c.mu.Unlock()
}

func (c *Controller) call(ctx context.Context, fn func(context.Context) error) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return fn(ctx)
}

// storeError passes lifecycle and validation errors through and reports
// everything else as a ledger failure.
func storeError(operation string, err error) *errors.ReconcilerError {
	if re, ok := errors.AsReconcilerError(err); ok {
		switch re.Category {
		case errors.CategoryLifecycle, errors.CategoryValidation, errors.CategoryCollaborator:
			return re
		}
	}
	code := errors.CodeCollaboratorFailed
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.CodeTimeout
	}
	return errors.CollaboratorFailure(code, serviceName, operation, err)
}

// auditError reports a failed append as a ledger failure
func auditError(err error) *errors.ReconcilerError {
	if errors.IsCollaboratorFailure(err) {
		re, _ := errors.AsReconcilerError(err)
		return re
	}
	code := errors.CodeCollaboratorFailed
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.CodeTimeout
	}
	return errors.CollaboratorFailure(code, serviceName, "append audit entry", err)
}
