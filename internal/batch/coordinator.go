// Package batch applies one lifecycle action to a selection of matched
// transactions with per-record isolation.
//
// A record that cannot take the action is skipped with a reason; it never
// blocks the rest of the selection. Only records that actually changed have
// their selection flag cleared.
//
// Example usage:
//
//	coordinator := batch.NewCoordinator(controller)
//	result, err := coordinator.Apply(ctx, records, batch.Selected, cmd)
//	fmt.Printf("changed %d, skipped %d\n", result.Changed, len(result.Skipped))
package batch

import (
	"context"
	"fmt"

	"reconciliation-workflow/internal/lifecycle"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// Predicate decides whether a record takes part in the batch
type Predicate func(*models.MatchedTransaction) bool

// Selected picks records whose isSelected flag is set
func Selected(rec *models.MatchedTransaction) bool {
	return rec.IsSelected
}

// ByIDs picks records with the given ids
func ByIDs(ids ...string) Predicate {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(rec *models.MatchedTransaction) bool { return set[rec.ID] }
}

// Applier runs one command against one record
type Applier interface {
	Apply(ctx context.Context, rec *models.MatchedTransaction, cmd lifecycle.Command) (*models.AuditLogEntry, error)
}

// Skip explains why a selected record was left unchanged
type Skip struct {
	ID     string           `json:"id"`
	Reason string           `json:"reason"`
	Code   errors.ErrorCode `json:"code"`
}

// Result is the outcome of a batch
type Result struct {
	// Records is the full input collection as copies, with changes applied
	Records  []*models.MatchedTransaction `json:"records"`
	Selected int                          `json:"selected"`
	Changed  int                          `json:"changed"`
	Skipped  []Skip                       `json:"skipped"`
	Audit    []*models.AuditLogEntry      `json:"audit"`
	// Warnings lists records that changed but whose audit entry is still pending
	Warnings []string `json:"warnings,omitempty"`
}

// Progress reports how far a batch has got
type Progress struct {
	Action    lifecycle.Action `json:"action"`
	Processed int              `json:"processed"`
	Total     int              `json:"total"`
	Changed   int              `json:"changed"`
	Skipped   int              `json:"skipped"`
}

// ProgressCallback is called after every selected record
type ProgressCallback func(Progress)

// Coordinator runs batches through an Applier
type Coordinator struct {
	applier   Applier
	logger    logger.Logger
	callbacks []ProgressCallback
}

// NewCoordinator creates a coordinator over applier
func NewCoordinator(applier Applier) *Coordinator {
	return &Coordinator{
		applier: applier,
		logger:  logger.GetGlobalLogger().WithComponent("batch"),
	}
}

// SetLogger replaces the coordinator logger
func (c *Coordinator) SetLogger(log logger.Logger) {
	c.logger = log.WithComponent("batch")
}

// AddProgressCallback registers a progress callback
func (c *Coordinator) AddProgressCallback(callback ProgressCallback) {
	c.callbacks = append(c.callbacks, callback)
}

// Apply runs cmd against every record matching selected, in input order.
// The input slice and its records are not modified. If ctx is canceled the
// remaining selected records are skipped and the partial result is returned
// with the context error.
func (c *Coordinator) Apply(ctx context.Context, records []*models.MatchedTransaction, selected Predicate, cmd lifecycle.Command) (*Result, error) {
	if selected == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "selection", nil, nil)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	result := &Result{
		Records: make([]*models.MatchedTransaction, len(records)),
		Skipped: []Skip{},
		Audit:   []*models.AuditLogEntry{},
	}
	var targets []int
	for i, rec := range records {
		result.Records[i] = rec.Clone()
		if rec != nil && selected(rec) {
			targets = append(targets, i)
		}
	}
	result.Selected = len(targets)

	log := c.logger.WithFields(logger.Fields{
		"action":   cmd.Action,
		"actor":    cmd.Actor.Name,
		"selected": len(targets),
	})
	log.Info("Starting batch")

	var ctxErr error
	for n, i := range targets {
		rec := result.Records[i]

		if ctxErr == nil {
			ctxErr = ctx.Err()
		}
		if ctxErr != nil {
			result.Skipped = append(result.Skipped, Skip{ID: rec.ID, Reason: ctxErr.Error(), Code: errors.CodeTimeout})
			c.report(cmd.Action, n+1, len(targets), result)
			continue
		}

		entry, err := c.applier.Apply(ctx, rec, cmd)
		switch {
		case err == nil:
			result.Changed++
			result.Audit = append(result.Audit, entry)
		case entry != nil:
			// committed, audit still pending
			result.Changed++
			result.Audit = append(result.Audit, entry)
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", rec.ID, err))
		default:
			result.Skipped = append(result.Skipped, skipFor(rec.ID, err))
			skipLog := log.WithField("record_id", rec.ID).WithError(err)
			if errors.IsInvalidTransition(err) {
				skipLog.Debug("Record skipped")
			} else {
				skipLog.Warn("Record skipped")
			}
		}
		c.report(cmd.Action, n+1, len(targets), result)
	}

	log.WithFields(logger.Fields{
		"changed": result.Changed,
		"skipped": len(result.Skipped),
	}).Info("Batch completed")

	return result, ctxErr
}

func (c *Coordinator) report(action lifecycle.Action, processed, total int, result *Result) {
	if len(c.callbacks) == 0 {
		return
	}
	p := Progress{
		Action:    action,
		Processed: processed,
		Total:     total,
		Changed:   result.Changed,
		Skipped:   len(result.Skipped),
	}
	for _, callback := range c.callbacks {
		callback(p)
	}
}

func skipFor(id string, err error) Skip {
	if re, ok := errors.AsReconcilerError(err); ok {
		return Skip{ID: id, Reason: re.Message, Code: re.Code}
	}
	return Skip{ID: id, Reason: err.Error(), Code: errors.CodeUnexpectedError}
}
