// Package lifecycle moves matched transactions between review statuses.
//
// Machine is a pure reducer: it validates a command against the transition
// table and returns the next record state plus the audit entry describing
// it. Controller wraps the reducer with persistence so a local record only
// changes after the ledger service has confirmed the write.
package lifecycle

import (
	"fmt"
	"time"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
)

// rule describes one row of the transition table
type rule struct {
	from     []models.Status
	category models.AuditCategory
	action   models.AuditAction
	severity models.AuditSeverity
}

var reviewable = []models.Status{
	models.StatusAutoMatched,
	models.StatusReviewRequired,
	models.StatusException,
}

var nonTerminal = []models.Status{
	models.StatusAutoMatched,
	models.StatusReviewRequired,
	models.StatusException,
	models.StatusAccepted,
	models.StatusRejected,
	models.StatusRematched,
}

var rules = map[Action]rule{
	ActionApprove:   {from: reviewable, category: models.CategoryMatching, action: models.ActionApprove, severity: models.SeverityInfo},
	ActionReject:    {from: reviewable, category: models.CategoryMatching, action: models.ActionReject, severity: models.SeverityWarning},
	ActionReanalyze: {from: nonTerminal, category: models.CategoryMatching, action: models.ActionUpdate, severity: models.SeverityInfo},
	ActionReconcile: {from: []models.Status{models.StatusAccepted}, category: models.CategoryReconciliation, action: models.ActionUpdate, severity: models.SeverityInfo},
	ActionManualMatch: {
		from:     []models.Status{models.StatusReviewRequired, models.StatusException, models.StatusRematched, models.StatusRejected},
		category: models.CategoryMatching, action: models.ActionUpdate, severity: models.SeverityInfo,
	},
	ActionRematchResult: {from: []models.Status{models.StatusRematched}, category: models.CategoryMatching, action: models.ActionUpdate, severity: models.SeverityInfo},
}

// rematchTargets are the statuses the external matcher may assign
var rematchTargets = []models.Status{
	models.StatusAutoMatched,
	models.StatusReviewRequired,
	models.StatusException,
}

// Outcome is the result of a successful transition. Record is a fresh copy;
// the input record is never modified.
type Outcome struct {
	Record *models.MatchedTransaction
	Audit  *models.AuditLogEntry
}

// Machine applies the transition table
type Machine struct {
	thresholds models.ConfidenceThresholds
}

// NewMachine creates a machine that buckets proposal scores with thresholds
func NewMachine(thresholds models.ConfidenceThresholds) *Machine {
	return &Machine{thresholds: thresholds}
}

// Thresholds returns the confidence thresholds in use
func (m *Machine) Thresholds() models.ConfidenceThresholds {
	return m.thresholds
}

// AllowedActions lists the actions legal from status s, in table order
func AllowedActions(s models.Status) []Action {
	var out []Action
	for _, a := range AllActions {
		if isFrom(rules[a].from, s) {
			out = append(out, a)
		}
	}
	return out
}

// Check reports whether cmd could be applied to rec without computing the
// next state.
func (m *Machine) Check(rec *models.MatchedTransaction, cmd Command) error {
	_, err := m.Transition(rec, cmd, time.Time{})
	return err
}

// Transition computes the next state of rec under cmd at time now
func (m *Machine) Transition(rec *models.MatchedTransaction, cmd Command, now time.Time) (*Outcome, error) {
	if rec == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "record", nil, nil)
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if !rec.Status.IsValid() {
		return nil, errors.ValidationError(errors.CodeUnrecognizedValue, "status", rec.Status, nil)
	}

	r := rules[cmd.Action]
	if !isFrom(r.from, rec.Status) {
		return nil, errors.InvalidTransition(rec.ID, string(rec.Status), string(cmd.Action), "")
	}

	next := rec.Clone()
	severity := r.severity
	var details string

	switch cmd.Action {
	case ActionApprove, ActionReject:
		if rec.LedgerTransaction == nil {
			return nil, errors.InvalidTransition(rec.ID, string(rec.Status), string(cmd.Action),
				"no ledger candidate, attach one with a manual match first")
		}
		next.Status = models.StatusAccepted
		verb := "approved"
		if cmd.Action == ActionReject {
			next.Status = models.StatusRejected
			verb = "rejected"
		}
		stamp(next, cmd.Actor.Name, now)
		// an empty note keeps the earlier notes
		if cmd.Note != "" {
			next.Notes = cmd.Note
		}
		details = fmt.Sprintf("Transaction %s %s", rec.ID, verb)

	case ActionReanalyze:
		next.Status = models.StatusRematched
		next.MatchedBy = ""
		next.MatchedDate = nil
		details = fmt.Sprintf("Transaction %s sent for re-analysis", rec.ID)

	case ActionReconcile:
		next.Status = models.StatusReconciled
		t := now
		next.ReconciledAt = &t
		details = fmt.Sprintf("Transaction %s reconciled", rec.ID)

	case ActionManualMatch:
		p := cmd.Proposal
		if p.Ledger == nil {
			return nil, errors.ValidationError(errors.CodeMissingField, "ledgerTransaction", nil, nil).
				WithSuggestion("choose a ledger entry to match against")
		}
		if err := p.Ledger.Validate(); err != nil {
			return nil, err
		}
		level, err := m.thresholds.Bucket(p.Score)
		if err != nil {
			return nil, err
		}
		ledger := *p.Ledger
		next.LedgerTransaction = &ledger
		next.Status = models.StatusReviewRequired
		next.ConfidenceScore = p.Score
		next.ConfidenceLevel = level
		stamp(next, cmd.Actor.Name, now)
		if cmd.Note != "" {
			next.Notes = cmd.Note
		}
		details = fmt.Sprintf("Transaction %s manually matched to %s", rec.ID, ledger.ID)

	case ActionRematchResult:
		p := cmd.Proposal
		if !isFrom(rematchTargets, p.Status) {
			return nil, errors.ValidationError(errors.CodeUnrecognizedValue, "proposal.status", p.Status, nil).
				WithSuggestion("a re-match may land in Auto-Matched, Review Required or Exception")
		}
		if cmd.actorType() != models.ActorAI {
			return nil, errors.ValidationError(errors.CodeInconsistent, "actorType", cmd.actorType(), nil).
				WithSuggestion("re-match results come from the matching engine")
		}
		if p.Ledger == nil && !models.AllowsMissingLedger(p.Status) {
			return nil, errors.ValidationError(errors.CodeInconsistent, "ledgerTransaction", nil, nil).
				WithContext("status", p.Status)
		}
		level, err := m.thresholds.Bucket(p.Score)
		if err != nil {
			return nil, err
		}
		next.LedgerTransaction = nil
		if p.Ledger != nil {
			if err := p.Ledger.Validate(); err != nil {
				return nil, err
			}
			ledger := *p.Ledger
			next.LedgerTransaction = &ledger
		}
		next.Status = p.Status
		next.ConfidenceScore = p.Score
		next.ConfidenceLevel = level
		stamp(next, cmd.Actor.Name, now)
		if p.Status == models.StatusException {
			severity = models.SeverityWarning
		}
		details = fmt.Sprintf("Transaction %s re-matched as %s (%.1f%%)", rec.ID, p.Status, p.Score)
	}

	if cmd.Note != "" {
		details = fmt.Sprintf("%s: %s", details, cmd.Note)
	}
	next.Version = rec.Version + 1

	audit := &models.AuditLogEntry{
		Timestamp:   now,
		Actor:       cmd.Actor.Name,
		ActorType:   cmd.actorType(),
		Category:    r.category,
		Action:      r.action,
		Severity:    severity,
		Description: describe(cmd.Action),
		Details:     details,
		BeforeState: models.Snapshot(rec),
		AfterState:  models.Snapshot(next),
		IPAddress:   cmd.Actor.IPAddress,
	}
	audit.BeforeState["recordId"] = rec.ID
	audit.AfterState["recordId"] = rec.ID

	return &Outcome{Record: next, Audit: audit}, nil
}

func stamp(rec *models.MatchedTransaction, actor string, now time.Time) {
	t := now
	rec.MatchedBy = actor
	rec.MatchedDate = &t
}

func describe(a Action) string {
	switch a {
	case ActionApprove:
		return "Approved transaction match"
	case ActionReject:
		return "Rejected transaction match"
	case ActionReanalyze:
		return "Requested transaction re-analysis"
	case ActionReconcile:
		return "Reconciled transaction"
	case ActionManualMatch:
		return "Manually matched transaction"
	case ActionRematchResult:
		return "Applied re-match result"
	default:
		return string(a)
	}
}

func isFrom(statuses []models.Status, s models.Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
