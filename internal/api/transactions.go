package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/lifecycle"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/internal/reporter"
	"reconciliation-workflow/pkg/errors"
)

// actionRequest is the body of single-record and batch actions
type actionRequest struct {
	Actor     string           `json:"actor"`
	ActorType models.ActorType `json:"actorType"`
	Note      string           `json:"note"`
	// Manual match
	LedgerID        string   `json:"ledgerId"`
	ConfidenceScore *float64 `json:"confidenceScore"`
	// Batch targets; empty means the current selection
	IDs []string `json:"ids"`
}

type selectionRequest struct {
	IDs         []string `json:"ids"`
	Selected    bool     `json:"selected"`
	AllAccepted bool     `json:"allAccepted"`
}

// Dashboard returns the dashboard statistics
func (s *Server) Dashboard(c *gin.Context) {
	c.JSON(http.StatusOK, s.workspace.Dashboard())
}

// Reconciliation returns the accepted records awaiting reconciliation
func (s *Server) Reconciliation(c *gin.Context) {
	c.JSON(http.StatusOK, s.workspace.Reconciliation())
}

// ListTransactions returns the records passing the query filter
func (s *Server) ListTransactions(c *gin.Context) {
	f, err := transactionFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	records, problems := s.workspace.Transactions(f)
	c.JSON(http.StatusOK, gin.H{
		"transactions": records,
		"count":        len(records),
		"warnings":     warnings(problems),
	})
}

// ExportTransactions renders the filtered view as console text, JSON or CSV
func (s *Server) ExportTransactions(c *gin.Context) {
	f, err := transactionFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	format := reporter.OutputFormat(strings.ToLower(c.DefaultQuery("format", string(reporter.FormatCSV))))
	if !format.IsValid() {
		s.fail(c, errors.ValidationError(errors.CodeUnrecognizedValue, "format", format, nil).
			WithSuggestion("use console, json or csv"))
		return
	}

	config := s.report
	config.Format = format
	generator, err := reporter.NewSafeReportGenerator(&config, s.logger)
	if err != nil {
		s.fail(c, err)
		return
	}

	records, problems := s.workspace.Transactions(f)
	report := reporter.NewReport(records, f, s.clock())
	var buf bytes.Buffer
	if err := generator.GenerateReportSafely(report, &buf); err != nil {
		s.fail(c, err)
		return
	}

	if len(problems) > 0 {
		c.Header("X-Filter-Warnings", strings.Join(warnings(problems), "; "))
	}
	if format == reporter.FormatCSV {
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="transactions-%s.csv"`, report.GeneratedAt.Format("20060102-150405")))
	}
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

// GetTransaction returns one record
func (s *Server) GetTransaction(c *gin.Context) {
	rec, err := s.workspace.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// LedgerCandidates lists ledger entries available for a manual match
func (s *Server) LedgerCandidates(c *gin.Context) {
	if _, err := s.workspace.Get(c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	candidates, err := s.workspace.LedgerCandidates(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// TransactionAction runs approve, reject, reanalyze, reconcile or match on
// one record
func (s *Server) TransactionAction(c *gin.Context) {
	action, err := lifecycle.ParseAction(c.Param("action"))
	if err != nil {
		s.fail(c, err)
		return
	}
	req, err := bindAction(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	actor := actorFrom(c, req)
	id := c.Param("id")
	ctx := c.Request.Context()

	var (
		rec     *models.MatchedTransaction
		entries []*models.AuditLogEntry
	)
	switch action {
	case lifecycle.ActionReanalyze:
		rec, entries, err = s.workspace.Reanalyze(ctx, id, actor, req.Note)
	case lifecycle.ActionManualMatch:
		if strings.TrimSpace(req.LedgerID) == "" {
			s.fail(c, errors.ValidationError(errors.CodeMissingField, "ledgerId", req.LedgerID, nil))
			return
		}
		if req.ConfidenceScore == nil {
			s.fail(c, errors.ValidationError(errors.CodeMissingField, "confidenceScore", nil, nil))
			return
		}
		var entry *models.AuditLogEntry
		rec, entry, err = s.workspace.ManualMatch(ctx, id, req.LedgerID, *req.ConfidenceScore, actor, req.Note)
		entries = appendEntry(entries, entry)
	case lifecycle.ActionRematchResult:
		s.fail(c, errors.ValidationError(errors.CodeUnrecognizedValue, "action", action, nil).
			WithSuggestion("re-match results are applied by the matching engine; use reanalyze"))
		return
	default:
		var entry *models.AuditLogEntry
		rec, entry, err = s.workspace.Apply(ctx, id, lifecycle.Command{Action: action, Actor: actor, Note: req.Note})
		entries = appendEntry(entries, entry)
	}

	if rec == nil {
		s.fail(c, err)
		return
	}
	body := gin.H{"transaction": rec, "audit": entries}
	if err != nil {
		// saved, but the audit trail or the re-match lagged behind
		_ = c.Error(err)
		body["warnings"] = []string{err.Error()}
	}
	c.JSON(http.StatusOK, body)
}

// Select toggles the selection flag of records
func (s *Server) Select(c *gin.Context) {
	var req selectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.ValidationError(errors.CodeInvalidData, "body", nil, err))
		return
	}
	var changed int
	if req.AllAccepted {
		changed = s.workspace.SelectAllAccepted(req.Selected)
	} else {
		if len(req.IDs) == 0 {
			s.fail(c, errors.ValidationError(errors.CodeMissingField, "ids", nil, nil).
				WithSuggestion("pass ids or set allAccepted"))
			return
		}
		var err error
		if changed, err = s.workspace.Select(req.IDs, req.Selected); err != nil {
			s.fail(c, err)
			return
		}
	}
	view := s.workspace.Reconciliation()
	c.JSON(http.StatusOK, gin.H{
		"changed":        changed,
		"selected":       view.Selected,
		"selectedAmount": view.SelectedAmount,
	})
}

// Batch applies one action to the selected records, or to the ids in the body
func (s *Server) Batch(c *gin.Context) {
	action, err := lifecycle.ParseAction(c.Param("action"))
	if err != nil {
		s.fail(c, err)
		return
	}
	switch action {
	case lifecycle.ActionManualMatch, lifecycle.ActionRematchResult:
		s.fail(c, errors.ValidationError(errors.CodeUnrecognizedValue, "action", action, nil).
			WithSuggestion("batches support approve, reject, reanalyze and reconcile"))
		return
	}
	req, err := bindAction(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	cmd := lifecycle.Command{Action: action, Actor: actorFrom(c, req), Note: req.Note}
	result, err := s.workspace.Batch(c.Request.Context(), cmd, req.IDs...)
	if result == nil {
		s.fail(c, err)
		return
	}
	body := gin.H{
		"selected": result.Selected,
		"changed":  result.Changed,
		"skipped":  result.Skipped,
		"audit":    result.Audit,
		"warnings": result.Warnings,
	}
	status := http.StatusOK
	if err != nil {
		_ = c.Error(err)
		status = statusFor(err)
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}

func transactionFilter(c *gin.Context) (filter.TransactionFilter, error) {
	q := filter.TransactionQuery{
		Status:      c.QueryArray("status"),
		Confidence:  c.QueryArray("confidence"),
		DateFrom:    c.Query("dateFrom"),
		DateTo:      c.Query("dateTo"),
		AmountMin:   c.Query("amountMin"),
		AmountMax:   c.Query("amountMax"),
		SearchQuery: c.Query("q"),
	}
	return q.Build()
}

// bindAction reads an optional JSON body
func bindAction(c *gin.Context) (actionRequest, error) {
	var req actionRequest
	if c.Request.ContentLength == 0 {
		return req, nil
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return req, errors.ValidationError(errors.CodeInvalidData, "body", nil, err)
	}
	return req, nil
}

// actorFrom takes the actor from the body, falling back to the X-Actor header
func actorFrom(c *gin.Context, req actionRequest) lifecycle.Actor {
	name := strings.TrimSpace(req.Actor)
	if name == "" {
		name = strings.TrimSpace(c.GetHeader(actorHeader))
	}
	return lifecycle.Actor{Name: name, Type: req.ActorType, IPAddress: c.ClientIP()}
}

func appendEntry(entries []*models.AuditLogEntry, entry *models.AuditLogEntry) []*models.AuditLogEntry {
	if entry == nil {
		return entries
	}
	return append(entries, entry)
}
