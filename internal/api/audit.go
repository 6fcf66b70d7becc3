package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/internal/reporter"
	"reconciliation-workflow/pkg/errors"
)

var auditCSVHeader = []string{
	"ID", "Timestamp", "Actor", "Actor Type", "Category", "Action",
	"Severity", "Description", "Details", "IP Address",
}

// AuditLog returns the filtered audit trail, newest first
func (s *Server) AuditLog(c *gin.Context) {
	f, err := auditFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	entries, problems, err := s.workspace.AuditLog(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":  entries,
		"count":    len(entries),
		"warnings": warnings(problems),
	})
}

// ExportAudit downloads the filtered audit trail as csv (default) or json
func (s *Server) ExportAudit(c *gin.Context) {
	f, err := auditFilter(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	format := reporter.OutputFormat(strings.ToLower(c.DefaultQuery("format", string(reporter.FormatCSV))))
	if format != reporter.FormatCSV && format != reporter.FormatJSON {
		s.fail(c, errors.ValidationError(errors.CodeUnrecognizedValue, "format", format, nil).
			WithSuggestion("use csv or json"))
		return
	}

	entries, problems, err := s.workspace.AuditLog(c.Request.Context(), f)
	if err != nil {
		s.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if format == reporter.FormatJSON {
		err = json.NewEncoder(&buf).Encode(gin.H{"entries": entries, "count": len(entries)})
	} else {
		err = writeAuditCSV(&buf, entries)
	}
	if err != nil {
		s.fail(c, errors.InternalError(errors.CodeUnexpectedError, "render audit export", err))
		return
	}

	if len(problems) > 0 {
		c.Header("X-Filter-Warnings", strings.Join(warnings(problems), "; "))
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-%s.%s"`,
		s.clock().UTC().Format("20060102-150405"), format))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func writeAuditCSV(buf *bytes.Buffer, entries []*models.AuditLogEntry) error {
	w := csv.NewWriter(buf)
	if err := w.Write(auditCSVHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Actor,
			string(e.ActorType),
			string(e.Category),
			string(e.Action),
			string(e.Severity),
			e.Description,
			e.Details,
			e.IPAddress,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func auditFilter(c *gin.Context) (filter.AuditFilter, error) {
	q := filter.AuditQuery{
		Category:    c.QueryArray("category"),
		Action:      c.QueryArray("action"),
		Severity:    c.QueryArray("severity"),
		ActorType:   c.QueryArray("actorType"),
		DateFrom:    c.Query("dateFrom"),
		DateTo:      c.Query("dateTo"),
		SearchQuery: c.Query("q"),
	}
	return q.Build()
}
