package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"reconciliation-workflow/internal/ingest"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
	"reconciliation-workflow/pkg/logger"
)

// UploadStatement accepts a multipart "file" and starts a statement job
func (s *Server) UploadStatement(c *gin.Context) {
	if s.ingest == nil {
		s.fail(c, errors.CollaboratorFailure(errors.CodeServiceUnavailable, "ingest", "upload statement", nil))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes+(1<<20))

	header, err := c.FormFile("file")
	if err != nil {
		s.fail(c, errors.ValidationError(errors.CodeMissingField, "file", nil, err).
			WithSuggestion("send the statement as multipart form field \"file\""))
		return
	}
	if header.Size > s.config.MaxUploadBytes {
		s.fail(c, errors.FileError(errors.CodeFileTooLarge, header.Filename, nil).
			WithContext("size", header.Size).
			WithContext("limit", s.config.MaxUploadBytes))
		return
	}
	file, err := header.Open()
	if err != nil {
		s.fail(c, errors.FileError(errors.CodeFileCorrupted, header.Filename, err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(c, errors.FileError(errors.CodeFileCorrupted, header.Filename, err))
		return
	}

	uploader := strings.TrimSpace(c.PostForm("uploader"))
	if uploader == "" {
		uploader = strings.TrimSpace(c.GetHeader(actorHeader))
	}
	jobID, err := s.ingest.SubmitStatement(c.Request.Context(), ingest.Statement{
		Name:      header.Filename,
		Data:      data,
		Uploader:  uploader,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
}

// StatementJob reports the progress of a statement job
func (s *Server) StatementJob(c *gin.Context) {
	if s.ingest == nil {
		s.fail(c, errors.NotFound("statement job", c.Param("jobId")))
		return
	}
	job, err := s.ingest.PollJobStatus(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// notifyUpload tells the uploader, or the configured recipients when the
// job names none, how a completed statement job went
func (s *Server) notifyUpload(ctx context.Context, job *ingest.JobStatus, added int) {
	users := s.recipients
	if job.Uploader != "" {
		users = []string{job.Uploader}
	}
	items := []models.NotificationItem{{
		Title:   "Upload Complete",
		Message: fmt.Sprintf("%d new transactions processed from %s", added, job.FileName),
		Type:    models.NotificationSuccess,
	}}
	if n := job.Counts.Exceptions; n > 0 {
		items = append(items, models.NotificationItem{
			Title:   "Exceptions found",
			Message: fmt.Sprintf("%d transactions from %s have no ledger match", n, job.FileName),
			Type:    models.NotificationWarning,
		})
	}
	for _, user := range users {
		for _, item := range items {
			if err := s.notify.Publish(ctx, user, item); err != nil {
				s.logger.WithFields(logger.Fields{"job_id": job.JobID, "user": user}).WithError(err).
					Warn("Upload notification not delivered")
			}
		}
	}
}

// ListNotifications returns the user's notifications, newest first
func (s *Server) ListNotifications(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		user = c.GetHeader(actorHeader)
	}
	items, err := s.notify.ListNotifications(c.Request.Context(), user)
	if err != nil {
		s.fail(c, err)
		return
	}
	unread := 0
	for _, item := range items {
		if !item.IsRead {
			unread++
		}
	}
	if items == nil {
		items = []models.NotificationItem{}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "unread": unread})
}

// MarkNotificationRead flags a notification as read
func (s *Server) MarkNotificationRead(c *gin.Context) {
	if err := s.notify.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DismissNotification hides a notification
func (s *Server) DismissNotification(c *gin.Context) {
	if err := s.notify.Dismiss(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
