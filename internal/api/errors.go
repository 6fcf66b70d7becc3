package api

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reconciliation-workflow/pkg/errors"
)

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch rerr.Category {
	case errors.CategoryLifecycle:
		if errors.HasCode(err, errors.CodeNotFound) {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case errors.CategoryValidation, errors.CategoryParse:
		return http.StatusBadRequest
	case errors.CategoryFile:
		if errors.HasCode(err, errors.CodeFileTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case errors.CategoryCollaborator:
		if errors.HasCode(err, errors.CodeTimeout) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody renders err for a response. Internal details stay in the log.
func errorBody(err error) gin.H {
	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		return gin.H{"error": err.Error()}
	}
	body := gin.H{
		"error":    rerr.Message,
		"code":     rerr.Code,
		"category": rerr.Category,
	}
	if rerr.Suggestion != "" {
		body["suggestion"] = rerr.Suggestion
	}
	if rerr.Category != errors.CategoryInternal && len(rerr.Context) > 0 {
		body["context"] = rerr.Context
	}
	return body
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), errorBody(err))
}

// warnings renders problems for a successful response
func warnings(problems []*errors.ReconcilerError) []string {
	if len(problems) == 0 {
		return nil
	}
	out := make([]string, len(problems))
	for i, p := range problems {
		out[i] = p.Error()
	}
	return out
}
