package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerRoutes(r *gin.Engine) {
	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.GET("/dashboard", s.Dashboard)
	api.GET("/reconciliation", s.Reconciliation)

	// Transaction routes
	tx := api.Group("/transactions")
	tx.GET("", s.ListTransactions)
	tx.GET("/export", s.ExportTransactions)
	tx.POST("/selection", s.Select)
	tx.POST("/batch/:action", s.Batch)
	tx.GET("/:id", s.GetTransaction)
	tx.GET("/:id/candidates", s.LedgerCandidates)
	tx.POST("/:id/:action", s.TransactionAction)

	api.GET("/audit", s.AuditLog)
	api.GET("/audit/export", s.ExportAudit)

	// Statement uploads
	statements := api.Group("/statements")
	{
		statements.POST("", s.UploadStatement)
		statements.GET("/:jobId", s.StatementJob)
	}

	notifications := api.Group("/notifications")
	{
		notifications.GET("", s.ListNotifications)
		notifications.POST("/:id/read", s.MarkNotificationRead)
		notifications.DELETE("/:id", s.DismissNotification)
	}
}
