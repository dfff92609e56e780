package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/schuttebj/linc-print-backend/internal/api/handlers"
	"github.com/schuttebj/linc-print-backend/internal/api/middleware"
	"github.com/schuttebj/linc-print-backend/internal/core"
	"github.com/schuttebj/linc-print-backend/internal/maintenance"
	"github.com/schuttebj/linc-print-backend/internal/store"
)

// NewRouter assembles the HTTP surface. Everything under /api/v1 except the
// auth endpoints requires an authenticated operator.
func NewRouter(engine *core.Engine, st *store.Store, sweeper *maintenance.Sweeper, auth *middleware.AuthMiddleware) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	jobs := handlers.NewJobHandler(engine)
	files := handlers.NewFileHandler(engine)
	storage := handlers.NewStorageHandler(engine, st, sweeper)
	webhooks := handlers.NewWebhookHandler()

	v1 := router.Group("/api/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/setup", auth.SetupHandler)
		authGroup.POST("/login", auth.LoginHandler)
		authGroup.POST("/logout", auth.LogoutHandler)
		authGroup.GET("/status", auth.StatusHandler)
	}

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	{
		protected.POST("/jobs", jobs.CreateJob)
		protected.GET("/jobs", jobs.ListJobs)
		protected.GET("/jobs/:id", jobs.GetJob)
		protected.GET("/jobs/:id/history", jobs.GetHistory)
		protected.POST("/jobs/:id/assign", jobs.Assign)
		protected.POST("/jobs/:id/start-printing", jobs.StartPrinting)
		protected.POST("/jobs/:id/complete-printing", jobs.CompletePrinting)
		protected.POST("/jobs/:id/start-quality-check", jobs.StartQualityCheck)
		protected.POST("/jobs/:id/complete-quality-check", jobs.CompleteQualityCheck)
		protected.POST("/jobs/:id/move-to-top", jobs.MoveToTop)
		protected.POST("/jobs/:id/cancel", jobs.Cancel)

		protected.GET("/jobs/:id/files/:artifact", files.GetArtifact)
		protected.POST("/jobs/:id/regenerate-files", files.RegenerateFiles)
		protected.POST("/jobs/:id/verify-cleanup", storage.VerifyCleanup)

		protected.GET("/queues/:location_id", jobs.Queue)
		protected.GET("/queues/:location_id/next", jobs.NextJob)
		protected.GET("/queues/:location_id/stats", jobs.QueueStats)

		protected.GET("/storage/stats", storage.Stats)
		protected.GET("/storage/orphans", storage.Orphans)
		protected.POST("/storage/sweep", storage.Sweep)

		protected.GET("/webhooks", webhooks.ListWebhooks)
		protected.POST("/webhooks", webhooks.CreateWebhook)
		protected.GET("/webhooks/:id", webhooks.GetWebhook)
		protected.PUT("/webhooks/:id", webhooks.UpdateWebhook)
		protected.DELETE("/webhooks/:id", webhooks.DeleteWebhook)
	}

	return router
}
