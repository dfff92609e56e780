package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/schuttebj/linc-print-backend/internal/core"
	"github.com/schuttebj/linc-print-backend/internal/maintenance"
	"github.com/schuttebj/linc-print-backend/internal/store"
)

type StorageHandler struct {
	engine  *core.Engine
	store   *store.Store
	sweeper *maintenance.Sweeper
}

func NewStorageHandler(engine *core.Engine, st *store.Store, sweeper *maintenance.Sweeper) *StorageHandler {
	return &StorageHandler{engine: engine, store: st, sweeper: sweeper}
}

// Stats reports disk usage of the card store alongside what the records say
// should be on disk. A mismatch between the two is the orphan scan's job.
func (h *StorageHandler) Stats(c *gin.Context) {
	diskStats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to walk card store"})
		return
	}

	withFiles, err := h.engine.CountJobsWithFiles(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query job records"})
		return
	}

	counts, err := h.engine.StatusCounts(c.Request.Context(), nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count jobs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"disk":                  diskStats,
		"jobs_with_files":       withFiles,
		"jobs_by_status":        counts,
	})
}

// Orphans runs the orphan scan on demand.
func (h *StorageHandler) Orphans(c *gin.Context) {
	orphans, err := h.engine.ScanOrphans(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "orphan scan failed"})
		return
	}
	if orphans == nil {
		orphans = []core.Orphan{}
	}
	c.JSON(http.StatusOK, gin.H{"orphans": orphans, "count": len(orphans)})
}

// Sweep triggers a full maintenance pass immediately instead of waiting for
// the timer.
func (h *StorageHandler) Sweep(c *gin.Context) {
	report, err := h.sweeper.RunSweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "maintenance sweep failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// VerifyCleanup re-checks that a job's recorded cleanup actually happened.
func (h *StorageHandler) VerifyCleanup(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.engine.GetJob(c.Request.Context(), id)
	if err != nil {
		writeJobError(c, err)
		return
	}

	verified, err := h.engine.VerifyCleanup(c.Request.Context(), job)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "verified": verified})
}
