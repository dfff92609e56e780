package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/schuttebj/linc-print-backend/internal/api/middleware"
	"github.com/schuttebj/linc-print-backend/internal/core"
)

type CreateJobRequest struct {
	PersonID                 string          `json:"person_id" binding:"required,uuid"`
	LocationID               string          `json:"location_id" binding:"required,uuid"`
	PrimaryApplicationID     string          `json:"primary_application_id" binding:"required,uuid"`
	AdditionalApplicationIDs []string        `json:"additional_application_ids"`
	CardNumber               string          `json:"card_number" binding:"required"`
	CardTemplate             string          `json:"card_template"`
	Priority                 string          `json:"priority"`
	LicenseData              json.RawMessage `json:"license_data"`
	PersonData               json.RawMessage `json:"person_data"`
}

type ListJobsQuery struct {
	LocationID string `form:"location_id"`
	PersonID   string `form:"person_id"`
	Status     string `form:"status"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

type QualityCheckRequest struct {
	Result string `json:"result" binding:"required"`
	Notes  string `json:"notes"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type JobHandler struct {
	engine *core.Engine
}

func NewJobHandler(engine *core.Engine) *JobHandler {
	return &JobHandler{engine: engine}
}

// writeJobError maps domain errors onto HTTP statuses. 410 is reserved for
// artifacts destroyed by policy; a plain missing job is 404.
func writeJobError(c *gin.Context, err error) {
	var invalid *core.InvalidTransitionError
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, core.ErrGone):
		c.JSON(http.StatusGone, gin.H{"error": "card files were destroyed after quality assurance"})
	case errors.Is(err, core.ErrAlreadyAssigned):
		c.JSON(http.StatusConflict, gin.H{"error": "job is already assigned to another operator"})
	case errors.As(err, &invalid):
		c.JSON(http.StatusConflict, gin.H{"error": invalid.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	create := core.CreateJobRequest{
		CardNumber:   req.CardNumber,
		CardTemplate: req.CardTemplate,
		Priority:     core.Priority(req.Priority),
		LicenseData:  req.LicenseData,
		PersonData:   req.PersonData,
		CreatedBy:    middleware.OperatorID(c),
	}

	var err error
	if create.PersonID, err = uuid.Parse(req.PersonID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
		return
	}
	if create.LocationID, err = uuid.Parse(req.LocationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location_id"})
		return
	}
	if create.PrimaryApplicationID, err = uuid.Parse(req.PrimaryApplicationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid primary_application_id"})
		return
	}
	for _, raw := range req.AdditionalApplicationIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid additional application id"})
			return
		}
		create.AdditionalApplicationIDs = append(create.AdditionalApplicationIDs, id)
	}

	if err := create.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.engine.CreateJob(c.Request.Context(), create)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := core.JobFilter{
		Status: core.Status(query.Status),
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	if query.LocationID != "" {
		id, err := uuid.Parse(query.LocationID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location_id"})
			return
		}
		filter.LocationID = &id
	}
	if query.PersonID != "" {
		id, err := uuid.Parse(query.PersonID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
			return
		}
		filter.PersonID = &id
	}

	jobs, err := h.engine.ListJobs(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *JobHandler) jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.engine.GetJob(c.Request.Context(), id)
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) GetHistory(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	history, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *JobHandler) Assign(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.engine.Assign(c.Request.Context(), id, middleware.OperatorID(c))
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) StartPrinting(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.engine.StartPrinting(c.Request.Context(), id, middleware.OperatorID(c))
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) CompletePrinting(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.engine.CompletePrinting(c.Request.Context(), id, middleware.OperatorID(c))
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) StartQualityCheck(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.engine.StartQualityCheck(c.Request.Context(), id, middleware.OperatorID(c))
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) CompleteQualityCheck(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	var req QualityCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := core.QAResult(req.Result)
	if !result.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown quality check result"})
		return
	}

	job, reprint, err := h.engine.CompleteQualityCheck(
		c.Request.Context(), id, result, req.Notes, middleware.OperatorID(c))
	if err != nil {
		writeJobError(c, err)
		return
	}

	resp := gin.H{"job": job}
	if reprint != nil {
		resp["reprint_job"] = reprint
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) MoveToTop(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.engine.MoveToTop(c.Request.Context(), id, middleware.OperatorID(c), req.Reason)
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.engine.Cancel(c.Request.Context(), id, middleware.OperatorID(c), req.Reason)
	if err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) locationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("location_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *JobHandler) Queue(c *gin.Context) {
	id, ok := h.locationID(c)
	if !ok {
		return
	}
	jobs, err := h.engine.QueueJobs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list queue"})
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *JobHandler) NextJob(c *gin.Context) {
	id, ok := h.locationID(c)
	if !ok {
		return
	}
	job, err := h.engine.NextJob(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue is empty"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query queue"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) QueueStats(c *gin.Context) {
	id, ok := h.locationID(c)
	if !ok {
		return
	}
	stats, err := h.engine.QueueStats(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute queue stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
