package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jobflow-dev/jobflow-be/internal/api/dto"
	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

// UserIDKey is the context key under which the identity middleware stores
// the authenticated owner id.
const UserIDKey = "user_id"

// CreateJob handles POST /api/v1/jobs
// Persists a new QUEUED job and schedules its processing callback.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	userID := c.GetString(UserIDKey)
	fields := domain.NewJobFields{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Payload:     req.Payload,
	}

	job, err := h.service.Create(c.Request.Context(), userID, fields)

	var dispatchErr *domain.DispatchError
	if errors.As(err, &dispatchErr) {
		// The job is persisted and QUEUED; the sweeper re-dispatches it.
		h.logger.Error("Job created but dispatch failed",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Job was created but could not be scheduled",
			"job":   dto.FromDomain(job),
		})
		return
	}
	if err != nil {
		h.respondError(c, err, "Failed to create job")
		return
	}

	c.JSON(http.StatusCreated, dto.FromDomain(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.service.Get(c.Request.Context(), jobID, c.GetString(UserIDKey))
	if err != nil {
		h.respondError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.FromDomain(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs ordered by creation time descending, paginated by
// skip/limit and optionally filtered by status.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	filter := domain.ListFilter{
		Status: req.Status,
		Skip:   req.Skip,
		Limit:  req.Limit,
	}

	jobs, err := h.service.List(c.Request.Context(), c.GetString(UserIDKey), filter)
	if err != nil {
		h.respondError(c, err, "Failed to list jobs")
		return
	}

	response := dto.ListJobsResponse{
		Jobs:  make([]dto.JobDTO, len(jobs)),
		Skip:  filter.Skip,
		Limit: filter.Limit,
	}
	for i, job := range jobs {
		response.Jobs[i] = dto.FromDomain(job)
	}

	c.JSON(http.StatusOK, response)
}

// UpdateJob handles PATCH /api/v1/jobs/:job_id
// Applies only the fields present in the request body.
func (h *JobHandler) UpdateJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	var req dto.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	patch := domain.JobPatch{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Payload:     req.Payload,
	}

	job, err := h.service.Update(c.Request.Context(), jobID, c.GetString(UserIDKey), patch)
	if err != nil {
		h.respondError(c, err, "Failed to update job")
		return
	}

	c.JSON(http.StatusOK, dto.FromDomain(job))
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Moves a QUEUED or PROCESSING job to CANCELLED. Does not interrupt an
// execution already in flight.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.service.Cancel(c.Request.Context(), jobID, c.GetString(UserIDKey))
	if err != nil {
		h.respondError(c, err, "Failed to cancel job")
		return
	}

	c.JSON(http.StatusOK, dto.FromDomain(job))
}

// DeleteJob handles DELETE /api/v1/jobs/:job_id
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	deleted, err := h.service.Delete(c.Request.Context(), jobID, c.GetString(UserIDKey))
	if err != nil {
		h.respondError(c, err, "Failed to delete job")
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// JobStats handles GET /api/v1/jobs/stats
func (h *JobHandler) JobStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context(), c.GetString(UserIDKey))
	if err != nil {
		h.respondError(c, err, "Failed to aggregate job stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// ProcessJob handles POST /api/v1/jobs/:job_id/process
// The dispatcher callback entry point. Authenticated by the trusted callback
// channel, not by owner; deliveries may repeat and processing is idempotent
// for finished jobs.
func (h *JobHandler) ProcessJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.service.Process(c.Request.Context(), jobID)

	var procErr *domain.ProcessingError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, dto.FromDomain(job))
	case errors.Is(err, domain.ErrJobNotFound):
		// Tells the dispatcher that redelivery is useless.
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.Is(err, domain.ErrJobLocked):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Job is being processed by another delivery",
		})
	case errors.As(err, &procErr):
		// Failure is recorded on the job; the dispatcher decides on retry.
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": procErr.Error(),
			"job":   dto.FromDomain(job),
		})
	default:
		h.respondError(c, err, "Failed to process job")
	}
}

// jobIDParam extracts and validates the job_id path parameter.
func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

// respondError maps domain errors to HTTP status codes.
func (h *JobHandler) respondError(c *gin.Context, err error, fallback string) {
	var validationErr *domain.ValidationError

	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validationErr.Error(),
		})
	case errors.Is(err, domain.ErrEmptyPatch):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Update contains no fields",
		})
	case errors.Is(err, domain.ErrTerminalState):
		c.JSON(http.StatusConflict, gin.H{
			"error": "Job is already in a terminal state",
		})
	default:
		h.logger.Error(fallback, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": fallback,
		})
	}
}
