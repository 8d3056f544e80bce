package delivery

import (
	"errors"
	"net/http"

	syncdto "fintrack-backend/internal/sync/dto"
	"fintrack-backend/internal/sync/usecase"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	syncUsecase usecase.SyncUsecase
}

func NewSyncHandler(syncUsecase usecase.SyncUsecase) *SyncHandler {
	return &SyncHandler{
		syncUsecase: syncUsecase,
	}
}

// StartSync creates a job and returns immediately with its initial state
func (h *SyncHandler) StartSync(c *gin.Context) {
	userID := c.GetString("userID")

	var req syncdto.StartSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.syncUsecase.StartSync(c.Request.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrInvalidDateRange):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, usecase.ErrProviderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, usecase.ErrSyncInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// GetJob returns the job's status and counters; safe to poll at any time
func (h *SyncHandler) GetJob(c *gin.Context) {
	userID := c.GetString("userID")
	jobID := c.Param("id")

	job, err := h.syncUsecase.GetJob(userID, jobID)
	if err != nil {
		if errors.Is(err, usecase.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

// CancelJob requests cooperative cancellation. The response may still show
// the job processing; it reaches cancelled at the next message boundary.
func (h *SyncHandler) CancelJob(c *gin.Context) {
	userID := c.GetString("userID")
	jobID := c.Param("id")

	job, err := h.syncUsecase.CancelJob(userID, jobID)
	if err != nil {
		if errors.Is(err, usecase.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs returns jobs most-recent-first, optionally scoped to a provider
func (h *SyncHandler) ListJobs(c *gin.Context) {
	userID := c.GetString("userID")
	providerID := c.Query("provider_id")

	jobs, err := h.syncUsecase.ListJobs(userID, providerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, syncdto.JobsResponse{Jobs: jobs})
}
