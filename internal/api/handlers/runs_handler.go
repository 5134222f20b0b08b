package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/andresuchdata/tripdata-ingest/internal/config"
	"github.com/andresuchdata/tripdata-ingest/internal/domain"
	"github.com/andresuchdata/tripdata-ingest/internal/pipeline"
	"github.com/gin-gonic/gin"
)

// IngestService is what the run endpoints need from the service layer.
type IngestService interface {
	Partitions() []domain.PartitionConfig
	RecentRuns(ctx context.Context, limit int) ([]domain.PartitionResult, error)
	Trigger(names []string) ([]string, error)
	Running() bool
}

type RunsHandler struct {
	service IngestService
}

func NewRunsHandler(service IngestService) *RunsHandler {
	return &RunsHandler{service: service}
}

type triggerRequest struct {
	Partitions []string `json:"partitions"`
}

// Health reports liveness and whether a run is active.
func (h *RunsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": h.service.Running(),
	})
}

// ListRuns returns the latest partition runs, newest first.
func (h *RunsHandler) ListRuns(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && l > 0 {
		limit = l
	}
	if limit > 500 {
		limit = 500
	}

	runs, err := h.service.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []domain.PartitionResult{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// TriggerRun starts a run in the background. The body is optional; an empty
// partition list means all partitions. ?partition=a,b is accepted as well.
func (h *RunsHandler) TriggerRun(c *gin.Context) {
	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	for _, raw := range c.QueryArray("partition") {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				req.Partitions = append(req.Partitions, p)
			}
		}
	}

	selected, err := h.service.Trigger(req.Partitions)
	switch {
	case errors.Is(err, config.ErrUnknownPartition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, pipeline.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "accepted",
		"partitions": selected,
	})
}

// ListPartitions returns the configured partitions.
func (h *RunsHandler) ListPartitions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"partitions": h.service.Partitions()})
}
