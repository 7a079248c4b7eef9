package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/bif"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/middleware"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/storage"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/trickplay"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// Publisher hands generation requests to the worker fleet
type Publisher interface {
	Publish(ctx context.Context, req *models.GenerationRequest) error
}

// API serves trickplay artifacts and manages generation
type API struct {
	svc        *trickplay.Service
	batch      *trickplay.BatchTask
	trigger    trickplay.Trigger
	publisher  Publisher
	health     func(ctx context.Context) map[string]error
	backlog    func() int
	retryAfter time.Duration
	logger     *logging.Logger
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	resp := gin.H{"status": "healthy"}
	if api.backlog != nil {
		resp["ondemand_pending"] = api.backlog()
	}

	if api.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if failures := api.health(ctx); len(failures) > 0 {
			checks := make(gin.H, len(failures))
			for name, err := range failures {
				checks[name] = err.Error()
			}
			resp["status"] = "unhealthy"
			resp["checks"] = checks
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (api *API) pending(c *gin.Context) {
	secs := int(api.retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": trickplay.StatusPending.String()})
}

// Get trickplay index endpoint
func (api *API) getTrickplayIndex(c *gin.Context) {
	itemID := c.Param("id")
	logger := api.logger.WithRequestID(middleware.GetRequestID(c)).WithItemID(itemID)

	avail, err := api.svc.FetchArtifact(c.Request.Context(), itemID)
	if err != nil {
		logger.ErrorWithErr("Failed to resolve trickplay artifact", err)
		api.pending(c)
		return
	}

	switch avail.Status {
	case trickplay.StatusReady:
		defer avail.File.Close()
		c.Header("Content-Type", bif.ContentType)
		c.Header("X-Trickplay-Frames", strconv.Itoa(avail.FrameCount))
		http.ServeContent(c.Writer, c.Request, "index.bif", avail.ModTime, avail.File)
	case trickplay.StatusPending:
		api.pending(c)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Trickplay not found"})
	}
}

// Get trickplay manifest endpoint
func (api *API) getTrickplayManifest(c *gin.Context) {
	itemID := c.Param("id")

	data, err := api.svc.FetchManifest(c.Request.Context(), itemID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Trickplay not found"})
			return
		}
		api.logger.WithItemID(itemID).ErrorWithErr("Failed to read trickplay manifest", err)
		api.pending(c)
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

// Refresh item endpoint
func (api *API) refreshItem(c *gin.Context) {
	req := &models.GenerationRequest{
		ID:          uuid.New().String(),
		ItemID:      c.Param("id"),
		Kind:        models.RequestKindItem,
		Replace:     c.Query("replace") == "true",
		Priority:    models.RequestPriorityNormal,
		Source:      models.RequestSourceAPI,
		RequestedAt: time.Now().UTC(),
	}
	logger := api.logger.WithRequestID(req.ID).WithItemID(req.ItemID)

	if api.publisher != nil {
		if err := api.publisher.Publish(c.Request.Context(), req); err != nil {
			logger.ErrorWithErr("Failed to publish refresh request", err)
			api.pending(c)
			return
		}
	} else if api.trigger == nil || !api.trigger.Submit(*req) {
		logger.Warn("Refresh request rejected")
		api.pending(c)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":      req.ID,
		"item_id": req.ItemID,
		"replace": req.Replace,
		"status":  "queued",
	})
}

// Start batch refresh endpoint
func (api *API) startBatch(c *gin.Context) {
	status, err := api.batch.Start(c.Query("replace") == "true")
	if errors.Is(err, trickplay.ErrBatchRunning) {
		c.JSON(http.StatusConflict, status)
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start refresh"})
		return
	}

	api.logger.WithRunID(status.RunID).Info("Trickplay batch refresh started")
	c.JSON(http.StatusAccepted, status)
}

// Get batch refresh status endpoint
func (api *API) getBatch(c *gin.Context) {
	c.JSON(http.StatusOK, api.batch.Status())
}

// Cancel batch refresh endpoint
func (api *API) cancelBatch(c *gin.Context) {
	if !api.batch.Cancel() {
		c.JSON(http.StatusNotFound, gin.H{"error": "No refresh in progress"})
		return
	}
	c.JSON(http.StatusAccepted, api.batch.Status())
}
