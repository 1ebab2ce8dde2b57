package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"transcriber/config"
	"transcriber/resource"
	"transcriber/task"
)

const serviceName = "Media transcription API"

// ModelCache is the shared speech model as seen by the HTTP layer.
type ModelCache interface {
	Loaded() bool
	Unload() bool
}

type Handler struct {
	taskManager *task.Manager
	models      ModelCache
	cfg         *config.Config
	log         logrus.FieldLogger
	memory      func() (resource.MemorySummary, error)
}

func NewHandler(tm *task.Manager, models ModelCache, cfg *config.Config, log logrus.FieldLogger) *Handler {
	return &Handler{
		taskManager: tm,
		models:      models,
		cfg:         cfg,
		log:         log,
		memory:      resource.Summary,
	}
}

type TranscribeRequest struct {
	URL string `json:"url" form:"url" binding:"required"`
}

// writeError maps task errors onto HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var notComplete *task.NotCompleteError
	switch {
	case errors.As(err, &notComplete):
		c.JSON(http.StatusBadRequest, gin.H{"error": task.ErrNotCompleteYet.Error(), "status": notComplete.State})
	case errors.Is(err, task.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, task.ErrBusy), errors.Is(err, task.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, task.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": err.Error()})
	}
}

// handleHome describes the service, its model and its endpoints.
func (h *Handler) handleHome(c *gin.Context) {
	resp := gin.H{
		"message":      serviceName,
		"model":        h.cfg.WhisperModel,
		"model_loaded": h.models.Loaded(),
		"active_tasks": h.taskManager.Len(),
		"tasks":        h.taskManager.Counts(),
		"endpoints": gin.H{
			"/transcribe":           "POST - Start a transcription (body: {url: 'media_url'})",
			"/status/:taskId":       "GET - Transcription status",
			"/result/:taskId":       "GET - Transcription result",
			"/tasks":                "GET - List tasks",
			"/tasks/:taskId/cancel": "PATCH - Cancel a pending or processing task",
			"/health":               "GET - Service health",
			"/clear-cache":          "POST - Unload the model and drop finished tasks",
			"/metrics":              "GET - Prometheus metrics",
		},
	}
	if mem, err := h.memory(); err != nil {
		h.log.WithError(err).Warn("Could not read host memory")
	} else {
		resp["memory"] = mem
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"model":           h.cfg.WhisperModel,
		"model_loaded":    h.models.Loaded(),
		"tasks_in_memory": h.taskManager.Len(),
	})
}

// handleTranscribe admits a new task and returns without waiting for it.
func (h *Handler) handleTranscribe(c *gin.Context) {
	var req TranscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'url' is required in the request body"})
		return
	}

	t, err := h.taskManager.Submit(req.URL)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id":      t.ID,
		"status":       t.Status,
		"message":      "Transcription started",
		"check_status": "/status/" + t.ID,
		"model":        h.cfg.WhisperModel,
	})
}

func (h *Handler) handleGetStatus(c *gin.Context) {
	view, err := h.taskManager.Status(c.Param("taskId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) handleGetResult(c *gin.Context) {
	view, err := h.taskManager.Result(c.Param("taskId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleListTasks lists all tasks, newest first.
func (h *Handler) handleListTasks(c *gin.Context) {
	tasks := h.taskManager.List()
	views := make([]task.StatusView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, task.NewStatusView(t))
	}
	c.JSON(http.StatusOK, views)
}

// handleCancelTask cancels a task.
func (h *Handler) handleCancelTask(c *gin.Context) {
	if err := h.taskManager.Cancel(c.Param("taskId")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task cancellation requested"})
}

// handleClearCache unloads the shared model and drops finished tasks.
// Pending and processing tasks are kept.
func (h *Handler) handleClearCache(c *gin.Context) {
	unloaded := h.models.Unload()
	removed, remaining := h.taskManager.ClearTerminal()

	h.log.WithFields(logrus.Fields{
		"model_unloaded": unloaded,
		"removed_tasks":  removed,
	}).Info("Cache cleared")

	c.JSON(http.StatusOK, gin.H{
		"message":         "Cache cleared",
		"model_unloaded":  unloaded,
		"removed_tasks":   removed,
		"remaining_tasks": remaining,
	})
}
