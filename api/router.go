package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"transcriber/config"
	"transcriber/task"
)

func SetupRouter(tm *task.Manager, models ModelCache, cfg *config.Config, log logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log))
	h := NewHandler(tm, models, cfg, log)

	r.GET("/", h.handleHome)
	r.GET("/health", h.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/transcribe", h.handleTranscribe)
	r.GET("/status/:taskId", h.handleGetStatus)
	r.GET("/result/:taskId", h.handleGetResult)
	r.POST("/clear-cache", h.handleClearCache)

	r.GET("/tasks", h.handleListTasks)
	r.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)
	return r
}
