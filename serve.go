package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"transcriber/api"
	"transcriber/resource"
	"transcriber/task"
)

const shutdownTimeout = 5 * time.Second

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transcription API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort != "" {
		cfg.Port = servePort
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	runner, models, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	taskManager, err := task.NewManager(cfg, runner,
		task.WithLogger(logger),
		task.WithThrottle(resource.NewThrottle(cfg, logger)),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize task manager: %w", err)
	}

	router := api.SetupRouter(taskManager, models, cfg, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Info("Termination signal received, shutting down")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Task manager.
	{
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		g.Add(
			func() error {
				taskManager.Start(ctx)
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer shutdownCancel()
				if err := taskManager.Shutdown(shutdownCtx); err != nil {
					logger.WithError(err).Warn("Tasks still running at shutdown")
				}
				cancel()
			},
		)
	}

	// HTTP server.
	{
		g.Add(
			func() error {
				logger.WithField("port", cfg.Port).Info("Server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("listen: %w", err)
				}
				return nil
			},
			func(_ error) {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer shutdownCancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.WithError(err).Error("Server forced to shutdown")
				}
			},
		)
	}

	err = g.Run()
	logger.Info("Server exiting")
	return err
}
