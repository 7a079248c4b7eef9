package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/app"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/middleware"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	a, err := app.New(context.Background(), configPath)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	cfg := a.Config
	logger := a.Logger

	api := &API{
		svc:        a.Service,
		batch:      a.Batch,
		trigger:    a.Pool,
		health:     a.Health,
		backlog:    a.Pool.GetQueueDepth,
		retryAfter: cfg.Trickplay.RetryAfter,
		logger:     logger,
	}
	if a.Queue != nil {
		api.publisher = a.Queue
	}

	a.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	go limiter.Cleanup(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, limiter, logger)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Failed to release resources", err)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, limiter *middleware.RateLimiter, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logger(logger), middleware.Recovery(logger))

	// Health check
	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(limiter))
	{
		// Serving
		v1.GET("/videos/:id/trickplay/index.bif", api.getTrickplayIndex)
		v1.GET("/videos/:id/trickplay/manifest.json", api.getTrickplayManifest)

		// Generation
		v1.POST("/videos/:id/trickplay/refresh", api.refreshItem)

		// Scheduled task
		v1.POST("/trickplay/tasks/refresh", api.startBatch)
		v1.GET("/trickplay/tasks/refresh", api.getBatch)
		v1.DELETE("/trickplay/tasks/refresh", api.cancelBatch)
	}

	return router
}
