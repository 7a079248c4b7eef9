package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/app"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/queue"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

const queueDepthInterval = 30 * time.Second

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
	logger := a.Logger

	if a.Queue == nil {
		a.Close()
		logger.Fatal("Worker requires queue.enabled")
	}

	a.Start()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Request handler
	handler := func(ctx context.Context, req *models.GenerationRequest) error {
		reqLogger := logger.WithRequestID(req.ID).WithFields(map[string]interface{}{
			"kind":    req.Kind,
			"item_id": req.ItemID,
			"replace": req.Replace,
		})
		reqLogger.Info("Processing generation request")

		start := time.Now()
		if err := a.Service.HandleRequest(ctx, req); err != nil {
			reqLogger.ErrorWithErr("Generation request failed", err)
			return err
		}

		reqLogger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Generation request finished")
		return nil
	}

	// Start consuming requests
	if err := a.Queue.Consume(ctx, handler); err != nil {
		logger.Fatalf("Failed to consume requests: %v", err)
	}
	logger.WithField("writer_permits", a.Config.Trickplay.WriterPermits).Info("Worker started, waiting for requests...")

	go reportQueueDepth(ctx, a.Queue, logger)

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Failed to release resources", err)
	}

	logger.Info("Worker stopped")
}

// reportQueueDepth exports the backlog of the generation and dead-letter
// queues until ctx is done.
func reportQueueDepth(ctx context.Context, q *queue.Queue, logger *logging.Logger) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		depth, err := q.Depth()
		if err != nil {
			logger.WarnWithErr("Failed to inspect queue", err)
			continue
		}
		metrics.RecordQueueDepth("generate", depth)

		dead, err := q.DeadLetterDepth()
		if err != nil {
			logger.WarnWithErr("Failed to inspect dead-letter queue", err)
			continue
		}
		metrics.RecordQueueDepth("dead_letter", dead)
		if dead > 0 {
			logger.WithField("messages", dead).Warn("Dead-lettered generation requests waiting")
		}
	}
}
