package trickplay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/catalog"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// ProgressFunc receives batch progress as a percentage in [0, 100]
type ProgressFunc func(progress float64)

// BatchOptions controls one batch run
type BatchOptions struct {
	RunID    string
	Replace  bool
	Progress ProgressFunc
}

// BatchResult summarizes one batch run
type BatchResult struct {
	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Completed  int           `json:"completed"`
	Generated  int           `json:"generated"`
	UpToDate   int           `json:"up_to_date"`
	Ineligible int           `json:"ineligible"`
	Failed     int           `json:"failed"`
	Cancelled  bool          `json:"cancelled"`
	Duration   time.Duration `json:"duration"`
}

// RunBatch refreshes every eligible video in the catalog, one item at a
// time. Item failures are logged and skipped. Cancellation stops the loop
// between items and is not reported as an error.
func (s *Service) RunBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	progress := opts.Progress
	if progress == nil {
		progress = func(float64) {}
	}

	cfg := s.config.Snapshot()
	logger := s.logger.WithRunID(opts.RunID)
	ctx = WithRequestSource(ctx, "batch")
	start := time.Now()
	result := &BatchResult{RunID: opts.RunID}

	items, err := catalog.ListAll(ctx, s.catalog, catalog.VideoFilter(), s.pageSize)
	if err != nil {
		if ctx.Err() != nil {
			result.Cancelled = true
			result.Duration = time.Since(start)
			return result, nil
		}
		return nil, fmt.Errorf("failed to list catalog items: %w", err)
	}

	var eligible []*models.VideoItem
	for _, item := range items {
		if ok, reason := IsEligible(item, cfg, s.fileExists); ok {
			eligible = append(eligible, item)
		} else {
			result.Ineligible++
			metrics.RecordSkip(string(reason))
		}
	}
	result.Total = len(eligible)

	logger.WithFields(map[string]interface{}{
		"items":   result.Total,
		"skipped": result.Ineligible,
		"config":  cfg.String(),
		"replace": opts.Replace,
	}).Info("Trickplay batch started")

	if result.Total == 0 {
		progress(100)
		metrics.BatchProgress.Set(100)
	}

	for _, item := range eligible {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		outcome, err := s.refreshVideo(ctx, cfg, item, opts.Replace)
		if errors.Is(err, ErrCancelled) {
			result.Cancelled = true
			break
		}

		switch outcome {
		case OutcomeGenerated:
			result.Generated++
		case OutcomeUpToDate:
			result.UpToDate++
		case OutcomeFailed:
			result.Failed++
			logger.WithItemID(item.ID).WithField("name", item.Name).ErrorWithErr("Trickplay generation failed, continuing", err)
		case OutcomeIneligible:
			result.Ineligible++
		}

		result.Completed++
		pct := float64(result.Completed) / float64(result.Total) * 100
		progress(pct)
		metrics.BatchProgress.Set(pct)
		logger.LogBatchProgress(opts.RunID, result.Completed, result.Total, pct)
	}

	result.Duration = time.Since(start)
	state := BatchStateCompleted
	if result.Cancelled {
		state = BatchStateCancelled
	}
	metrics.BatchRunsTotal.WithLabelValues(string(state)).Inc()

	logger.WithFields(map[string]interface{}{
		"completed":   result.Completed,
		"generated":   result.Generated,
		"up_to_date":  result.UpToDate,
		"failed":      result.Failed,
		"cancelled":   result.Cancelled,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Trickplay batch finished")

	return result, nil
}

// BatchState is the lifecycle state of a BatchTask run
type BatchState string

// Batch states
const (
	BatchStateIdle      BatchState = "idle"
	BatchStateRunning   BatchState = "running"
	BatchStateCompleted BatchState = "completed"
	BatchStateCancelled BatchState = "cancelled"
	BatchStateFailed    BatchState = "failed"
)

// BatchStatus is a point-in-time view of a BatchTask
type BatchStatus struct {
	RunID      string       `json:"run_id,omitempty"`
	State      BatchState   `json:"state"`
	Progress   float64      `json:"progress"`
	Replace    bool         `json:"replace"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Result     *BatchResult `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// BatchTask runs at most one batch at a time in the background
type BatchTask struct {
	svc *Service

	mu     sync.Mutex
	status BatchStatus
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBatchTask creates a batch task for svc
func NewBatchTask(svc *Service) *BatchTask {
	return &BatchTask{
		svc:    svc,
		status: BatchStatus{State: BatchStateIdle},
	}
}

// Start launches a batch run detached from the caller's request. It fails
// with ErrBatchRunning while another run is in progress.
func (t *BatchTask) Start(replace bool) (BatchStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.State == BatchStateRunning {
		return t.status, ErrBatchRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	runID := uuid.New().String()

	t.cancel = cancel
	t.done = make(chan struct{})
	t.status = BatchStatus{
		RunID:     runID,
		State:     BatchStateRunning,
		Replace:   replace,
		StartedAt: &now,
	}

	go t.run(ctx, runID, replace, t.done)

	return t.status, nil
}

func (t *BatchTask) run(ctx context.Context, runID string, replace bool, done chan struct{}) {
	defer close(done)

	result, err := t.svc.RunBatch(ctx, BatchOptions{
		RunID:   runID,
		Replace: replace,
		Progress: func(p float64) {
			t.mu.Lock()
			t.status.Progress = p
			t.mu.Unlock()
		},
	})

	t.mu.Lock()
	defer t.mu.Unlock()

	finished := time.Now().UTC()
	t.status.FinishedAt = &finished
	t.status.Result = result
	t.cancel()
	t.cancel = nil

	switch {
	case err != nil:
		t.status.State = BatchStateFailed
		t.status.Error = err.Error()
		metrics.BatchRunsTotal.WithLabelValues(string(BatchStateFailed)).Inc()
		t.svc.logger.WithRunID(runID).ErrorWithErr("Trickplay batch failed", err)
	case result.Cancelled:
		t.status.State = BatchStateCancelled
	default:
		t.status.State = BatchStateCompleted
	}
}

// Cancel requests the running batch to stop. It reports whether a run was
// in progress.
func (t *BatchTask) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status.State != BatchStateRunning || t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}

// Status returns the current run state
func (t *BatchTask) Status() BatchStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Wait blocks until the current run finishes or ctx is done
func (t *BatchTask) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
