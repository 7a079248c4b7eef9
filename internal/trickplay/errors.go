package trickplay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// ErrCancelled is returned when a run stops because its context was cancelled
var ErrCancelled = errors.New("trickplay generation cancelled")

// ErrTruncatedOutput is returned when ffmpeg stops well short of the
// expected frame count
var ErrTruncatedOutput = errors.New("frame extraction output truncated")

// ErrBatchRunning is returned when a batch is started while one is running
var ErrBatchRunning = errors.New("trickplay batch already running")

// SourceFailure records why one media source could not be regenerated
type SourceFailure struct {
	Key   models.ArtifactKey
	Stage string
	Err   error
}

func (f SourceFailure) Error() string {
	return fmt.Sprintf("%s (%s): %v", f.Key, f.Stage, f.Err)
}

func (f SourceFailure) Unwrap() error {
	return f.Err
}

// RefreshError aggregates the source failures of one item
type RefreshError struct {
	ItemID   string
	Failures []SourceFailure
}

func (e *RefreshError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("trickplay refresh failed for item %s: %s", e.ItemID, strings.Join(parts, "; "))
}

// Unwrap exposes every source failure to errors.Is and errors.As
func (e *RefreshError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
