package trickplay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/catalog"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/storage"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/tracing"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// maxMissingFrames is how many trailing frames ffmpeg may drop before a
// run counts as truncated
const maxMissingFrames = 1

// Generation stages, used in logs, metrics and failures
const (
	StageDelete   = "delete"
	StageExtract  = "extract"
	StageWrite    = "write"
	StageManifest = "manifest"
	StagePublish  = "publish"
	StageLock     = "lock"
)

// ConfigSource yields the generation settings for one run
type ConfigSource interface {
	Snapshot() models.GenerationConfig
}

// Sampler extracts frames from a media source
type Sampler interface {
	Sample(ctx context.Context, req models.SampleRequest) ([]models.Frame, error)
}

// Mirror replicates finished artifacts to secondary storage
type Mirror interface {
	Publish(ctx context.Context, key models.ArtifactKey, artifactPath, manifestPath string, manifest *models.PreviewManifest) error
	Remove(ctx context.Context, key models.ArtifactKey) error
}

// Locker extends the Permit to writers in other processes that share the
// same metadata directory
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Trigger accepts background generation requests without blocking
type Trigger interface {
	Submit(req models.GenerationRequest) bool
}

// Outcome summarizes what a refresh did to an item
type Outcome int

// Refresh outcomes
const (
	OutcomeIneligible Outcome = iota
	OutcomeUpToDate
	OutcomeGenerated
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIneligible:
		return "ineligible"
	case OutcomeUpToDate:
		return "up_to_date"
	case OutcomeGenerated:
		return "generated"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Options holds the collaborators of a Service
type Options struct {
	Catalog   catalog.Catalog
	Sampler   Sampler
	Artifacts *storage.ArtifactStore
	Manifests *storage.ManifestStore
	Config    ConfigSource
	Permit    *Permit

	// Optional
	Mirror         Mirror
	WriterLock     Locker
	FileExists     FileExistsFunc
	ExtractTimeout time.Duration
	BatchPageSize  int
}

// Service generates, refreshes and serves trickplay artifacts. All
// artifact-writing work of every caller goes through one shared Permit.
type Service struct {
	catalog        catalog.Catalog
	sampler        Sampler
	artifacts      *storage.ArtifactStore
	manifests      *storage.ManifestStore
	config         ConfigSource
	permit         *Permit
	writerLock     Locker
	mirror         Mirror
	fileExists     FileExistsFunc
	extractTimeout time.Duration
	pageSize       int
	logger         *logging.Logger
	now            func() time.Time

	triggerMu sync.RWMutex
	trigger   Trigger
}

// NewService creates a new trickplay service
func NewService(opts Options, logger *logging.Logger) *Service {
	s := &Service{
		catalog:        opts.Catalog,
		sampler:        opts.Sampler,
		artifacts:      opts.Artifacts,
		manifests:      opts.Manifests,
		config:         opts.Config,
		permit:         opts.Permit,
		writerLock:     opts.WriterLock,
		mirror:         opts.Mirror,
		fileExists:     opts.FileExists,
		extractTimeout: opts.ExtractTimeout,
		pageSize:       opts.BatchPageSize,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if s.permit == nil {
		s.permit = NewPermit(1)
	}
	if s.fileExists == nil {
		s.fileExists = LocalFileExists
	}
	if s.pageSize <= 0 {
		s.pageSize = 500
	}
	return s
}

// SetTrigger installs the on-demand generation trigger
func (s *Service) SetTrigger(t Trigger) {
	s.triggerMu.Lock()
	defer s.triggerMu.Unlock()
	s.trigger = t
}

func (s *Service) getTrigger() Trigger {
	s.triggerMu.RLock()
	defer s.triggerMu.RUnlock()
	return s.trigger
}

// Config returns the current generation settings
func (s *Service) Config() models.GenerationConfig {
	return s.config.Snapshot()
}

type requestSourceKey struct{}

// WithRequestSource labels ctx with the origin of the generation request
func WithRequestSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, requestSourceKey{}, source)
}

func requestSource(ctx context.Context) string {
	if source, ok := ctx.Value(requestSourceKey{}).(string); ok && source != "" {
		return source
	}
	return "direct"
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}

// HandleRequest runs one generation request from the on-demand pool, the
// message queue or the API.
func (s *Service) HandleRequest(ctx context.Context, req *models.GenerationRequest) error {
	ctx = WithRequestSource(ctx, req.Source)

	switch req.Kind {
	case models.RequestKindBatch:
		_, err := s.RunBatch(ctx, BatchOptions{RunID: req.ID, Replace: req.Replace})
		return err
	case models.RequestKindItem:
		return s.RefreshItem(ctx, req.ItemID, req.Replace)
	default:
		return fmt.Errorf("unknown request kind %q", req.Kind)
	}
}

// invalidator is implemented by catalogs that cache items
type invalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// RefreshItem loads itemID from the catalog and refreshes its previews. A
// forced refresh reads the item past any catalog cache.
func (s *Service) RefreshItem(ctx context.Context, itemID string, replace bool) error {
	if inv, ok := s.catalog.(invalidator); ok && replace {
		if err := inv.Invalidate(ctx, itemID); err != nil {
			s.logger.WithItemID(itemID).WarnWithErr("Failed to invalidate cached catalog item", err)
		}
	}

	item, err := s.catalog.GetItemByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			s.logger.WithItemID(itemID).Warn("Trickplay refresh requested for unknown item")
			return err
		}
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		return fmt.Errorf("failed to load item %s: %w", itemID, err)
	}
	return s.RefreshVideo(ctx, item, replace)
}

// RefreshVideo regenerates the previews of item when they are missing or
// were built with different settings. Ineligible items return nil with no
// side effect. Source failures are logged and returned as a *RefreshError.
func (s *Service) RefreshVideo(ctx context.Context, item *models.VideoItem, replace bool) error {
	_, err := s.refreshVideo(ctx, s.config.Snapshot(), item, replace)
	return err
}

func (s *Service) refreshVideo(ctx context.Context, cfg models.GenerationConfig, item *models.VideoItem, replace bool) (Outcome, error) {
	if ok, reason := IsEligible(item, cfg, s.fileExists); !ok {
		if item != nil {
			s.logger.WithItemID(item.ID).WithField("reason", reason).Debug("Item not eligible for trickplay")
		}
		metrics.RecordSkip(string(reason))
		return OutcomeIneligible, nil
	}

	outcome := OutcomeIneligible
	var failures []SourceFailure

	for _, src := range item.Sources() {
		if err := ctx.Err(); err != nil {
			return OutcomeCancelled, cancelled(err)
		}

		if ok, reason := IsSourceEligible(item, src, cfg, s.fileExists); !ok {
			s.logger.WithItemID(item.ID).WithSourceID(src.ID).
				WithField("reason", reason).
				Debug("Media source not eligible for trickplay")
			metrics.RecordSkip(string(reason))
			continue
		}

		result, err := s.refreshSource(ctx, cfg, item, src, replace)
		if errors.Is(err, ErrCancelled) {
			return OutcomeCancelled, err
		}
		var failure SourceFailure
		if errors.As(err, &failure) {
			failures = append(failures, failure)
			continue
		}
		if result > outcome {
			outcome = result
		}
	}

	if len(failures) > 0 {
		return OutcomeFailed, &RefreshError{ItemID: item.ID, Failures: failures}
	}
	return outcome, nil
}

// isCurrent reports whether key holds a complete, readable unit built
// with cfg. A corrupt artifact is never current.
func (s *Service) isCurrent(key models.ArtifactKey, cfg models.GenerationConfig) bool {
	if !s.manifests.Matches(key, cfg) {
		return false
	}
	_, err := s.artifacts.Validate(key)
	return err == nil
}

func (s *Service) refreshSource(ctx context.Context, cfg models.GenerationConfig, item *models.VideoItem, src models.MediaSource, replace bool) (Outcome, error) {
	key := models.ArtifactKey{ItemID: item.ID, SourceID: src.ID}
	logger := s.logger.WithItemID(item.ID).WithSourceID(src.ID)
	source := requestSource(ctx)

	if !replace && s.isCurrent(key, cfg) {
		metrics.RecordSkip(OutcomeUpToDate.String())
		return OutcomeUpToDate, nil
	}

	release, err := s.permit.Acquire(ctx)
	if err != nil {
		return OutcomeCancelled, cancelled(err)
	}
	defer release()

	if s.writerLock != nil {
		unlock, err := s.writerLock.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return OutcomeCancelled, cancelled(ctx.Err())
			}
			logger.WithError(err).LogGenerationEvent(key.String(), StageLock, "failed", nil)
			metrics.RecordError("trickplay", StageLock)
			return OutcomeFailed, SourceFailure{Key: key, Stage: StageLock, Err: err}
		}
		defer unlock()
	}

	// Another caller may have finished the same unit while we waited.
	if !replace && s.isCurrent(key, cfg) {
		metrics.RecordSkip(OutcomeUpToDate.String())
		return OutcomeUpToDate, nil
	}

	span, ctx := tracing.StartArtifactSpan(ctx, "trickplay.generate", key)
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "trickplay.config", cfg.String())
	tracing.SetTag(span, "trickplay.source", source)

	fail := func(stage string, err error) (Outcome, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.LogGenerationEvent(key.String(), stage, "cancelled", nil)
			metrics.RecordGeneration(source, "cancelled")
			return OutcomeCancelled, cancelled(ctxErr)
		}
		tracing.LogError(span, err)
		logger.WithError(err).LogGenerationEvent(key.String(), stage, "failed", nil)
		metrics.RecordGeneration(source, "failed")
		metrics.RecordError("trickplay", stage)
		return OutcomeFailed, SourceFailure{Key: key, Stage: stage, Err: err}
	}

	started := time.Now()
	logger.LogGenerationEvent(key.String(), StageDelete, "started", map[string]interface{}{
		"config":  cfg.String(),
		"replace": replace,
		"source":  source,
	})

	// The old unit goes first so a failed run leaves nothing rather than a
	// mismatched pair.
	if err := s.artifacts.Delete(key); err != nil {
		return fail(StageDelete, err)
	}
	if err := s.manifests.Delete(key); err != nil {
		return fail(StageDelete, err)
	}
	s.removeMirror(ctx, key, logger)

	path := src.Path
	if path == "" {
		path = item.Path
	}
	duration := item.SourceDuration(src)
	req := models.SampleRequest{
		SourcePath:   path,
		Interval:     cfg.Interval(),
		Width:        cfg.WidthResolution,
		Quality:      cfg.Quality,
		Duration:     duration,
		KeyframeOnly: cfg.KeyframeOnly,
		Container:    src.Container,
		VideoCodec:   src.VideoCodec,
	}

	extractCtx := ctx
	if s.extractTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, s.extractTimeout)
		defer cancel()
	}

	stageStart := time.Now()
	frames, err := s.sampler.Sample(extractCtx, req)
	metrics.RecordStage(StageExtract, time.Since(stageStart).Seconds())
	if err != nil {
		return fail(StageExtract, err)
	}
	if expected := cfg.ExpectedFrameCount(duration); len(frames) < expected {
		if expected-len(frames) > maxMissingFrames {
			return fail(StageExtract, &transcoder.ExtractionError{
				Path: path,
				Err:  fmt.Errorf("%w: %d of %d frames", ErrTruncatedOutput, len(frames), expected),
			})
		}
		logger.WithFields(map[string]interface{}{
			"frames":   len(frames),
			"expected": expected,
		}).Warn("ffmpeg produced fewer frames than expected")
	}

	stageStart = time.Now()
	size, err := s.artifacts.Write(key, frames, cfg.IntervalMs)
	metrics.RecordStage(StageWrite, time.Since(stageStart).Seconds())
	if err != nil {
		return fail(StageWrite, err)
	}

	manifest := models.NewPreviewManifest(cfg, len(frames), s.now())
	if err := s.manifests.Write(key, manifest); err != nil {
		if derr := s.artifacts.Delete(key); derr != nil {
			logger.WarnWithErr("Failed to remove artifact after manifest write failure", derr)
		}
		return fail(StageManifest, err)
	}

	s.publishMirror(ctx, key, manifest, logger)

	metrics.RecordGeneration(source, "completed")
	metrics.RecordArtifact(len(frames), size)
	logger.LogGenerationEvent(key.String(), StageManifest, "completed", map[string]interface{}{
		"frames":      len(frames),
		"size_bytes":  size,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return OutcomeGenerated, nil
}

func (s *Service) removeMirror(ctx context.Context, key models.ArtifactKey, logger *logging.Logger) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Remove(ctx, key); err != nil {
		logger.WarnWithErr("Failed to remove mirrored artifact", err)
		metrics.RecordError("mirror", "remove")
	}
}

func (s *Service) publishMirror(ctx context.Context, key models.ArtifactKey, manifest *models.PreviewManifest, logger *logging.Logger) {
	if s.mirror == nil {
		return
	}
	artifactPath, err := s.artifacts.PathFor(key)
	if err != nil {
		return
	}
	manifestPath, err := s.manifests.PathFor(key)
	if err != nil {
		return
	}

	start := time.Now()
	err = s.mirror.Publish(ctx, key, artifactPath, manifestPath, manifest)
	logger.LogStorageOperation(StagePublish, storage.ObjectName(key, ".bif"), 0, time.Since(start), err)
	if err != nil {
		metrics.RecordError("mirror", StagePublish)
	}
}
