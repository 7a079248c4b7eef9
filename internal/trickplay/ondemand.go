package trickplay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/bif"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/catalog"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/metrics"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/storage"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// Status is the availability of an item's artifact
type Status int

// Availability statuses
const (
	StatusNotFound Status = iota
	StatusPending
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusPending:
		return "pending"
	default:
		return "not_found"
	}
}

// Availability describes whether an artifact can be served. When Status is
// StatusReady, File is open at the validated artifact and must be closed by
// the caller.
type Availability struct {
	Status     Status
	Path       string
	Size       int64
	FrameCount int
	ModTime    time.Time
	File       *os.File
	Manifest   *models.PreviewManifest
}

// primaryKey names the artifact served for an item. Only the source that
// shares the item's id is ever generated.
func primaryKey(itemID string) models.ArtifactKey {
	return models.ArtifactKey{ItemID: itemID, SourceID: itemID}
}

// FetchArtifact returns the current artifact of itemID. When none exists
// and on-demand generation is enabled, a background generation is
// submitted and StatusPending is returned without waiting for it.
func (s *Service) FetchArtifact(ctx context.Context, itemID string) (*Availability, error) {
	cfg := s.config.Snapshot()
	key := primaryKey(itemID)
	logger := s.logger.WithItemID(itemID)

	avail, err := s.openCurrent(key)
	if err == nil {
		if !avail.Manifest.Matches(cfg) && cfg.OnDemandGeneration {
			// Serve what we have while a matching unit is built.
			s.submit(itemID, logger)
		}
		metrics.RecordOnDemand(StatusReady.String())
		return avail, nil
	}

	var corrupt *bif.CorruptArtifactError
	switch {
	case errors.As(err, &corrupt):
		logger.WarnWithErr("Stored trickplay artifact is corrupt, treating as absent", err)
		metrics.RecordError("trickplay", "corrupt_artifact")
	case errors.Is(err, storage.ErrInvalidKey):
		metrics.RecordOnDemand(StatusNotFound.String())
		return &Availability{Status: StatusNotFound}, nil
	case !errors.Is(err, storage.ErrNotFound):
		logger.WarnWithErr("Failed to open trickplay artifact", err)
	}

	if !cfg.OnDemandGeneration {
		metrics.RecordOnDemand(StatusNotFound.String())
		return &Availability{Status: StatusNotFound}, nil
	}

	item, err := s.catalog.GetItemByID(ctx, itemID)
	if errors.Is(err, catalog.ErrItemNotFound) {
		metrics.RecordOnDemand(StatusNotFound.String())
		return &Availability{Status: StatusNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s: %w", itemID, err)
	}

	if ok, reason := IsEligible(item, cfg, s.fileExists); !ok {
		logger.WithField("reason", reason).Debug("On-demand trickplay requested for ineligible item")
		metrics.RecordOnDemand(StatusNotFound.String())
		return &Availability{Status: StatusNotFound}, nil
	}

	if s.getTrigger() == nil {
		logger.Warn("On-demand trickplay generation has no trigger configured")
		metrics.RecordOnDemand(StatusNotFound.String())
		return &Availability{Status: StatusNotFound}, nil
	}

	// A rejected submission is still retryable from the client's side.
	s.submit(itemID, logger)
	metrics.RecordOnDemand(StatusPending.String())
	return &Availability{Status: StatusPending}, nil
}

// FetchManifest returns the raw manifest of itemID's artifact, or
// storage.ErrNotFound when no complete unit is stored.
func (s *Service) FetchManifest(ctx context.Context, itemID string) ([]byte, error) {
	key := primaryKey(itemID)
	if _, err := s.artifacts.Validate(key); err != nil {
		var corrupt *bif.CorruptArtifactError
		if errors.As(err, &corrupt) {
			s.logger.WithItemID(itemID).WarnWithErr("Stored trickplay artifact is corrupt, hiding manifest", err)
			return nil, storage.ErrNotFound
		}
		if errors.Is(err, storage.ErrInvalidKey) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	data, err := s.manifests.ReadRaw(key)
	if errors.Is(err, storage.ErrInvalidKey) {
		return nil, storage.ErrNotFound
	}
	return data, err
}

// openCurrent opens a complete, valid unit for key
func (s *Service) openCurrent(key models.ArtifactKey) (*Availability, error) {
	manifest, err := s.manifests.Read(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			return nil, err
		}
		return nil, &bif.CorruptArtifactError{Reason: err.Error()}
	}

	f, ix, err := s.artifacts.OpenValidated(key)
	if err != nil {
		return nil, err
	}

	path, _ := s.artifacts.PathFor(key)
	avail := &Availability{
		Status:     StatusReady,
		Path:       path,
		Size:       ix.Size(),
		FrameCount: len(ix.Entries),
		File:       f,
		Manifest:   manifest,
	}
	if info, err := f.Stat(); err == nil {
		avail.ModTime = info.ModTime()
	}
	return avail, nil
}

// submit hands itemID to the on-demand trigger without waiting for it
func (s *Service) submit(itemID string, logger *logging.Logger) bool {
	trigger := s.getTrigger()
	if trigger == nil {
		return false
	}

	accepted := trigger.Submit(models.GenerationRequest{
		Kind:        models.RequestKindItem,
		ItemID:      itemID,
		Source:      models.RequestSourceOnDemand,
		Priority:    models.RequestPriorityHigh,
		RequestedAt: time.Now().UTC(),
	})
	if !accepted {
		logger.Warn("On-demand trickplay request rejected")
	}
	return accepted
}
