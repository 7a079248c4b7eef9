package models

import (
	"fmt"
	"time"
)

// ImageFormatJPEG is the only still-image encoding written into artifacts
const ImageFormatJPEG = "jpg"

// GenerationConfig is the immutable snapshot of trickplay settings taken at
// the start of a run.
type GenerationConfig struct {
	WidthResolution    int  `json:"width_resolution"`
	IntervalMs         int  `json:"interval_ms"`
	Quality            int  `json:"quality"`
	OnDemandGeneration bool `json:"on_demand_generation"`
	KeyframeOnly       bool `json:"keyframe_only"`
}

// Interval returns the sampling interval as a duration
func (c GenerationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// ExpectedFrameCount returns how many frames a video of the given duration
// yields at this interval (rounded down).
func (c GenerationConfig) ExpectedFrameCount(duration time.Duration) int {
	if c.IntervalMs <= 0 || duration <= 0 {
		return 0
	}
	return int(duration / c.Interval())
}

// String renders the parameters that identify an artifact
func (c GenerationConfig) String() string {
	return fmt.Sprintf("width=%d interval=%dms quality=%d", c.WidthResolution, c.IntervalMs, c.Quality)
}

// PreviewManifest records the parameters actually used to produce the
// stored artifact for one media source.
type PreviewManifest struct {
	WidthResolution int       `json:"imageWidthResolution"`
	Interval        int       `json:"imageInterval"`
	Quality         int       `json:"imageQuality,omitempty"`
	Format          string    `json:"imageFormat,omitempty"`
	FrameCount      int       `json:"frameCount"`
	GeneratedAt     time.Time `json:"generatedAt"`
}

// NewPreviewManifest builds the manifest for an artifact generated with cfg
func NewPreviewManifest(cfg GenerationConfig, frameCount int, at time.Time) *PreviewManifest {
	return &PreviewManifest{
		WidthResolution: cfg.WidthResolution,
		Interval:        cfg.IntervalMs,
		Quality:         cfg.Quality,
		Format:          ImageFormatJPEG,
		FrameCount:      frameCount,
		GeneratedAt:     at.UTC(),
	}
}

// Matches compares every generation parameter against cfg
func (m *PreviewManifest) Matches(cfg GenerationConfig) bool {
	if m == nil {
		return false
	}
	return m.WidthResolution == cfg.WidthResolution &&
		m.Interval == cfg.IntervalMs &&
		m.Quality == cfg.Quality
}

// Frame is one sampled still image
type Frame struct {
	TimestampMs int64
	Data        []byte
}

// ArtifactKey names the artifact and manifest pair of one media source
type ArtifactKey struct {
	ItemID   string
	SourceID string
}

func (k ArtifactKey) String() string {
	if k.SourceID == "" || k.SourceID == k.ItemID {
		return k.ItemID
	}
	return k.ItemID + "/" + k.SourceID
}

// SampleRequest describes one frame-extraction run
type SampleRequest struct {
	SourcePath   string
	Interval     time.Duration
	Width        int
	Quality      int
	Duration     time.Duration
	KeyframeOnly bool

	// Codec hints from the catalog
	Container  string
	VideoCodec string
}

// MaxFrames returns the frame cap implied by duration and interval
func (r SampleRequest) MaxFrames() int {
	if r.Interval <= 0 || r.Duration <= 0 {
		return 0
	}
	return int(r.Duration / r.Interval)
}
