package trickplay

import (
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// Reason explains why an item or media source was not eligible
type Reason string

// Ineligibility reasons
const (
	ReasonNone            Reason = ""
	ReasonNotVideo        Reason = "not_video"
	ReasonDisc            Reason = "disc_image"
	ReasonShortcut        Reason = "shortcut"
	ReasonPlaceholder     Reason = "placeholder"
	ReasonVirtual         Reason = "virtual"
	ReasonUnknownDuration Reason = "unknown_duration"
	ReasonTooShort        Reason = "too_short"
	ReasonRemote          Reason = "remote_protocol"
	ReasonMissingFile     Reason = "missing_file"
	ReasonSubItem         Reason = "sub_item"
)

// FileExistsFunc reports whether a local path is an existing regular file
type FileExistsFunc func(path string) bool

// LocalFileExists is the FileExistsFunc backed by the real filesystem
func LocalFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsEligible reports whether previews can be generated for item under cfg.
// It has no side effects besides calling fileExists.
func IsEligible(item *models.VideoItem, cfg models.GenerationConfig, fileExists FileExistsFunc) (bool, Reason) {
	if item == nil || !item.Type.IsVideo() {
		return false, ReasonNotVideo
	}
	if item.VideoType.IsDisc() {
		return false, ReasonDisc
	}
	if item.IsShortcut {
		return false, ReasonShortcut
	}
	if item.IsPlaceholder {
		return false, ReasonPlaceholder
	}
	if item.IsVirtual {
		return false, ReasonVirtual
	}

	// Path, protocol and duration may live on the primary source only.
	for _, src := range item.Sources() {
		if src.ID == item.ID {
			return IsSourceEligible(item, src, cfg, fileExists)
		}
	}
	return false, ReasonSubItem
}

// IsSourceEligible applies the per-source checks to one media source of an
// already eligible item. Sources whose id differs from the item's are
// duplicates of another item and are skipped.
func IsSourceEligible(item *models.VideoItem, src models.MediaSource, cfg models.GenerationConfig, fileExists FileExistsFunc) (bool, Reason) {
	if src.ID != item.ID {
		return false, ReasonSubItem
	}
	protocol := src.Protocol
	if protocol == "" {
		protocol = item.Protocol
	}
	path := src.Path
	if path == "" {
		path = item.Path
	}
	return checkMedia(protocol, path, item.SourceDuration(src), cfg, fileExists)
}

func checkMedia(protocol models.Protocol, path string, duration time.Duration, cfg models.GenerationConfig, fileExists FileExistsFunc) (bool, Reason) {
	if duration <= 0 {
		return false, ReasonUnknownDuration
	}
	if cfg.IntervalMs <= 0 || duration < cfg.Interval() {
		return false, ReasonTooShort
	}
	// An empty protocol means a plain local path.
	if protocol != models.ProtocolFile && protocol != "" {
		return false, ReasonRemote
	}
	if path == "" || fileExists == nil || !fileExists(path) {
		return false, ReasonMissingFile
	}
	return true, ReasonNone
}
