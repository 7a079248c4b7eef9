package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

const (
	trickplayDir      = "trickplay"
	artifactExt       = ".bif"
	manifestExt       = ".manifest.json"
	defaultDirPerm    = 0755
	defaultFilePerm   = 0644
	manifestMaxLength = 64 << 10
)

// ErrNotFound is returned when an artifact or manifest does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidKey is returned for ids that cannot be mapped to a path
var ErrInvalidKey = errors.New("invalid artifact key")

// ArtifactWriteError wraps an I/O failure while replacing an artifact
type ArtifactWriteError struct {
	Path string
	Err  error
}

func (e *ArtifactWriteError) Error() string {
	return fmt.Sprintf("failed to write artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactWriteError) Unwrap() error {
	return e.Err
}

// ManifestWriteError wraps an I/O failure while replacing a manifest
type ManifestWriteError struct {
	Path string
	Err  error
}

func (e *ManifestWriteError) Error() string {
	return fmt.Sprintf("failed to write manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestWriteError) Unwrap() error {
	return e.Err
}

// Layout derives deterministic on-disk locations under the metadata root.
// Items are sharded by the first two characters of their id.
type Layout struct {
	Root string
}

// NewLayout creates a Layout rooted at root
func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// Dir returns the trickplay directory of an item
func (l Layout) Dir(itemID string) (string, error) {
	if err := validateID(itemID); err != nil {
		return "", err
	}
	shard := itemID
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(l.Root, strings.ToLower(shard), itemID, trickplayDir), nil
}

// ArtifactPath returns the artifact location for key
func (l Layout) ArtifactPath(key models.ArtifactKey) (string, error) {
	return l.file(key, artifactExt)
}

// ManifestPath returns the manifest location for key
func (l Layout) ManifestPath(key models.ArtifactKey) (string, error) {
	return l.file(key, manifestExt)
}

func (l Layout) file(key models.ArtifactKey, ext string) (string, error) {
	dir, err := l.Dir(key.ItemID)
	if err != nil {
		return "", err
	}
	source := sourceID(key)
	if err := validateID(source); err != nil {
		return "", err
	}
	return filepath.Join(dir, source+ext), nil
}

// ObjectName returns the object-storage key for a local file of key
func ObjectName(key models.ArtifactKey, ext string) string {
	return trickplayDir + "/" + key.ItemID + "/" + sourceID(key) + ext
}

func sourceID(key models.ArtifactKey) string {
	if key.SourceID == "" {
		return key.ItemID
	}
	return key.SourceID
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, id)
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, id)
	}
	return nil
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	switch {
	case strings.HasSuffix(filePath, manifestExt), filepath.Ext(filePath) == ".json":
		return "application/json"
	case filepath.Ext(filePath) == artifactExt:
		return "application/octet-stream"
	case filepath.Ext(filePath) == ".jpg", filepath.Ext(filePath) == ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
