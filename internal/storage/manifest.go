package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// ManifestStore reads and replaces the JSON sidecar recording the
// parameters of each stored artifact.
type ManifestStore struct {
	layout Layout
}

// NewManifestStore creates a new manifest store
func NewManifestStore(layout Layout) *ManifestStore {
	return &ManifestStore{layout: layout}
}

// PathFor returns the deterministic manifest path for key
func (s *ManifestStore) PathFor(key models.ArtifactKey) (string, error) {
	return s.layout.ManifestPath(key)
}

// ReadRaw returns the stored manifest bytes
func (s *ManifestStore) ReadRaw(key models.ArtifactKey) ([]byte, error) {
	path, err := s.PathFor(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, manifestMaxLength+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	if len(data) > manifestMaxLength {
		return nil, fmt.Errorf("manifest %s exceeds %d bytes", path, manifestMaxLength)
	}
	return data, nil
}

// Read returns the decoded manifest for key
func (s *ManifestStore) Read(key models.ArtifactKey) (*models.PreviewManifest, error) {
	data, err := s.ReadRaw(key)
	if err != nil {
		return nil, err
	}

	var m models.PreviewManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Write atomically replaces the manifest for key
func (s *ManifestStore) Write(key models.ArtifactKey, m *models.PreviewManifest) error {
	path, err := s.PathFor(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &ManifestWriteError{Path: path, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return &ManifestWriteError{Path: path, Err: err}
	}

	if err := renameio.WriteFile(path, data, defaultFilePerm); err != nil {
		return &ManifestWriteError{Path: path, Err: err}
	}
	return nil
}

// Delete removes the manifest for key; a missing manifest is not an error
func (s *ManifestStore) Delete(key models.ArtifactKey) error {
	path, err := s.PathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete manifest: %w", err)
	}
	return nil
}

// Matches reports whether a readable manifest exists for key and records
// exactly the parameters of cfg.
func (s *ManifestStore) Matches(key models.ArtifactKey, cfg models.GenerationConfig) bool {
	m, err := s.Read(key)
	if err != nil {
		return false
	}
	return m.Matches(cfg)
}
