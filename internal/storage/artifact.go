package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/bif"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

// ArtifactStore reads and replaces preview index files on the local
// metadata filesystem.
type ArtifactStore struct {
	layout Layout
}

// NewArtifactStore creates a new artifact store
func NewArtifactStore(layout Layout) *ArtifactStore {
	return &ArtifactStore{layout: layout}
}

// PathFor returns the deterministic artifact path for key
func (s *ArtifactStore) PathFor(key models.ArtifactKey) (string, error) {
	return s.layout.ArtifactPath(key)
}

// Exists reports whether an artifact file is present for key
func (s *ArtifactStore) Exists(key models.ArtifactKey) bool {
	path, err := s.PathFor(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes the artifact for key. Deleting a missing artifact is not
// an error.
func (s *ArtifactStore) Delete(key models.ArtifactKey) error {
	path, err := s.PathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// Write encodes frames into a pending file next to the final path and
// renames it into place. Readers see either the old file or the complete
// new one.
func (s *ArtifactStore) Write(key models.ArtifactKey, frames []models.Frame, intervalMs int) (int64, error) {
	path, err := s.PathFor(key)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return 0, &ArtifactWriteError{Path: path, Err: err}
	}

	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(defaultFilePerm))
	if err != nil {
		return 0, &ArtifactWriteError{Path: path, Err: err}
	}
	defer pf.Cleanup()

	n, err := bif.WriteTo(pf, frames, intervalMs)
	if err != nil {
		return 0, &ArtifactWriteError{Path: path, Err: err}
	}

	if err := pf.CloseAtomicallyReplace(); err != nil {
		return 0, &ArtifactWriteError{Path: path, Err: err}
	}

	return n, nil
}

// Open returns the artifact file and its size
func (s *ArtifactStore) Open(key models.ArtifactKey) (*os.File, int64, error) {
	path, err := s.PathFor(key)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open artifact: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat artifact: %w", err)
	}

	return f, info.Size(), nil
}

// Validate checks the stored artifact's header and index against its size
func (s *ArtifactStore) Validate(key models.ArtifactKey) (*bif.Index, error) {
	f, ix, err := s.OpenValidated(key)
	if err != nil {
		return nil, err
	}
	f.Close()
	return ix, nil
}

// OpenValidated opens the artifact and checks it before handing it out.
// The open handle keeps serving the same bytes if the artifact is replaced
// meanwhile. The caller closes the file.
func (s *ArtifactStore) OpenValidated(key models.ArtifactKey) (*os.File, *bif.Index, error) {
	f, size, err := s.Open(key)
	if err != nil {
		return nil, nil, err
	}

	ix, err := bif.ReadIndex(f, size)
	if err == nil && ix.Size() != size {
		err = &bif.CorruptArtifactError{
			Reason: fmt.Sprintf("declared length %d does not match file size %d", ix.Size(), size),
		}
	}
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, ix, nil
}
