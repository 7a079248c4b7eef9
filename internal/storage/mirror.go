package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/config"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

const (
	// DefaultPartSize for multipart uploads of large artifacts (16MB)
	DefaultPartSize = 16 * 1024 * 1024

	// MinPartSize accepted by S3-compatible stores (5MB)
	MinPartSize = 5 * 1024 * 1024
)

// Mirror replicates finished artifacts and manifests to an S3-compatible
// bucket so edge servers can serve them without the metadata filesystem.
type Mirror struct {
	client     *minio.Client
	bucketName string
	partSize   uint64
}

// NewMirror creates a mirror client and ensures the bucket exists
func NewMirror(ctx context.Context, cfg config.StorageConfig) (*Mirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	partSize := cfg.PartSize
	if partSize < MinPartSize {
		partSize = DefaultPartSize
	}

	return &Mirror{
		client:     client,
		bucketName: cfg.BucketName,
		partSize:   uint64(partSize),
	}, nil
}

// Publish uploads the artifact first and the manifest second, so a reader
// of the bucket never finds a manifest without its artifact.
func (m *Mirror) Publish(ctx context.Context, key models.ArtifactKey, artifactPath, manifestPath string, manifest *models.PreviewManifest) error {
	meta := map[string]string{
		"Width":    strconv.Itoa(manifest.WidthResolution),
		"Interval": strconv.Itoa(manifest.Interval),
		"Quality":  strconv.Itoa(manifest.Quality),
		"Frames":   strconv.Itoa(manifest.FrameCount),
	}

	artifactName := ObjectName(key, artifactExt)
	_, err := m.client.FPutObject(ctx, m.bucketName, artifactName, artifactPath, minio.PutObjectOptions{
		ContentType:  getContentType(artifactPath),
		UserMetadata: meta,
		PartSize:     m.partSize,
	})
	if err != nil {
		return fmt.Errorf("failed to upload artifact %s: %w", artifactName, err)
	}

	manifestName := ObjectName(key, manifestExt)
	_, err = m.client.FPutObject(ctx, m.bucketName, manifestName, manifestPath, minio.PutObjectOptions{
		ContentType:  getContentType(manifestPath),
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload manifest %s: %w", manifestName, err)
	}

	return nil
}

// Remove deletes the mirrored manifest and artifact for key
func (m *Mirror) Remove(ctx context.Context, key models.ArtifactKey) error {
	objectsCh := make(chan minio.ObjectInfo, 2)
	objectsCh <- minio.ObjectInfo{Key: ObjectName(key, manifestExt)}
	objectsCh <- minio.ObjectInfo{Key: ObjectName(key, artifactExt)}
	close(objectsCh)

	for err := range m.client.RemoveObjects(ctx, m.bucketName, objectsCh, minio.RemoveObjectsOptions{}) {
		if err.Err != nil {
			return fmt.Errorf("failed to delete object %s: %w", err.ObjectName, err.Err)
		}
	}

	return nil
}

// Ping checks that the bucket is reachable
func (m *Mirror) Ping(ctx context.Context) error {
	if _, err := m.client.BucketExists(ctx, m.bucketName); err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}
