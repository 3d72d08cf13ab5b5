// Package gcs uploads collated datasets to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/collate"
	"github.com/JakeFAU/sold-listings-crawler/internal/listing"
)

const csvContentType = "text/csv"

// Config captures the bucket and object prefix collated files land under.
type Config struct {
	Bucket string
	Prefix string
}

// BlobStore writes objects to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage.gcs_bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// PutObject uploads r to name and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// ObjectName is where the collated file for day is stored:
// <prefix>/<day>/<file>.
func (s *BlobStore) ObjectName(day, file string) string {
	return path.Join(s.prefix, day, filepath.Base(file))
}

// Name implements collate.Exporter.
func (s *BlobStore) Name() string { return "gcs" }

// Export uploads the collated file as written on disk, so the object is
// byte-identical to the local artifact.
func (s *BlobStore) Export(ctx context.Context, res collate.Result, _ []listing.Record) error {
	f, err := os.Open(res.Path) // #nosec G304 -- collated artifact path
	if err != nil {
		return fmt.Errorf("open collated file: %w", err)
	}
	defer func() { _ = f.Close() }()

	uri, err := s.PutObject(ctx, s.ObjectName(res.Day, res.Path), csvContentType, f)
	if err != nil {
		return err
	}
	s.logger.Info("collated file uploaded", zap.String("uri", uri), zap.String("digest", res.Digest))
	return nil
}
