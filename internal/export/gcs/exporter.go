// Package gcs uploads the combined table to Google Cloud Storage.
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

	"github.com/saeedabc/POI-Visit-Patterns-Analysis/internal/census"
)

const contentType = "text/csv; charset=utf-8"

// Config captures the destination bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Exporter copies the local combined CSV into a bucket.
type Exporter struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed exporter.
func New(client *storage.Client, cfg Config) (*Exporter, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Exporter{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Name identifies the sink in logs and metrics.
func (*Exporter) Name() string {
	return "gcs"
}

// ObjectName returns the object path the file at localPath is uploaded to.
func (e *Exporter) ObjectName(localPath string) string {
	return path.Join(e.prefix, filepath.Base(localPath))
}

// Export uploads the file at localPath and returns its gs:// URI.
func (e *Exporter) Export(ctx context.Context, _ *census.CombinedTable, localPath string) (string, error) {
	if strings.TrimSpace(localPath) == "" {
		return "", fmt.Errorf("local path is required")
	}
	// #nosec G304 -- localPath is the combined table the aggregator just wrote.
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open combined table: %w", err)
	}
	defer func() { _ = f.Close() }()

	object := e.ObjectName(localPath)
	writer := e.client.Bucket(e.bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, f); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", e.bucket, object), nil
}
