// Package filestore persists raw uploaded statement bytes. The GCS backend
// is used in deployments; Null keeps everything ephemeral for tests and
// local single-instance runs.
package filestore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Store saves and fetches raw statement bytes by URI.
type Store interface {
	// Save writes the bytes under the object name and returns the URI.
	Save(ctx context.Context, objectName string, data []byte) (string, error)
	// Fetch reads the bytes back by the URI Save returned.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// GCS stores statement files in a Google Cloud Storage bucket. Credentials
// come from Application Default Credentials.
type GCS struct {
	bucket string
}

func NewGCS(bucket string) *GCS {
	return &GCS{bucket: bucket}
}

func (g *GCS) Save(ctx context.Context, objectName string, data []byte) (string, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("filestore.Save: create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("filestore.Save: write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("filestore.Save: finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucket, objectName), nil
}

func (g *GCS) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucketName, objectPath, err := splitURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("filestore.Fetch: create storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("filestore.Fetch: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("filestore.Fetch: reading bytes: %w", err)
	}
	return data, nil
}

func splitURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

var _ Store = (*GCS)(nil)

// Null discards bytes and cannot fetch them back. The file registry still
// records the upload; only the raw bytes are not retained.
type Null struct{}

func (Null) Save(ctx context.Context, objectName string, data []byte) (string, error) {
	return "null://" + objectName, nil
}

func (Null) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return nil, fmt.Errorf("filestore.Fetch: null store retains no bytes (%s)", uri)
}

var _ Store = Null{}
