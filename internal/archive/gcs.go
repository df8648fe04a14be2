package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

// objectWriterFunc opens a writer for bucket/key.
type objectWriterFunc func(ctx context.Context, bucket, key, contentType string) io.WriteCloser

// GCSStore puts objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	writer objectWriterFunc
	bucket string
	logger *logging.Logger
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, bucket string, logger *logging.Logger) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: create gcs client: %w", err)
	}
	store := newGCSStore(bucket, func(ctx context.Context, bucket, key, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(key).NewWriter(ctx)
		w.ContentType = contentType
		return w
	}, logger)
	store.client = client
	return store, nil
}

func newGCSStore(bucket string, writer objectWriterFunc, logger *logging.Logger) *GCSStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &GCSStore{writer: writer, bucket: bucket, logger: logger}
}

func (g *GCSStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	w := g.writer(ctx, g.bucket, key, contentType)
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: gcs close %s: %w", key, err)
	}
	g.logger.Info("stored object in gcs", "bucket", g.bucket, "key", key, "bytes", len(body))
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key), nil
}

// Close releases the underlying client.
func (g *GCSStore) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
