package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"kitaabse-pipeline/internal/domain"
	apperrors "kitaabse-pipeline/pkg/errors"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStorage stores assets in a Google Cloud Storage bucket.
type GCSStorage struct {
	client  *storage.Client
	bucket  string
	timeout time.Duration
	logger  domain.Logger
}

// NewGCSStorage creates a client using application default credentials.
func NewGCSStorage(ctx context.Context, bucket string, logger domain.Logger) (*GCSStorage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStorage{client: client, bucket: bucket, timeout: StorageTimeout, logger: logger}, nil
}

func (g *GCSStorage) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", classifyGCSError("upload "+key, err)
	}
	if err := w.Close(); err != nil {
		return "", classifyGCSError("upload "+key, err)
	}
	g.logger.Debug("Stored object", "bucket", g.bucket, "key", key)
	return GCSPublicURL(g.bucket, key), nil
}

func (g *GCSStorage) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, classifyGCSError("download "+key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classifyGCSError("download "+key, err)
	}
	return data, nil
}

func (g *GCSStorage) Close() error {
	return g.client.Close()
}

// GCSPublicURL is the public HTTPS URL of an object.
func GCSPublicURL(bucket, key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, key)
}

func classifyGCSError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError(op+" timed out", err)
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", op, domain.ErrObjectNotFound)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, domain.ErrObjectNotFound)
		case http.StatusTooManyRequests:
			return apperrors.NewRateLimitError("storage rate limit", err)
		}
	}
	return apperrors.NewNetworkError(op+" failed", err)
}
