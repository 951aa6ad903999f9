package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"kitaabse-pipeline/internal/domain"
	apperrors "kitaabse-pipeline/pkg/errors"

	storage_go "github.com/supabase-community/storage-go"
)

// Object keys are deterministic so retries overwrite instead of duplicating.
const storagePrefix = "kitaabse"

// StorageTimeout bounds one object upload or download.
const StorageTimeout = 2 * time.Minute

func PDFKey(documentID string) string {
	return fmt.Sprintf("%s/pdfs/%s.pdf", storagePrefix, documentID)
}

func CoverKey(documentID string) string {
	return fmt.Sprintf("%s/covers/%s.jpg", storagePrefix, documentID)
}

func AudioKey(documentID string, page int) string {
	return fmt.Sprintf("%s/audio/book_%s/page_%04d.mp3", storagePrefix, documentID, page)
}

// supabaseObjects is the subset of *storage_go.Client used here.
type supabaseObjects interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	DownloadFile(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) ([]byte, error)
	GetPublicUrl(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
}

// SupabaseStorage stores assets in a Supabase Storage bucket.
type SupabaseStorage struct {
	objects supabaseObjects
	bucket  string
	timeout time.Duration
	logger  domain.Logger
}

func NewSupabaseStorage(objects supabaseObjects, bucket string, logger domain.Logger) *SupabaseStorage {
	return &SupabaseStorage{
		objects: objects,
		bucket:  bucket,
		timeout: StorageTimeout,
		logger:  logger,
	}
}

func (s *SupabaseStorage) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	upsert := true
	_, err := bounded(ctx, s.timeout, "upload "+key, func() (storage_go.FileUploadResponse, error) {
		return s.objects.UploadFile(s.bucket, key, r, storage_go.FileOptions{
			ContentType: &contentType,
			Upsert:      &upsert,
		})
	})
	if err != nil {
		return "", classifyStorageError("upload "+key, err)
	}
	url := s.objects.GetPublicUrl(s.bucket, key).SignedURL
	s.logger.Debug("Stored object", "bucket", s.bucket, "key", key)
	return url, nil
}

func (s *SupabaseStorage) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := bounded(ctx, s.timeout, "download "+key, func() ([]byte, error) {
		return s.objects.DownloadFile(s.bucket, key)
	})
	if err != nil {
		return nil, classifyStorageError("download "+key, err)
	}
	return data, nil
}

// bounded runs call on its own goroutine and stops waiting when ctx ends or
// timeout passes. storage-go calls take no context.
func bounded[T any](ctx context.Context, timeout time.Duration, op string, call func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, apperrors.NewTimeoutError(op+" timed out", ctx.Err())
		}
		return zero, ctx.Err()
	}
}

func classifyStorageError(op string, err error) error {
	if apperrors.IsType(err, apperrors.ErrorTypeTimeout) || errors.Is(err, context.Canceled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		return fmt.Errorf("%s: %w", op, domain.ErrObjectNotFound)
	case apperrors.IsRateLimited(err):
		return apperrors.NewRateLimitError("storage rate limit", err)
	default:
		return apperrors.NewNetworkError(op+" failed", err)
	}
}
