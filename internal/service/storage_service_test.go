package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"kitaabse-pipeline/internal/domain"
	apperrors "kitaabse-pipeline/pkg/errors"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	storage_go "github.com/supabase-community/storage-go"
	"google.golang.org/api/googleapi"
)

type fakeSupabaseObjects struct {
	objects     map[string][]byte
	contentType map[string]string
	upsert      map[string]bool
	failWith    error
	block       chan struct{}
}

func newFakeSupabaseObjects() *fakeSupabaseObjects {
	return &fakeSupabaseObjects{
		objects:     map[string][]byte{},
		contentType: map[string]string{},
		upsert:      map[string]bool{},
	}
}

func (f *fakeSupabaseObjects) UploadFile(bucket, path string, data io.Reader, opts ...storage_go.FileOptions) (storage_go.FileUploadResponse, error) {
	if f.block != nil {
		<-f.block
		return storage_go.FileUploadResponse{}, errors.New("connection reset")
	}
	if f.failWith != nil {
		return storage_go.FileUploadResponse{}, f.failWith
	}
	b, _ := io.ReadAll(data)
	key := bucket + "/" + path
	f.objects[key] = b
	if len(opts) > 0 {
		if opts[0].ContentType != nil {
			f.contentType[key] = *opts[0].ContentType
		}
		if opts[0].Upsert != nil {
			f.upsert[key] = *opts[0].Upsert
		}
	}
	return storage_go.FileUploadResponse{Key: key}, nil
}

func (f *fakeSupabaseObjects) DownloadFile(bucket, path string, _ ...storage_go.UrlOptions) ([]byte, error) {
	if f.block != nil {
		<-f.block
		return nil, errors.New("connection reset")
	}
	b, ok := f.objects[bucket+"/"+path]
	if !ok {
		return nil, errors.New(`{"statusCode":"404","error":"not_found","message":"Object not found"}`)
	}
	return b, nil
}

func (f *fakeSupabaseObjects) GetPublicUrl(bucket, path string, _ ...storage_go.UrlOptions) storage_go.SignedUrlResponse {
	return storage_go.SignedUrlResponse{SignedURL: fmt.Sprintf("https://cdn.test/storage/v1/object/public/%s/%s", bucket, path)}
}

func TestStorageKeys(t *testing.T) {
	assert.Equal(t, "kitaabse/pdfs/abc.pdf", PDFKey("abc"))
	assert.Equal(t, "kitaabse/covers/abc.jpg", CoverKey("abc"))
	assert.Equal(t, "kitaabse/audio/book_abc/page_0007.mp3", AudioKey("abc", 7))
	assert.Equal(t, "kitaabse/audio/book_abc/page_1234.mp3", AudioKey("abc", 1234))
}

func TestSupabaseStorage_UploadAndDownload(t *testing.T) {
	objects := newFakeSupabaseObjects()
	s := NewSupabaseStorage(objects, "media", NewMockLogger())

	url, err := s.Upload(context.Background(), AudioKey("b1", 3), bytes.NewReader([]byte("mp3")), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/storage/v1/object/public/media/kitaabse/audio/book_b1/page_0003.mp3", url)
	assert.Equal(t, "audio/mpeg", objects.contentType["media/kitaabse/audio/book_b1/page_0003.mp3"])
	assert.True(t, objects.upsert["media/kitaabse/audio/book_b1/page_0003.mp3"])

	data, err := s.Download(context.Background(), AudioKey("b1", 3))
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), data)

	_, err = s.Download(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestSupabaseStorage_UploadFailure(t *testing.T) {
	objects := newFakeSupabaseObjects()
	objects.failWith = errors.New("429 Too Many Requests")
	s := NewSupabaseStorage(objects, "media", NewMockLogger())

	_, err := s.Upload(context.Background(), "k", bytes.NewReader(nil), "audio/mpeg")
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))
}

func TestSupabaseStorage_HungCallsTimeOut(t *testing.T) {
	objects := newFakeSupabaseObjects()
	objects.block = make(chan struct{})
	t.Cleanup(func() { close(objects.block) })
	s := NewSupabaseStorage(objects, "media", NewMockLogger())
	s.timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := s.Upload(context.Background(), AudioKey("b1", 1), bytes.NewReader([]byte("mp3")), "audio/mpeg")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTimeout))
	assert.Less(t, time.Since(start), time.Second)

	_, err = s.Download(context.Background(), PDFKey("b1"))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Download(ctx, PDFKey("b1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyGCSError(t *testing.T) {
	assert.ErrorIs(t, classifyGCSError("download x", storage.ErrObjectNotExist), domain.ErrObjectNotFound)
	assert.ErrorIs(t, classifyGCSError("download x", &googleapi.Error{Code: http.StatusNotFound}), domain.ErrObjectNotFound)
	assert.True(t, apperrors.IsType(
		classifyGCSError("upload x", &googleapi.Error{Code: http.StatusTooManyRequests}),
		apperrors.ErrorTypeRateLimited,
	))
	assert.True(t, apperrors.IsType(classifyGCSError("upload x", errors.New("boom")), apperrors.ErrorTypeNetwork))
	assert.True(t, apperrors.IsType(
		classifyGCSError("upload x", fmt.Errorf("write: %w", context.DeadlineExceeded)),
		apperrors.ErrorTypeTimeout,
	))
	assert.Equal(t, "https://storage.googleapis.com/b/kitaabse/pdfs/x.pdf", GCSPublicURL("b", "kitaabse/pdfs/x.pdf"))
}
