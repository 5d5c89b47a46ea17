package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/betterme/betterme/internal/errors"
)

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		contentType string
		expected    string
	}{
		{"image/jpeg", ".jpg"},
		{"IMAGE/JPEG", ".jpg"},
		{"image/jpg", ".jpg"},
		{"image/png", ".png"},
		{"image/webp", ".webp"},
		{"image/gif", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.expected, extensionFor(tt.contentType))
		})
	}
}

func TestPublicBaseURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/photos",
		publicBaseURL(Config{PublicBaseURL: "https://cdn.example.com/photos/", Endpoint: "https://x"}))
	assert.Equal(t, "https://proj.supabase.co/storage/v1/s3/analysis-photos",
		publicBaseURL(Config{Endpoint: "https://proj.supabase.co/storage/v1/s3/", Bucket: "analysis-photos"}))
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com",
		publicBaseURL(Config{Bucket: "b", Region: "eu-west-1"}))
}

type s3Request struct {
	Method      string
	Path        string
	ContentType string
	Auth        string
}

// fakeS3 answers path style object requests.
func fakeS3(t *testing.T, status int) (*httptest.Server, func() []s3Request) {
	var mu sync.Mutex
	var reqs []s3Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		reqs = append(reqs, s3Request{
			Method:      r.Method,
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Auth:        r.Header.Get("Authorization"),
		})
		mu.Unlock()
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
			return
		}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []s3Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]s3Request(nil), reqs...)
	}
}

func newTestUploader(t *testing.T, endpoint string) *S3Uploader {
	t.Helper()
	u, err := NewS3Uploader(context.Background(), Config{
		Endpoint:      endpoint,
		Region:        "us-east-1",
		Bucket:        "analysis-photos",
		AccessKey:     "AKID",
		SecretKey:     "secret",
		PublicBaseURL: "https://cdn.example.com/public/analysis-photos",
	})
	require.NoError(t, err)
	return u
}

func TestUploadPhoto(t *testing.T) {
	srv, requests := fakeS3(t, http.StatusOK)
	u := newTestUploader(t, srv.URL)

	res, err := u.UploadPhoto(context.Background(), "u1", "front", []byte("\x89PNG"), "image/png")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^analyses/u1/front/[0-9a-f-]{36}\.png$`), res.Key)
	assert.Equal(t, "https://cdn.example.com/public/analysis-photos/"+res.Key, res.URL)
	assert.Equal(t, int64(4), res.Size)
	assert.Equal(t, "analysis-photos", res.Bucket)

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPut, reqs[0].Method)
	assert.Equal(t, "/analysis-photos/"+res.Key, reqs[0].Path)
	assert.Equal(t, "image/png", reqs[0].ContentType)
	assert.Contains(t, reqs[0].Auth, "Credential=AKID/")
}

func TestUploadPhotoKeysAreUnique(t *testing.T) {
	srv, _ := fakeS3(t, http.StatusOK)
	u := newTestUploader(t, srv.URL)

	a, err := u.UploadPhoto(context.Background(), "u1", "body", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	b, err := u.UploadPhoto(context.Background(), "u1", "body", []byte("x"), "image/jpeg")
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, b.Key)
}

func TestUploadPhotoRejectsInput(t *testing.T) {
	srv, requests := fakeS3(t, http.StatusOK)
	u := newTestUploader(t, srv.URL)

	_, err := u.UploadPhoto(context.Background(), "u1", "front", nil, "image/png")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))

	_, err = u.UploadPhoto(context.Background(), "u1", "front", []byte("GIF89a"), "image/gif")
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))

	assert.Empty(t, requests())
}

func TestUploadPhotoServerError(t *testing.T) {
	srv, _ := fakeS3(t, http.StatusForbidden)
	u := newTestUploader(t, srv.URL)

	_, err := u.UploadPhoto(context.Background(), "u1", "front", []byte("x"), "image/png")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeNetwork))
}

func TestDeleteAndCheckBucket(t *testing.T) {
	srv, requests := fakeS3(t, http.StatusOK)
	u := newTestUploader(t, srv.URL)

	require.NoError(t, u.DeleteFile(context.Background(), "analyses/u1/front/a.png"))
	require.NoError(t, u.CheckBucketAccess(context.Background()))

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, http.MethodDelete, reqs[0].Method)
	assert.Equal(t, "/analysis-photos/analyses/u1/front/a.png", reqs[0].Path)
	assert.Equal(t, http.MethodHead, reqs[1].Method)
}

func TestNewS3UploaderRequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), Config{Region: "us-east-1"})
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeValidation))
}
