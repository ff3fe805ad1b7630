package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	k := NewKey("capsules/", "Holiday.JPG")
	assert.True(t, strings.HasPrefix(k, "capsules/"))
	assert.True(t, strings.HasSuffix(k, ".jpg"))
	assert.NotEqual(t, k, NewKey("capsules", "Holiday.JPG"))

	assert.NotContains(t, NewKey("", `..\..\evil.png`), "..")
}

func TestMemoryStorage(t *testing.T) {
	m := NewMemoryStorage("https://cdn.test/")
	ctx := context.Background()

	obj, err := m.Put(ctx, "note.txt", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/"+obj.Key, obj.URL)

	data, ok := m.Get(obj.Key)
	require.True(t, ok)
	assert.Equal(t, "hi", string(data))

	require.NoError(t, m.Delete(ctx, obj.Key))
	assert.ErrorIs(t, m.Delete(ctx, obj.Key), ErrNotFound)
	assert.Zero(t, m.Len())
}

type fakeS3 struct {
	mu       sync.Mutex
	requests []string
	bodies   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.bodies[r.URL.Path] = string(body)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Storage_PutAndDelete(t *testing.T) {
	fake := &fakeS3{bodies: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Storage(context.Background(), S3Config{
		Bucket:         "capsules",
		Region:         "us-east-1",
		Endpoint:       srv.URL,
		ForcePathStyle: true,
		AccessKey:      "test",
		SecretKey:      "test",
		KeyPrefix:      "media",
	})
	require.NoError(t, err)

	obj, err := s.Put(context.Background(), "clip.mp4", "video/mp4", strings.NewReader("frames"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.Key, "media/"))
	assert.Equal(t, srv.URL+"/capsules/"+obj.Key, obj.URL)

	require.NoError(t, s.Delete(context.Background(), obj.Key))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{
		"PUT /capsules/" + obj.Key,
		"DELETE /capsules/" + obj.Key,
	}, fake.requests)
	assert.Contains(t, fake.bodies["/capsules/"+obj.Key], "frames")
}

func TestS3Storage_URL(t *testing.T) {
	s := &S3Storage{config: S3Config{Bucket: "b", Region: "eu-west-1"}}
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/k", s.URL("k"))

	s.config.PublicBaseURL = "https://cdn.test/"
	assert.Equal(t, "https://cdn.test/k", s.URL("k"))

	_, err := NewS3Storage(context.Background(), S3Config{})
	assert.Error(t, err)
}
