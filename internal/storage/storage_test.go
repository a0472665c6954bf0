package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeR2 is a minimal path-style S3 endpoint holding objects in memory.
type fakeR2 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeR2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/reels/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(body)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStorage(t *testing.T) (*Storage, *fakeR2) {
	t.Helper()
	fake := &fakeR2{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), Config{
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Bucket:          "reels",
	})
	require.NoError(t, err)
	return s, fake
}

func TestUploadDownloadDelete(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "render.mp4")
	require.NoError(t, os.WriteFile(src, []byte("rendered-bytes"), 0644))

	key := "users/u/uploads/x-render.mp4"
	require.NoError(t, s.UploadFile(ctx, key, src, "video/mp4"))
	assert.Equal(t, []byte("rendered-bytes"), fake.objects[key])

	dst := filepath.Join(dir, "nested", "copy.mp4")
	require.NoError(t, s.DownloadFile(ctx, key, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "rendered-bytes", string(got))

	require.NoError(t, s.Delete(ctx, key))
	assert.NotContains(t, fake.objects, key)
}

func TestDownloadMissingKey(t *testing.T) {
	s, _ := newTestStorage(t)

	err := s.DownloadFile(context.Background(), "users/u/uploads/missing.mp4", filepath.Join(t.TempDir(), "x.mp4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestPresignGet(t *testing.T) {
	s, _ := newTestStorage(t)

	url, err := s.PresignGet(context.Background(), "users/u/uploads/a.mp4")
	require.NoError(t, err)
	assert.Contains(t, url, "/reels/users/u/uploads/a.mp4")
	assert.Contains(t, url, "X-Amz-Signature=")
}

func TestBuildFileKey(t *testing.T) {
	userID := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	key := BuildFileKey(userID, "my clip (1)..mp4")
	assert.True(t, strings.HasPrefix(key, "users/11111111-1111-1111-1111-111111111111/uploads/"))
	assert.True(t, strings.HasSuffix(key, "-my_clip__1_.mp4"), key)

	assert.NotEqual(t, key, BuildFileKey(userID, "my clip (1)..mp4"))
}

func TestRenderKey(t *testing.T) {
	userID := uuid.New()
	itemID := uuid.New()

	key := RenderKey(userID, itemID)
	assert.True(t, strings.HasSuffix(key, itemID.String()+"-render.mp4"))
}

func TestSanitizeFilenameLimitsLength(t *testing.T) {
	assert.Len(t, SanitizeFilename(strings.Repeat("a", 300)), 200)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "video/mp4", ContentTypeFor("a/b.MP4"))
	assert.Equal(t, "video/quicktime", ContentTypeFor("clip.mov"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("noext"))
}
