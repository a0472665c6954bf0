package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bobarin/reels/internal/db"
	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeItems struct {
	items    map[uuid.UUID]*models.ContentItem
	statuses []models.ContentStatus
	// restoreErr fails every status write after the first.
	restoreErr error
}

func (f *fakeItems) GetContentItem(_ context.Context, id uuid.UUID) (*models.ContentItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("content item %s: %w", id, db.ErrNotFound)
	}
	return item, nil
}

func (f *fakeItems) UpdateContentStatus(_ context.Context, id uuid.UUID, status models.ContentStatus) error {
	if f.restoreErr != nil && len(f.statuses) > 0 {
		return f.restoreErr
	}
	f.statuses = append(f.statuses, status)
	f.items[id].Status = status
	return nil
}

type fakeQueue struct {
	inputs []models.RenderJobInput
	err    error
}

func (q *fakeQueue) EnqueueRender(_ context.Context, input models.RenderJobInput) (*queue.Job, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.inputs = append(q.inputs, input)
	return &queue.Job{ID: uuid.New(), Type: "render", Input: input, CreatedAt: time.Now()}, nil
}

type fakePresigner struct{}

func (fakePresigner) PresignGet(_ context.Context, key string) (string, error) {
	return "https://signed.example/" + key, nil
}

func strPtr(s string) *string { return &s }

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *fakeItems, *fakeQueue, *models.ContentItem) {
	t.Helper()

	duration := 20
	item := &models.ContentItem{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Type:        "reel",
		Status:      models.ContentStatusDraft,
		Style:       strPtr("calm"),
		Format:      strPtr("1:1"),
		Duration:    &duration,
		MediaURLs:   models.StringList{"users/u/uploads/1-a.mp4", "users/u/uploads/2-b.mp4"},
		MusicPrompt: strPtr("acoustic guitar"),
	}
	items := &fakeItems{items: map[uuid.UUID]*models.ContentItem{item.ID: item}}
	q := &fakeQueue{}

	srv := httptest.NewServer(NewRouter(NewHandler(items, q, fakePresigner{}), RouterConfig{BackendAPIKey: apiKey}))
	t.Cleanup(srv.Close)
	return srv, items, q, item
}

func postRender(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/v1/renders", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreateRenderDefaultsFromItem(t *testing.T) {
	srv, items, q, item := newTestServer(t, "")

	resp := postRender(t, srv, fmt.Sprintf(`{"content_item_id":%q,"user_id":%q}`, item.ID, item.UserID))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted models.RenderAcceptedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, item.ID, accepted.ContentItemID)
	assert.Equal(t, models.ContentStatusGenerating, accepted.Status)

	require.Len(t, q.inputs, 1)
	in := q.inputs[0]
	assert.Equal(t, []string(item.MediaURLs), in.ClipURLs)
	assert.Equal(t, "calm", in.Style)
	assert.Equal(t, "1:1", in.Format)
	assert.Equal(t, 20.0, in.DurationSec)
	assert.Equal(t, "acoustic guitar", in.MusicPrompt)
	assert.Equal(t, "reel", in.ContentType)
	assert.Equal(t, []models.ContentStatus{models.ContentStatusGenerating}, items.statuses)
}

func TestCreateRenderRequestOverrides(t *testing.T) {
	srv, _, q, item := newTestServer(t, "")

	body := fmt.Sprintf(`{"content_item_id":%q,"user_id":%q,"clip_urls":["k1.mp4"],"style":"energetic","format":"16:9","duration_sec":45,"music_prompt":"synthwave"}`,
		item.ID, item.UserID)
	resp := postRender(t, srv, body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	in := q.inputs[0]
	assert.Equal(t, []string{"k1.mp4"}, in.ClipURLs)
	assert.Equal(t, "energetic", in.Style)
	assert.Equal(t, "16:9", in.Format)
	assert.Equal(t, 45.0, in.DurationSec)
	assert.Equal(t, "synthwave", in.MusicPrompt)
}

func TestCreateRenderRejections(t *testing.T) {
	srv, _, q, item := newTestServer(t, "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"missing ids", `{}`, http.StatusBadRequest},
		{"unknown item", fmt.Sprintf(`{"content_item_id":%q,"user_id":%q}`, uuid.New(), item.UserID), http.StatusNotFound},
		{"other user", fmt.Sprintf(`{"content_item_id":%q,"user_id":%q}`, item.ID, uuid.New()), http.StatusNotFound},
		{"bad format", fmt.Sprintf(`{"content_item_id":%q,"user_id":%q,"format":"4:3"}`, item.ID, item.UserID), http.StatusBadRequest},
		{"too long", fmt.Sprintf(`{"content_item_id":%q,"user_id":%q,"duration_sec":600}`, item.ID, item.UserID), http.StatusBadRequest},
		{"under a second", fmt.Sprintf(`{"content_item_id":%q,"user_id":%q,"duration_sec":0.5}`, item.ID, item.UserID), http.StatusBadRequest},
		{"negative", fmt.Sprintf(`{"content_item_id":%q,"user_id":%q,"duration_sec":-5}`, item.ID, item.UserID), http.StatusBadRequest},
		{"empty key", fmt.Sprintf(`{"content_item_id":%q,"user_id":%q,"clip_urls":[" "]}`, item.ID, item.UserID), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRender(t, srv, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Empty(t, q.inputs)
}

func TestCreateRenderNoClips(t *testing.T) {
	srv, _, q, item := newTestServer(t, "")
	item.MediaURLs = models.StringList{}

	resp := postRender(t, srv, fmt.Sprintf(`{"content_item_id":%q,"user_id":%q}`, item.ID, item.UserID))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, q.inputs)
}

func TestCreateRenderConflictWhileGenerating(t *testing.T) {
	srv, _, q, item := newTestServer(t, "")
	item.Status = models.ContentStatusGenerating

	resp := postRender(t, srv, fmt.Sprintf(`{"content_item_id":%q,"user_id":%q}`, item.ID, item.UserID))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Empty(t, q.inputs)
}

func TestCreateRenderEnqueueFailureRestoresStatus(t *testing.T) {
	srv, items, q, item := newTestServer(t, "")
	q.err = errors.New("redis: connection refused")

	resp := postRender(t, srv, fmt.Sprintf(`{"content_item_id":%q,"user_id":%q}`, item.ID, item.UserID))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, []models.ContentStatus{models.ContentStatusGenerating, models.ContentStatusDraft}, items.statuses)
}

func TestCreateRenderLogsFailedRestore(t *testing.T) {
	_, items, q, item := newTestServer(t, "")
	q.err = errors.New("redis: connection refused")
	items.restoreErr = errors.New("pq: connection reset")

	var buf bytes.Buffer
	h := NewHandler(items, q, fakePresigner{})
	h.log = zerolog.New(&buf)
	srv := httptest.NewServer(NewRouter(h, RouterConfig{}))
	t.Cleanup(srv.Close)

	resp := postRender(t, srv, fmt.Sprintf(`{"content_item_id":%q,"user_id":%q}`, item.ID, item.UserID))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, []models.ContentStatus{models.ContentStatusGenerating}, items.statuses)
	assert.Contains(t, buf.String(), "failed to restore content item status")
	assert.Contains(t, buf.String(), "pq: connection reset")
}

func TestGetContentItem(t *testing.T) {
	srv, _, _, item := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/v1/content-items/" + item.ID.String())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.ContentItem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, models.ContentStatusDraft, got.Status)

	resp2, err := http.Get(srv.URL + "/v1/content-items/not-a-uuid")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/v1/content-items/" + uuid.NewString())
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestGetContentItemDownload(t *testing.T) {
	srv, _, _, item := newTestServer(t, "")
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	resp, err := client.Get(srv.URL + "/v1/content-items/" + item.ID.String() + "/download")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	item.GeneratedMediaURL = strPtr("users/u/uploads/x-render.mp4")
	resp, err = client.Get(srv.URL + "/v1/content-items/" + item.ID.String() + "/download")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "https://signed.example/users/u/uploads/x-render.mp4", resp.Header.Get("Location"))
}

func TestAPIKeyAuth(t *testing.T) {
	srv, _, _, item := newTestServer(t, "secret")
	url := srv.URL + "/v1/content-items/" + item.ID.String()

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusForbidden},
		{"header", "X-API-Key", "secret", http.StatusOK},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, url, nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	srv, _, _, _ := newTestServer(t, "secret")

	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
