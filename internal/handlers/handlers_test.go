package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lehigh-university-libraries/imagebatch/internal/batch"
	"github.com/lehigh-university-libraries/imagebatch/internal/credentials"
	"github.com/lehigh-university-libraries/imagebatch/internal/generation"
	"github.com/lehigh-university-libraries/imagebatch/internal/kvstore"
	"github.com/lehigh-university-libraries/imagebatch/internal/models"
	"github.com/lehigh-university-libraries/imagebatch/internal/pacing"
)

type fakeService struct {
	failOn   map[string]string
	mimeType string
}

func (f *fakeService) Generate(_ context.Context, req generation.Request) (*generation.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, generation.ErrPromptRequired
	}
	if msg, ok := f.failOn[req.Prompt]; ok {
		return nil, &generation.Error{Status: http.StatusInternalServerError, Message: msg}
	}
	return &generation.Response{
		ImageBase64: base64.StdEncoding.EncodeToString([]byte("png:" + req.Prompt)),
		MIMEType:    f.mimeType,
	}, nil
}

type testServer struct {
	handler *Handler
	runner  *batch.Runner
	pool    *credentials.Pool
	store   *kvstore.MemoryStore
	mux     *http.ServeMux
}

func newTestServer(t *testing.T, svc generation.Service) *testServer {
	t.Helper()
	store := kvstore.NewMemoryStore()
	pool := credentials.NewPool(store)
	runner := batch.NewRunner(svc, pool, pacing.NewFixed(0))
	h := New(context.Background(), svc, runner, pool)

	mux := http.NewServeMux()
	h.Register(mux, nil, nil)
	return &testServer{handler: h, runner: runner, pool: pool, store: store, mux: mux}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload["error"]
}

func TestGenerateImage(t *testing.T) {
	srv := newTestServer(t, &fakeService{failOn: map[string]string{"boom": "No image data received from imagen"}})

	w := srv.do(http.MethodPost, "/api/generate-image", `{"prompt":"red fox","apiKey":"k"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp generation.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png:red fox")), resp.ImageBase64)

	tests := []struct {
		name     string
		method   string
		body     string
		wantCode int
		wantErr  string
	}{
		{name: "wrong method", method: http.MethodGet, wantCode: http.StatusMethodNotAllowed, wantErr: "Method not allowed"},
		{name: "bad json", method: http.MethodPost, body: "{", wantCode: http.StatusBadRequest},
		{name: "empty prompt", method: http.MethodPost, body: `{"prompt":"  "}`, wantCode: http.StatusBadRequest, wantErr: "Prompt is required"},
		{name: "service failure", method: http.MethodPost, body: `{"prompt":"boom"}`, wantCode: http.StatusInternalServerError, wantErr: "No image data received from imagen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(tt.method, "/api/generate-image", tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			msg := decodeError(t, w)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, msg)
			} else {
				assert.NotEmpty(t, msg)
			}
			if tt.wantCode == http.StatusMethodNotAllowed {
				assert.Equal(t, http.MethodPost, w.Header().Get("Allow"))
			}
		})
	}
}

func TestPromptsAndItems(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	w := srv.do(http.MethodPost, "/api/prompts", `{"text":"a\n\nb\n  \nc"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(http.MethodGet, "/api/items", "")
	require.Equal(t, http.StatusOK, w.Code)
	var items []models.WorkItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, i, items[i].ID)
		assert.Equal(t, want, items[i].Prompt)
		assert.Equal(t, models.StatusPending, items[i].Status)
	}

	w = srv.do(http.MethodGet, "/api/items/1", "")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodGet, "/api/items/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodGet, "/api/items/x", "").Code)
	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodGet, "/api/items/0/image", "").Code)
}

func TestRunPreconditions(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	w := srv.do(http.MethodPost, "/api/run", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "load prompts first", decodeError(t, w))

	srv.do(http.MethodPost, "/api/prompts", `{"text":"red fox"}`)
	w = srv.do(http.MethodPost, "/api/run", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "set at least one credential", decodeError(t, w))

	item, _ := srv.runner.Item(0)
	assert.Equal(t, models.StatusPending, item.Status)
}

func TestRunFlow(t *testing.T) {
	srv := newTestServer(t, &fakeService{failOn: map[string]string{"blue bird": "quota exceeded"}})

	w := srv.do(http.MethodPut, "/api/keys", `{"keys":["","AIzaSyExampleKey1234"],"activeIndex":0}`)
	require.Equal(t, http.StatusOK, w.Code)

	srv.do(http.MethodPost, "/api/prompts", `{"text":"red fox\nblue bird"}`)

	w = srv.do(http.MethodPost, "/api/run", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	srv.handler.Wait()

	items := srv.runner.Items()
	assert.Equal(t, models.StatusDone, items[0].Status)
	assert.Equal(t, "001-red-fox.png", items[0].FileName)
	assert.Equal(t, models.StatusError, items[1].Status)
	assert.Equal(t, "quota exceeded", items[1].Error)

	w = srv.do(http.MethodGet, "/api/state", "")
	var state models.RunState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.False(t, state.IsRunning)
	assert.Equal(t, 0, state.CurrentIndex)
	assert.Equal(t, batch.FinishedMessage, state.Message)

	w = srv.do(http.MethodGet, "/api/items/0/image", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="001-red-fox.png"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "png:red fox", w.Body.String())

	w = srv.do(http.MethodPost, "/api/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, srv.runner.Items())
}

func TestRunConflictWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	svc := &blockingService{started: started, release: release}
	srv := newTestServer(t, svc)
	require.NoError(t, srv.pool.Set(0, "k"))
	srv.do(http.MethodPost, "/api/prompts", `{"text":"slow"}`)

	require.Equal(t, http.StatusAccepted, srv.do(http.MethodPost, "/api/run", "").Code)
	<-started

	assert.Equal(t, http.StatusConflict, srv.do(http.MethodPost, "/api/run", "").Code)
	assert.Equal(t, http.StatusConflict, srv.do(http.MethodPost, "/api/reset", "").Code)
	assert.Equal(t, http.StatusConflict, srv.do(http.MethodPost, "/api/prompts", `{"text":"x"}`).Code)

	close(release)
	srv.handler.Wait()
	assert.False(t, srv.runner.State().IsRunning)
}

func TestKeysUpdateRejectedWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	srv := newTestServer(t, &blockingService{started: started, release: release})
	require.NoError(t, srv.pool.Set(0, "k"))
	srv.do(http.MethodPost, "/api/prompts", `{"text":"slow"}`)

	require.Equal(t, http.StatusAccepted, srv.do(http.MethodPost, "/api/run", "").Code)
	<-started

	w := srv.do(http.MethodPut, "/api/keys", `{"keys":[],"activeIndex":5}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, batch.ErrRunning.Error(), decodeError(t, w))
	assert.Equal(t, []int{0}, srv.pool.Filled())
	assert.Equal(t, 0, srv.pool.Cursor())

	close(release)
	srv.handler.Wait()

	item, ok := srv.runner.Item(0)
	require.True(t, ok)
	assert.Equal(t, models.StatusDone, item.Status)
	assert.Equal(t, http.StatusOK, srv.do(http.MethodPut, "/api/keys", `{"keys":[],"activeIndex":5}`).Code)
}

func TestItemImageUsesReportedMIMEType(t *testing.T) {
	srv := newTestServer(t, &fakeService{mimeType: "image/jpeg"})
	require.NoError(t, srv.pool.Set(0, "k"))
	srv.do(http.MethodPost, "/api/prompts", `{"text":"red fox"}`)

	require.Equal(t, http.StatusAccepted, srv.do(http.MethodPost, "/api/run", "").Code)
	srv.handler.Wait()

	item, ok := srv.runner.Item(0)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", item.MIMEType)
	assert.True(t, strings.HasPrefix(item.ImageURL, "data:image/jpeg;base64,"))

	w := srv.do(http.MethodGet, "/api/items/0/image", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
}

type blockingService struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingService) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	close(b.started)
	<-b.release
	return &generation.Response{ImageBase64: base64.StdEncoding.EncodeToString([]byte("x"))}, nil
}

func TestKeys(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	w := srv.do(http.MethodPut, "/api/keys", `{"keys":["AIzaSyExampleKey1234","","short"],"activeIndex":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp keysResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Keys, credentials.SlotCount)
	assert.Equal(t, "••••1234", resp.Keys[0])
	assert.Equal(t, "", resp.Keys[1])
	assert.Equal(t, "•••••", resp.Keys[2])
	assert.Equal(t, 2, resp.ActiveIndex)
	assert.NotContains(t, w.Body.String(), "AIzaSyExampleKey1234")

	saved, ok, err := srv.store.Get(context.Background(), kvstore.KeyCursor)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", saved)

	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodPut, "/api/keys", `{"keys":[],"activeIndex":10}`).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(http.MethodPut, "/api/keys", `{"keys":["1","2","3","4","5","6","7","8","9","10","11"],"activeIndex":0}`).Code)
}

func TestHealthcheck(t *testing.T) {
	srv := newTestServer(t, &fakeService{})
	w := srv.do(http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}
