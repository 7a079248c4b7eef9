package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/bif"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/catalog"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/config"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/middleware"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/storage"
	"github.com/therealutkarshpriyadarshi/trickplay/internal/trickplay"
	"github.com/therealutkarshpriyadarshi/trickplay/pkg/models"
)

type stubSampler struct {
	block chan struct{}
}

func (s *stubSampler) Sample(ctx context.Context, req models.SampleRequest) ([]models.Frame, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	n := int(req.Duration / req.Interval)
	frames := make([]models.Frame, n)
	for i := range frames {
		frames[i] = models.Frame{
			TimestampMs: int64(i) * req.Interval.Milliseconds(),
			Data:        []byte{0xFF, 0xD8, byte(i), 0xFF, 0xD9},
		}
	}
	return frames, nil
}

type stubTrigger struct {
	mu       sync.Mutex
	reject   bool
	requests []models.GenerationRequest
}

func (s *stubTrigger) Submit(req models.GenerationRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return false
	}
	s.requests = append(s.requests, req)
	return true
}

func (s *stubTrigger) Requests() []models.GenerationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.GenerationRequest(nil), s.requests...)
}

// MockPublisher is a mock implementation of Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, req *models.GenerationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

type testEnv struct {
	api     *API
	router  *gin.Engine
	svc     *trickplay.Service
	sampler *stubSampler
	trigger *stubTrigger
	lib     *catalog.Static
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	layout := storage.NewLayout(t.TempDir())
	lib := catalog.NewStatic()
	sampler := &stubSampler{}
	svc := trickplay.NewService(trickplay.Options{
		Catalog:   lib,
		Sampler:   sampler,
		Artifacts: storage.NewArtifactStore(layout),
		Manifests: storage.NewManifestStore(layout),
		Config: config.Fixed{
			WidthResolution:    320,
			IntervalMs:         10000,
			Quality:            4,
			OnDemandGeneration: true,
		},
		FileExists: func(string) bool { return true },
	}, logging.NewNopLogger())

	trigger := &stubTrigger{}
	svc.SetTrigger(trigger)

	api := &API{
		svc:        svc,
		batch:      trickplay.NewBatchTask(svc),
		trigger:    trigger,
		retryAfter: 10 * time.Second,
		logger:     logging.NewNopLogger(),
	}

	return &testEnv{
		api:     api,
		router:  setupRouter(api, middleware.NewRateLimiter(0, 0), logging.NewNopLogger()),
		svc:     svc,
		sampler: sampler,
		trigger: trigger,
		lib:     lib,
	}
}

func (e *testEnv) addVideo(id string, duration time.Duration) {
	e.lib.Put(&models.VideoItem{
		ID:        id,
		Path:      "/media/" + id + ".mkv",
		Type:      models.ItemTypeMovie,
		VideoType: models.VideoTypeFile,
		Protocol:  models.ProtocolFile,
		Duration:  duration,
	})
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("GET", "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "ondemand_pending")

	env.api.backlog = func() int { return 3 }
	w = env.do("GET", "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ondemand_pending":3`)

	env.api.health = func(context.Context) map[string]error {
		return map[string]error{"database": errors.New("connection refused")}
	}
	w = env.do("GET", "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestGetTrickplayIndexReady(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo("movie01", time.Minute)
	require.NoError(t, env.svc.RefreshItem(context.Background(), "movie01", false))

	w := env.do("GET", "/api/v1/videos/movie01/trickplay/index.bif")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, bif.ContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "6", w.Header().Get("X-Trickplay-Frames"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	frames, err := bif.Decode(w.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, frames, 6)
	assert.Equal(t, int64(50000), frames[5].TimestampMs)
	assert.Empty(t, env.trigger.Requests())
}

func TestGetTrickplayIndexRange(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo("movie01", time.Minute)
	require.NoError(t, env.svc.RefreshItem(context.Background(), "movie01", false))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/videos/movie01/trickplay/index.bif", nil)
	req.Header.Set("Range", "bytes=0-7")
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusPartialContent, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'B', 'I', 'F', 0x0d, 0x0a, 0x1a, 0x0a}, body)
}

func TestGetTrickplayIndexPending(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo("movie01", time.Minute)

	w := env.do("GET", "/api/v1/videos/movie01/trickplay/index.bif")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"))

	requests := env.trigger.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "movie01", requests[0].ItemID)
	assert.Equal(t, models.RequestSourceOnDemand, requests[0].Source)
}

func TestGetTrickplayIndexNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo("short01", 5*time.Second)

	w := env.do("GET", "/api/v1/videos/unknown/trickplay/index.bif")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("GET", "/api/v1/videos/short01/trickplay/index.bif")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, env.trigger.Requests())
}

func TestGetTrickplayManifest(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo("movie01", time.Minute)

	w := env.do("GET", "/api/v1/videos/movie01/trickplay/manifest.json")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, env.svc.RefreshItem(context.Background(), "movie01", false))

	w = env.do("GET", "/api/v1/videos/movie01/trickplay/manifest.json")
	require.Equal(t, http.StatusOK, w.Code)

	var manifest models.PreviewManifest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &manifest))
	assert.Equal(t, 320, manifest.WidthResolution)
	assert.Equal(t, 10000, manifest.Interval)
	assert.Equal(t, 6, manifest.FrameCount)
}

func TestRefreshItem(t *testing.T) {
	env := newTestEnv(t)

	w := env.do("POST", "/api/v1/videos/movie01/trickplay/refresh?replace=true")
	require.Equal(t, http.StatusAccepted, w.Code)

	requests := env.trigger.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "movie01", requests[0].ItemID)
	assert.Equal(t, models.RequestKindItem, requests[0].Kind)
	assert.Equal(t, models.RequestSourceAPI, requests[0].Source)
	assert.True(t, requests[0].Replace)

	env.trigger.reject = true
	w = env.do("POST", "/api/v1/videos/movie01/trickplay/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRefreshItemPublishesWhenQueueConfigured(t *testing.T) {
	env := newTestEnv(t)
	pub := new(MockPublisher)
	env.api.publisher = pub

	isMovie := mock.MatchedBy(func(req *models.GenerationRequest) bool {
		return req.ItemID == "movie01" && req.Source == models.RequestSourceAPI
	})
	pub.On("Publish", mock.Anything, isMovie).Return(nil).Once()
	pub.On("Publish", mock.Anything, isMovie).Return(errors.New("channel closed")).Once()

	w := env.do("POST", "/api/v1/videos/movie01/trickplay/refresh")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Empty(t, env.trigger.Requests())

	w = env.do("POST", "/api/v1/videos/movie01/trickplay/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	pub.AssertExpectations(t)
}

func TestBatchTaskEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo("movie01", time.Minute)
	env.addVideo("movie02", time.Minute)
	env.sampler.block = make(chan struct{})

	w := env.do("GET", "/api/v1/trickplay/tasks/refresh")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)

	w = env.do("DELETE", "/api/v1/trickplay/tasks/refresh")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do("POST", "/api/v1/trickplay/tasks/refresh")
	require.Equal(t, http.StatusAccepted, w.Code)
	var started trickplay.BatchStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, trickplay.BatchStateRunning, started.State)

	w = env.do("POST", "/api/v1/trickplay/tasks/refresh")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do("DELETE", "/api/v1/trickplay/tasks/refresh")
	assert.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.api.batch.Wait(ctx))

	w = env.do("GET", "/api/v1/trickplay/tasks/refresh")
	var status trickplay.BatchStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, trickplay.BatchStateCancelled, status.State)
	assert.Equal(t, started.RunID, status.RunID)
}

func TestBatchTaskRunsToCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.addVideo("movie01", time.Minute)

	w := env.do("POST", "/api/v1/trickplay/tasks/refresh?replace=true")
	require.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.api.batch.Wait(ctx))

	status := env.api.batch.Status()
	assert.Equal(t, trickplay.BatchStateCompleted, status.State)
	assert.True(t, status.Replace)
	assert.Equal(t, 100.0, status.Progress)

	w = env.do("GET", "/api/v1/videos/movie01/trickplay/index.bif")
	assert.Equal(t, http.StatusOK, w.Code)
}
