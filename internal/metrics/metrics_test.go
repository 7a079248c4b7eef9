package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/therealutkarshpriyadarshi/trickplay/internal/logging"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("GET", "/api/v1/videos/:id/trickplay/index.bif", "503", 0.004)

	counter := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/videos/:id/trickplay/index.bif", "503"))
	if counter != 1.0 {
		t.Errorf("Expected counter to be 1.0, got %f", counter)
	}
}

func TestRecordGeneration(t *testing.T) {
	GenerationsTotal.Reset()

	RecordGeneration("batch", "completed")
	RecordGeneration("batch", "completed")
	RecordGeneration("ondemand", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(GenerationsTotal.WithLabelValues("batch", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(GenerationsTotal.WithLabelValues("ondemand", "failed")))
}

func TestRecordSkip(t *testing.T) {
	SkippedTotal.Reset()

	RecordSkip("up_to_date")
	RecordSkip("ineligible")
	RecordSkip("up_to_date")

	assert.Equal(t, 2.0, testutil.ToFloat64(SkippedTotal.WithLabelValues("up_to_date")))
}

func TestPermitGauge(t *testing.T) {
	PermitsInUse.Set(0)

	RecordPermitAcquired(0.01)
	RecordPermitAcquired(0.02)
	RecordPermitReleased()

	assert.Equal(t, 1.0, testutil.ToFloat64(PermitsInUse))
	RecordPermitReleased()
	assert.Equal(t, 0.0, testutil.ToFloat64(PermitsInUse))
}

func TestRecordOnDemand(t *testing.T) {
	OnDemandRequestsTotal.Reset()

	RecordOnDemand("pending")
	RecordOnDemand("ready")

	assert.Equal(t, 1.0, testutil.ToFloat64(OnDemandRequestsTotal.WithLabelValues("pending")))
}

func TestRecordCacheAccess(t *testing.T) {
	CacheHitsTotal.Reset()
	CacheMissesTotal.Reset()

	RecordCacheAccess("catalog", true)
	RecordCacheAccess("catalog", false)
	RecordCacheAccess("catalog", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(CacheHitsTotal.WithLabelValues("catalog")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CacheMissesTotal.WithLabelValues("catalog")))
}

func TestRecordQueueDepth(t *testing.T) {
	RecordQueueDepth("generate", 12)
	RecordQueueDepth("generate", 3)
	RecordQueueDepth("dead_letter", 1)

	assert.Equal(t, 3.0, testutil.ToFloat64(QueueMessages.WithLabelValues("generate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(QueueMessages.WithLabelValues("dead_letter")))
}

func TestServerHandler(t *testing.T) {
	RecordError("trickplay", "extraction")

	s := NewServer(0, nil, logging.NewNopLogger())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "trickplay_errors_total"))

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerReadiness(t *testing.T) {
	ready := errors.New("ffmpeg: executable file not found")
	s := NewServer(0, func(context.Context) error { return ready }, logging.NewNopLogger())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "executable file not found")

	ready = nil
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
