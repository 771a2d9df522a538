package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/http"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/pipeline"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

type stubRunner struct {
	name    string
	summary domain.RunSummary
	err     error
	runs    int
}

func (r *stubRunner) Source() string { return r.name }

func (r *stubRunner) Run(context.Context) (domain.RunSummary, error) {
	r.runs++
	return r.summary, r.err
}

func newTestServer(pingErr error, runners ...pipeline.Runner) *httpadapter.Server {
	return httpadapter.NewServer(":0", pipeline.NewRegistry(runners...), &mockPinger{err: pingErr}, time.Minute, discardLogger)
}

func completedSummary() domain.RunSummary {
	return domain.RunSummary{
		RunID:       "4f7c2a92-0000-0000-0000-000000000000",
		Source:      domain.SourceViolations,
		Range:       domain.NewDateRange(time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC), time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)),
		State:       domain.RunCompleted,
		Fetched:     10,
		Quarantined: 1,
		Upserted:    9,
		Batches:     2,
	}
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenDatabaseReachable(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenDatabaseDown(t *testing.T) {
	srv := newTestServer(fmt.Errorf("dial tcp: connection refused"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Contains(t, body["error"], "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestTriggerRun_Completed(t *testing.T) {
	runner := &stubRunner{name: domain.SourceViolations, summary: completedSummary()}
	srv := newTestServer(nil, runner)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs/violations", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.runs)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["state"])
	assert.Equal(t, float64(10), body["rows_fetched"])
	assert.Equal(t, float64(1), body["rows_quarantined"])
	assert.Equal(t, float64(9), body["rows_upserted"])
	assert.Equal(t, float64(2), body["batches_committed"])
	assert.NotContains(t, body, "error")

	rng, ok := body["range"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2025-06-11", rng["from"])
	assert.Equal(t, "2025-06-20", rng["to"])
}

func TestTriggerRun_LeaseHeldConflicts(t *testing.T) {
	runner := &stubRunner{
		name: domain.SourceWeather,
		summary: domain.RunSummary{
			Source: domain.SourceWeather,
			State:  domain.RunFailed,
			Error:  "acquire lease: lease etl_ingest_weather: ingest lease already held",
		},
		err: fmt.Errorf("acquire lease: %w", domain.ErrLeaseHeld),
	}
	srv := newTestServer(nil, runner)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs/weather", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["state"])
	assert.Contains(t, body["error"], "lease")
}

func TestTriggerRun_FailureReturns500WithSummary(t *testing.T) {
	runner := &stubRunner{
		name: domain.SourceViolations,
		summary: domain.RunSummary{
			Source:   domain.SourceViolations,
			State:    domain.RunFailed,
			Upserted: 2000,
			Batches:  1,
			Error:    "upsert batch: Deadlock found when trying to get lock",
		},
		err: errors.New("upsert batch: Deadlock found when trying to get lock"),
	}
	srv := newTestServer(nil, runner)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs/violations", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["state"])
	assert.Equal(t, float64(2000), body["rows_upserted"], "committed batches stay visible")
	assert.Contains(t, body["error"], "Deadlock")
}

func TestTriggerRun_UnknownSource(t *testing.T) {
	srv := newTestServer(nil, &stubRunner{name: domain.SourceViolations})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runs/asteroids", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "asteroids")
}

func TestTriggerRun_GetNotAllowed(t *testing.T) {
	srv := newTestServer(nil, &stubRunner{name: domain.SourceViolations})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/runs/violations", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
