package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/httpretry"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testClient(baseURL string, pageSize int) *Client {
	return &Client{
		baseURL:  baseURL,
		pageSize: pageSize,
		retrier: &httpretry.Retrier{
			Client: &http.Client{Timeout: 5 * time.Second},
			Policy: httpretry.Policy{
				MaxAttempts: 3,
				BaseDelay:   time.Millisecond,
				MaxDelay:    4 * time.Millisecond,
			},
			Logger: discardLogger,
		},
		logger: discardLogger,
	}
}

func singleDay(t *testing.T, date string) domain.DateRange {
	t.Helper()
	d, err := time.Parse(domain.DateLayout, date)
	require.NoError(t, err)
	return domain.NewDateRange(d, d)
}

func featurePage(ids ...int) map[string]any {
	feats := make([]map[string]any, len(ids))
	for i, id := range ids {
		feats[i] = map[string]any{"attributes": map[string]any{
			"OBJECTID":    id,
			"FINE_AMOUNT": 100,
		}}
	}
	return map[string]any{"features": feats}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClient_FetchRange_PaginatesUntilShortPage(t *testing.T) {
	day, _ := time.Parse(domain.DateLayout, "2024-10-05")
	wantWhere := fmt.Sprintf("ISSUE_DATE >= %d AND ISSUE_DATE < %d",
		day.UnixMilli(), day.AddDate(0, 0, 1).UnixMilli())

	var offsets []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Violations_Moving_2024/MapServer/9/query", r.URL.Path)
		assert.Equal(t, wantWhere, r.URL.Query().Get("where"))

		if r.URL.Query().Get("returnCountOnly") == "true" {
			writeJSON(t, w, map[string]any{"count": 5})
			return
		}

		assert.Equal(t, "*", r.URL.Query().Get("outFields"))
		assert.Equal(t, "false", r.URL.Query().Get("returnGeometry"))
		assert.Equal(t, "2", r.URL.Query().Get("resultRecordCount"))

		offset, err := strconv.Atoi(r.URL.Query().Get("resultOffset"))
		require.NoError(t, err)
		offsets = append(offsets, offset)

		switch offset {
		case 0:
			writeJSON(t, w, featurePage(1, 2))
		case 2:
			writeJSON(t, w, featurePage(3, 4))
		default:
			writeJSON(t, w, featurePage(5))
		}
	}))
	defer srv.Close()

	var batches [][]domain.RawViolation
	err := testClient(srv.URL, 2).FetchRange(context.Background(), singleDay(t, "2024-10-05"),
		func(batch []domain.RawViolation) error {
			batches = append(batches, batch)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 4}, offsets)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)
	assert.Equal(t, float64(1), batches[0][0]["OBJECTID"])
	assert.Equal(t, float64(5), batches[2][0]["OBJECTID"])
}

func TestClient_FetchRange_EmptyDay(t *testing.T) {
	var queries int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("returnCountOnly") == "true" {
			writeJSON(t, w, map[string]any{"count": 0})
			return
		}
		queries++
		writeJSON(t, w, featurePage())
	}))
	defer srv.Close()

	var batches [][]domain.RawViolation
	err := testClient(srv.URL, 2000).FetchRange(context.Background(), singleDay(t, "2025-03-14"),
		func(batch []domain.RawViolation) error {
			batches = append(batches, batch)
			return nil
		})
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Equal(t, 1, queries)
}

func TestClient_FetchRange_RoutesEachDayToItsLayer(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("returnCountOnly") != "true" {
			paths = append(paths, r.URL.Path)
		}
		writeJSON(t, w, featurePage())
	}))
	defer srv.Close()

	from, _ := time.Parse(domain.DateLayout, "2024-12-31")
	to, _ := time.Parse(domain.DateLayout, "2025-01-01")

	err := testClient(srv.URL, 2000).FetchRange(context.Background(), domain.NewDateRange(from, to),
		func([]domain.RawViolation) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/Violations_Moving_2024/MapServer/11/query",
		"/Violations_Moving_2025/MapServer/0/query",
	}, paths)
}

func TestClient_FetchRange_UnmappedMonth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, featurePage())
	}))
	defer srv.Close()

	err := testClient(srv.URL, 2000).FetchRange(context.Background(), singleDay(t, "2023-05-01"),
		func([]domain.RawViolation) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2023-05")
}

func TestClient_FetchRange_ServerErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("returnCountOnly") == "true" {
			writeJSON(t, w, map[string]any{"count": 1})
			return
		}
		// MapServer reports failures inside a 200 response.
		writeJSON(t, w, map[string]any{"error": map[string]any{"code": 400, "message": "Invalid layer"}})
	}))
	defer srv.Close()

	err := testClient(srv.URL, 2000).FetchRange(context.Background(), singleDay(t, "2024-10-05"),
		func([]domain.RawViolation) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapserver error 400")
}

func TestClient_FetchRange_EmitErrorAborts(t *testing.T) {
	var queries int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("returnCountOnly") == "true" {
			writeJSON(t, w, map[string]any{"count": 4})
			return
		}
		queries++
		writeJSON(t, w, featurePage(1, 2))
	}))
	defer srv.Close()

	sentinel := fmt.Errorf("batch rejected")
	err := testClient(srv.URL, 2).FetchRange(context.Background(), singleDay(t, "2024-10-05"),
		func([]domain.RawViolation) error { return sentinel })
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, queries, "no further pages after the emit failure")
}

func TestClient_FetchRange_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "token rejected", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := testClient(srv.URL, 2000).FetchRange(context.Background(), singleDay(t, "2024-10-05"),
		func([]domain.RawViolation) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestClient_Count(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("returnCountOnly"))
		writeJSON(t, w, map[string]any{"count": 42})
	}))
	defer srv.Close()

	day, _ := time.Parse(domain.DateLayout, "2025-06-15")
	count, err := testClient(srv.URL, 2000).Count(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, 42, count)
}
