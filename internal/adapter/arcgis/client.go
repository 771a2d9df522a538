// Package arcgis fetches DC moving-violation citations from the DC GIS
// MapServer query API.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/httpretry"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/config"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/observability"
)

const defaultBaseURL = "https://maps2.dcgis.dc.gov/dcgis/rest/services/DCGIS_DATA"

const monthKeyLayout = "2006-01"

// layerRef locates the MapServer layer owning one month of citations.
type layerRef struct {
	service string
	layer   int
}

// monthLayers routes a month key to its layer. The publisher provisions one
// service per calendar year; 2024 starts mid-year at layer 8, later years
// run layers 0-11 from January.
var monthLayers = buildMonthLayers()

func buildMonthLayers() map[string]layerRef {
	layers := map[string]layerRef{
		"2024-09": {"Violations_Moving_2024", 8},
		"2024-10": {"Violations_Moving_2024", 9},
		"2024-11": {"Violations_Moving_2024", 10},
		"2024-12": {"Violations_Moving_2024", 11},
	}
	for _, year := range []int{2025, 2026} {
		service := fmt.Sprintf("Violations_Moving_%d", year)
		for m := 1; m <= 12; m++ {
			layers[fmt.Sprintf("%d-%02d", year, m)] = layerRef{service, m - 1}
		}
	}
	return layers
}

// Client pages citation features out of the MapServer query API.
// It implements pipeline.Fetcher[domain.RawViolation].
type Client struct {
	baseURL  string
	pageSize int
	retrier  *httpretry.Retrier
	logger   *slog.Logger
}

// NewClient creates a MapServer client with the configured page size and
// retry policy.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  defaultBaseURL,
		pageSize: cfg.PageSize,
		retrier: &httpretry.Retrier{
			Client: &http.Client{Timeout: cfg.FetchTimeout},
			Policy: httpretry.Policy{
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay,
				MaxDelay:    cfg.RetryMaxDelay,
			},
			Logger: logger,
			OnRetry: func() {
				metrics.FetchRetries.WithLabelValues(domain.SourceViolations).Inc()
			},
		},
		logger: logger,
	}
}

// FetchRange queries each day in the range, paging through the owning month
// layer and emitting one batch per page. Batches preserve source order.
func (c *Client) FetchRange(ctx context.Context, rng domain.DateRange, emit func(batch []domain.RawViolation) error) error {
	for _, day := range rng.Days() {
		if err := c.fetchDay(ctx, day, emit); err != nil {
			return fmt.Errorf("violations for %s: %w", day.Format(domain.DateLayout), err)
		}
	}
	return nil
}

func (c *Client) fetchDay(ctx context.Context, day time.Time, emit func([]domain.RawViolation) error) error {
	ref, ok := monthLayers[day.Format(monthKeyLayout)]
	if !ok {
		return fmt.Errorf("no layer mapping for month %s", day.Format(monthKeyLayout))
	}

	if count, err := c.Count(ctx, day); err == nil {
		c.logger.Debug("day volume", "day", day.Format(domain.DateLayout), "expected_rows", count)
	} else {
		c.logger.Debug("count query failed", "day", day.Format(domain.DateLayout), "error", err)
	}

	offset := 0
	for {
		page, err := c.queryPage(ctx, ref, day, offset)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := emit(page); err != nil {
			return err
		}
		// A short page is the last one.
		if len(page) < c.pageSize {
			return nil
		}
		offset += len(page)
	}
}

// Count asks the owning layer how many citations the day holds. Used for
// volume logging before paging begins.
func (c *Client) Count(ctx context.Context, day time.Time) (int, error) {
	ref, ok := monthLayers[day.Format(monthKeyLayout)]
	if !ok {
		return 0, fmt.Errorf("no layer mapping for month %s", day.Format(monthKeyLayout))
	}

	params := url.Values{
		"where":           {whereClause(day)},
		"returnCountOnly": {"true"},
		"f":               {"json"},
	}

	var payload struct {
		Count *int         `json:"count"`
		Error *serverError `json:"error"`
	}
	if err := c.getJSON(ctx, ref, params, &payload); err != nil {
		return 0, err
	}
	if payload.Error != nil {
		return 0, payload.Error
	}
	if payload.Count == nil {
		return 0, fmt.Errorf("count response missing count")
	}
	return *payload.Count, nil
}

func (c *Client) queryPage(ctx context.Context, ref layerRef, day time.Time, offset int) ([]domain.RawViolation, error) {
	params := url.Values{
		"where":             {whereClause(day)},
		"outFields":         {"*"},
		"returnGeometry":    {"false"},
		"f":                 {"json"},
		"resultOffset":      {strconv.Itoa(offset)},
		"resultRecordCount": {strconv.Itoa(c.pageSize)},
	}

	var payload struct {
		Features []feature    `json:"features"`
		Error    *serverError `json:"error"`
	}
	if err := c.getJSON(ctx, ref, params, &payload); err != nil {
		return nil, err
	}
	if payload.Error != nil {
		return nil, payload.Error
	}

	batch := make([]domain.RawViolation, len(payload.Features))
	for i, f := range payload.Features {
		batch[i] = f.Attributes
	}
	return batch, nil
}

func (c *Client) getJSON(ctx context.Context, ref layerRef, params url.Values, out any) error {
	queryURL := fmt.Sprintf("%s/%s/MapServer/%d/query?%s", c.baseURL, ref.service, ref.layer, params.Encode())

	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode query response: %w", err)
	}
	return nil
}

// whereClause bounds ISSUE_DATE to one UTC day in millisecond epoch, the
// unit the MapServer stores timestamps in.
func whereClause(day time.Time) string {
	start := day.UnixMilli()
	end := day.AddDate(0, 0, 1).UnixMilli()
	return fmt.Sprintf("ISSUE_DATE >= %d AND ISSUE_DATE < %d", start, end)
}

type feature struct {
	Attributes domain.RawViolation `json:"attributes"`
}

// serverError is the MapServer's in-band failure envelope, delivered with
// HTTP 200.
type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *serverError) Error() string {
	return fmt.Sprintf("mapserver error %d: %s", e.Code, e.Message)
}
