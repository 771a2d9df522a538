package visualcrossing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/httpretry"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/config"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/observability"
)

const defaultBaseURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services"

// Client fetches daily observations from the Visual Crossing Timeline API.
// The API is queried one calendar day at a time so a single bad day fails
// in isolation.
type Client struct {
	baseURL   string
	apiKey    string
	location  string
	unitGroup string
	retrier   *httpretry.Retrier
	logger    *slog.Logger
}

// NewClient creates a Timeline API client for the configured location.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		apiKey:    cfg.WeatherAPIKey,
		location:  cfg.WeatherLocation,
		unitGroup: cfg.WeatherUnitGroup,
		retrier: &httpretry.Retrier{
			Client: &http.Client{Timeout: cfg.FetchTimeout},
			Policy: httpretry.Policy{
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay,
				MaxDelay:    cfg.RetryMaxDelay,
			},
			Logger: logger,
			OnRetry: func() {
				metrics.FetchRetries.WithLabelValues(domain.SourceWeather).Inc()
			},
		},
		logger: logger,
	}
}

// FetchRange emits one single-day batch per calendar day in the range. A day
// the API has no entry for is emitted as a placeholder marked Missing rather
// than skipped, so the table never has a gap inside an ingested range.
func (c *Client) FetchRange(ctx context.Context, rng domain.DateRange, emit func([]domain.RawWeatherDay) error) error {
	for _, day := range rng.Days() {
		raw, err := c.fetchDay(ctx, day)
		if err != nil {
			return fmt.Errorf("weather for %s: %w", day.Format(domain.DateLayout), err)
		}
		if err := emit([]domain.RawWeatherDay{raw}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) fetchDay(ctx context.Context, day time.Time) (domain.RawWeatherDay, error) {
	date := day.Format(domain.DateLayout)
	params := url.Values{
		"unitGroup":   {c.unitGroup},
		"include":     {"days"},
		"key":         {c.apiKey},
		"contentType": {"json"},
	}
	fullURL := fmt.Sprintf("%s/timeline/%s/%s?%s", c.baseURL, url.PathEscape(c.location), date, params.Encode())

	resp, err := c.retrier.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	})
	if err != nil {
		return domain.RawWeatherDay{}, err
	}
	defer resp.Body.Close()

	var payload timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.RawWeatherDay{}, fmt.Errorf("decode timeline response: %w", err)
	}

	if len(payload.Days) == 0 {
		c.logger.Warn("day absent from timeline response", "date", date)
		return domain.RawWeatherDay{Date: date, Missing: true}, nil
	}

	raw := payload.Days[0]
	if raw.Date == "" {
		raw.Date = date
	}
	return raw, nil
}

// Timeline API response envelope. Only the days array is consumed.

type timelineResponse struct {
	Days []domain.RawWeatherDay `json:"days"`
}
