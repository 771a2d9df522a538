package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
)

// LatestDateFunc reads the newest stored calendar date for a source, nil when
// the table is empty.
type LatestDateFunc func(ctx context.Context) (*time.Time, error)

// WatermarkResolver turns the stored watermark into the date range a run
// covers: from the watermark minus the look-back window, clamped to the
// source floor, through today. The look-back re-covers days whose upstream
// records land late.
type WatermarkResolver struct {
	latest       LatestDateFunc
	floor        time.Time
	lookbackDays int
	clock        clockwork.Clock
}

// NewWatermarkResolver builds a resolver for one source.
func NewWatermarkResolver(latest LatestDateFunc, floor time.Time, lookbackDays int, clock clockwork.Clock) *WatermarkResolver {
	return &WatermarkResolver{
		latest:       latest,
		floor:        domain.Midnight(floor),
		lookbackDays: lookbackDays,
		clock:        clock,
	}
}

// Resolve computes the run window. An empty table starts from the floor.
func (r *WatermarkResolver) Resolve(ctx context.Context) (domain.DateRange, error) {
	today := domain.Midnight(r.clock.Now().UTC())

	latest, err := r.latest(ctx)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("read watermark: %w", err)
	}

	start := r.floor
	if latest != nil {
		rewound := domain.Midnight(*latest).AddDate(0, 0, -r.lookbackDays)
		if rewound.After(start) {
			start = rewound
		}
	}

	return domain.NewDateRange(start, today), nil
}
