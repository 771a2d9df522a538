// Package pipeline drives one bounded ingest run per source: resolve the
// date window from the stored watermark, stream raw pages from the source
// API, normalize them, and upsert the survivors batch by batch.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/observability"
)

// Fetcher streams raw records for a date range in source order. Emit is
// called once per page; an emit error stops the stream.
type Fetcher[R any] interface {
	FetchRange(ctx context.Context, rng domain.DateRange, emit func(batch []R) error) error
}

// BatchWriter upserts one normalized batch in a single transaction and
// reports the number of rows written.
type BatchWriter[E any] interface {
	UpsertBatch(ctx context.Context, batch []E) (int64, error)
}

// WriterFunc adapts a function to BatchWriter.
type WriterFunc[E any] func(ctx context.Context, batch []E) (int64, error)

func (f WriterFunc[E]) UpsertBatch(ctx context.Context, batch []E) (int64, error) {
	return f(ctx, batch)
}

// NormalizeFunc converts one raw record into a storable entity. A
// *domain.ValidationError quarantines the record and the run continues; any
// other error fails the run.
type NormalizeFunc[R, E any] func(raw R) (E, error)

// Leaser serializes runs per source. The release func must run on every
// exit path.
type Leaser interface {
	AcquireLease(ctx context.Context, source string) (func(), error)
}

// QuarantineSink receives records that failed validation.
type QuarantineSink interface {
	Publish(ctx context.Context, rec domain.QuarantinedRecord) error
}

// Pipeline orchestrates the fetch-normalize-upsert run for one source.
type Pipeline[R, E any] struct {
	source     string
	fetcher    Fetcher[R]
	normalize  NormalizeFunc[R, E]
	writer     BatchWriter[E]
	leaser     Leaser
	resolver   *WatermarkResolver
	quarantine QuarantineSink
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates a Pipeline with the given stages and observability.
func New[R, E any](
	source string,
	fetcher Fetcher[R],
	normalize NormalizeFunc[R, E],
	writer BatchWriter[E],
	leaser Leaser,
	resolver *WatermarkResolver,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Pipeline[R, E] {
	return &Pipeline[R, E]{
		source:    source,
		fetcher:   fetcher,
		normalize: normalize,
		writer:    writer,
		leaser:    leaser,
		resolver:  resolver,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// WithQuarantine attaches a dead-letter sink for records failing validation.
func (p *Pipeline[R, E]) WithQuarantine(sink QuarantineSink) *Pipeline[R, E] {
	p.quarantine = sink
	return p
}

// Source returns the source name this pipeline ingests.
func (p *Pipeline[R, E]) Source() string {
	return p.source
}

// Run executes one ingest run. It always returns a summary; the error mirrors
// summary.Error so callers can branch on failure without re-parsing it.
// Batches committed before a failure stay committed.
func (p *Pipeline[R, E]) Run(ctx context.Context) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		RunID:     uuid.NewString(),
		Source:    p.source,
		State:     domain.RunIdle,
		StartedAt: p.clock.Now().UTC(),
	}
	logger := p.logger.With("run_id", summary.RunID, "source", p.source)
	logger.Info("run starting")

	release, err := p.leaser.AcquireLease(ctx, p.source)
	if err != nil {
		return p.finish(logger, summary, fmt.Errorf("acquire lease: %w", err))
	}
	defer release()

	rng, err := p.resolver.Resolve(ctx)
	if err != nil {
		return p.finish(logger, summary, err)
	}
	summary.Range = rng
	logger.Info("window resolved", "window", rng.String(), "days", len(rng.Days()))

	summary.State = domain.RunFetching
	p.metrics.RunActive.WithLabelValues(p.source).Set(1)
	defer p.metrics.RunActive.WithLabelValues(p.source).Set(0)

	err = p.fetcher.FetchRange(ctx, rng, func(batch []R) error {
		return p.processBatch(ctx, logger, &summary, batch)
	})
	return p.finish(logger, summary, err)
}

// processBatch normalizes one fetched page and upserts the survivors in a
// single transaction.
func (p *Pipeline[R, E]) processBatch(ctx context.Context, logger *slog.Logger, summary *domain.RunSummary, batch []R) error {
	summary.Fetched += len(batch)
	p.metrics.RecordsFetched.WithLabelValues(p.source).Add(float64(len(batch)))

	summary.State = domain.RunNormalizing
	entities := make([]E, 0, len(batch))
	for _, raw := range batch {
		entity, err := p.normalize(raw)
		if err != nil {
			if !domain.IsValidation(err) {
				return fmt.Errorf("normalize: %w", err)
			}
			p.quarantineRecord(ctx, logger, summary, raw, err)
			continue
		}
		entities = append(entities, entity)
	}

	if len(entities) == 0 {
		summary.State = domain.RunFetching
		return nil
	}

	summary.State = domain.RunUpserting
	start := p.clock.Now()
	n, err := p.writer.UpsertBatch(ctx, entities)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	p.metrics.BatchUpsertDuration.WithLabelValues(p.source).Observe(p.clock.Since(start).Seconds())

	summary.Upserted += n
	summary.Batches++
	p.metrics.RowsUpserted.WithLabelValues(p.source).Add(float64(n))
	logger.Debug("batch committed", "rows", n, "batches", summary.Batches)

	summary.State = domain.RunFetching
	return nil
}

// quarantineRecord counts and logs a validation failure, and forwards the raw
// record to the sink when one is attached. Sink failures never fail the run.
func (p *Pipeline[R, E]) quarantineRecord(ctx context.Context, logger *slog.Logger, summary *domain.RunSummary, raw R, cause error) {
	summary.Quarantined++
	p.metrics.RecordsQuarantined.WithLabelValues(p.source).Inc()
	logger.Warn("record quarantined", "reason", cause.Error())

	if p.quarantine == nil {
		return
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		logger.Warn("quarantined record not serializable", "error", err)
		payload = nil
	}
	rec := domain.QuarantinedRecord{
		Source:     p.source,
		Reason:     cause.Error(),
		Record:     payload,
		OccurredAt: p.clock.Now().UTC(),
	}
	if err := p.quarantine.Publish(ctx, rec); err != nil {
		logger.Warn("quarantine publish failed", "error", err)
	}
}

// finish records the terminal state on the summary and in metrics.
func (p *Pipeline[R, E]) finish(logger *slog.Logger, summary domain.RunSummary, err error) (domain.RunSummary, error) {
	summary.FinishedAt = p.clock.Now().UTC()
	p.metrics.RunDuration.WithLabelValues(p.source).Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())

	if err != nil {
		summary.State = domain.RunFailed
		summary.Error = err.Error()
		p.metrics.RunsTotal.WithLabelValues(p.source, string(domain.RunFailed)).Inc()
		logger.Error("run failed",
			"error", err,
			"rows_fetched", summary.Fetched,
			"rows_quarantined", summary.Quarantined,
			"rows_upserted", summary.Upserted,
			"batches_committed", summary.Batches,
		)
		return summary, err
	}

	summary.State = domain.RunCompleted
	p.metrics.RunsTotal.WithLabelValues(p.source, string(domain.RunCompleted)).Inc()
	logger.Info("run completed",
		"rows_fetched", summary.Fetched,
		"rows_quarantined", summary.Quarantined,
		"rows_upserted", summary.Upserted,
		"batches_committed", summary.Batches,
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary, nil
}
