package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"golang.org/x/sync/errgroup"

	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/arcgis"
	httpadapter "github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/http"
	kafkaadapter "github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/kafka"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/mysql"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/secrets"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/adapter/visualcrossing"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/config"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/domain"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/observability"
	"github.com/wangz99-crypto/dc-moving-violations-cloud-etl/internal/pipeline"
)

func main() {
	sourceFlag := flag.String("source", "all", "source to ingest: violations, weather, or all")
	serveFlag := flag.Bool("serve", false, "run the HTTP trigger server instead of a one-shot ingest")
	flag.Parse()

	// Local development convenience; a missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics, *sourceFlag, *serveFlag); err != nil {
		logger.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics, source string, serve bool) error {
	if serve || source == domain.SourceWeather || source == "all" {
		if err := cfg.ValidateWeather(); err != nil {
			return err
		}
	}

	creds, err := secrets.SelectProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	conn, err := creds.Resolve(ctx)
	if err != nil {
		return err
	}

	store, err := mysql.Open(ctx, mysql.Params{
		Host:     conn.Host,
		Port:     conn.Port,
		DBName:   conn.DBName,
		Username: conn.Username,
		Password: conn.Password,
	}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	var sink pipeline.QuarantineSink
	if cfg.QuarantineEnabled {
		qw := kafkaadapter.NewQuarantineWriter(cfg, logger)
		defer qw.Close()
		sink = qw
		logger.Info("quarantine sink enabled", "topic", cfg.QuarantineTopic)
	}

	registry := buildRegistry(cfg, store, sink, metrics, logger)

	if serve {
		return serveHTTP(ctx, cfg, registry, store, logger)
	}
	return runOnce(ctx, cfg, registry, source, logger)
}

func buildRegistry(cfg *config.Config, store *mysql.Store, sink pipeline.QuarantineSink, metrics *observability.Metrics, logger *slog.Logger) *pipeline.Registry {
	clock := clockwork.NewRealClock()

	violations := pipeline.New(
		domain.SourceViolations,
		arcgis.NewClient(cfg, metrics, logger),
		domain.NormalizeViolation,
		pipeline.WriterFunc[domain.Violation](store.UpsertViolations),
		store,
		pipeline.NewWatermarkResolver(store.LatestViolationDate, cfg.ViolationsFloor, cfg.LookbackDays, clock),
		clock, logger, metrics,
	)

	weather := pipeline.New(
		domain.SourceWeather,
		visualcrossing.NewClient(cfg, metrics, logger),
		domain.NormalizeWeatherDay,
		pipeline.WriterFunc[domain.WeatherDay](store.UpsertWeatherDays),
		store,
		pipeline.NewWatermarkResolver(store.LatestWeatherDate, cfg.WeatherFloor, cfg.LookbackDays, clock),
		clock, logger, metrics,
	)

	if sink != nil {
		violations.WithQuarantine(sink)
		weather.WithQuarantine(sink)
	}

	return pipeline.NewRegistry(violations, weather)
}

// runOnce ingests the requested sources and exits. Sources run concurrently;
// a failure in one does not cancel the other, and the first error wins.
func runOnce(ctx context.Context, cfg *config.Config, registry *pipeline.Registry, source string, logger *slog.Logger) error {
	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	var sources []string
	if source == "all" {
		sources = registry.Sources()
	} else {
		if _, ok := registry.Lookup(source); !ok {
			return fmt.Errorf("unknown source %q (want violations, weather, or all)", source)
		}
		sources = []string{source}
	}

	var g errgroup.Group
	for _, name := range sources {
		runner, _ := registry.Lookup(name)
		g.Go(func() error {
			_, err := runner.Run(runCtx)
			return err
		})
	}
	runErr := g.Wait()

	if cfg.PushgatewayURL != "" {
		if err := pushMetrics(cfg); err != nil {
			logger.Warn("pushgateway push failed", "error", err)
		}
	}
	return runErr
}

func pushMetrics(cfg *config.Config) error {
	return push.New(cfg.PushgatewayURL, "violations_etl").
		Gatherer(prometheus.DefaultGatherer).
		Push()
}

func serveHTTP(ctx context.Context, cfg *config.Config, registry *pipeline.Registry, store *mysql.Store, logger *slog.Logger) error {
	srv := httpadapter.NewServer(cfg.HTTPAddr, registry, store, cfg.RunTimeout, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
