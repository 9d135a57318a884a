package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"event-pipeline/internal/factory"
	"event-pipeline/internal/routing"
	"event-pipeline/internal/service"
	"event-pipeline/internal/util"
)

func main() {
	f, err := factory.NewFactory(factory.WorkerOptions())
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()

	ingest, err := f.ServiceFactory().IngestService()
	if err != nil {
		util.Fatal("Failed to build ingest service", util.ErrorField(err))
	}

	consumers, err := f.KafkaConsumers(routing.Topics())
	if err != nil {
		util.Fatal("Failed to subscribe to event topics", util.ErrorField(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	metricsServer := &http.Server{
		Addr:              cfg.Pipeline.MetricsAddr,
		Handler:           metricsRouter(f),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, c := range consumers {
		g.Go(func() error {
			return ingest.Consume(gctx, c)
		})
	}

	g.Go(func() error {
		ingest.RunFlushers(gctx)
		return nil
	})

	g.Go(func() error {
		runSummary(gctx, ingest, cfg.Pipeline.SummaryInterval)
		return nil
	})

	g.Go(func() error {
		util.Info("Worker metrics listening", util.String("address", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	util.Info("Stream worker started",
		util.Strings("topics", routing.Topics()),
		util.String("consumer_group", cfg.Kafka.ConsumerGroup),
		util.Int("batch_size", cfg.Pipeline.BatchSize),
		util.Duration("flush_interval", cfg.Pipeline.FlushInterval),
	)

	if err := g.Wait(); err != nil {
		util.Error("Stream worker stopped with error", util.ErrorField(err))
		f.Close()
		os.Exit(1)
	}
	util.Info("Stream worker stopped")
}

// metricsRouter exposes the Prometheus registry and a liveness probe.
func metricsRouter(f *factory.Factory) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !f.IsHealthy(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.Write([]byte(`{"status":"healthy"}`))
	})
	return r
}

func runSummary(ctx context.Context, ingest *service.IngestService, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ingest.LogSummary()
		}
	}
}
