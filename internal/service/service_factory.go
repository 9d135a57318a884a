package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"event-pipeline/internal/config"
	"event-pipeline/internal/events"
	"event-pipeline/internal/generator"
	"event-pipeline/internal/monitoring"
	"event-pipeline/internal/repository/clickhouse"
	"event-pipeline/internal/repository/elasticsearch"
	redisrepo "event-pipeline/internal/repository/redis"
	"event-pipeline/internal/repository/scylla"
)

// Repositories are the storage adapters a binary managed to open. Any of
// them may be nil; services that need a missing one are not built.
type Repositories struct {
	Events    *clickhouse.EventRepository
	Index     *elasticsearch.EventIndex
	Tracker   *redisrepo.ActivityTracker
	Flags     *scylla.SecurityEventRepository
	Publisher Publisher
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	config  *config.Config
	repos   Repositories
	metrics *monitoring.PipelineMetrics
	logger  *zap.Logger

	ingestService    *IngestService
	generatorService *GeneratorService
	metricsService   *MetricsService
	searchService    *SearchService
}

func NewServiceFactory(
	cfg *config.Config,
	repos Repositories,
	metrics *monitoring.PipelineMetrics,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		config:  cfg,
		repos:   repos,
		metrics: metrics,
		logger:  logger,
	}
}

// IngestService returns the worker pipeline (singleton). It needs both sinks.
func (f *ServiceFactory) IngestService() (*IngestService, error) {
	if f.ingestService != nil {
		return f.ingestService, nil
	}
	if f.repos.Events == nil || f.repos.Index == nil {
		return nil, errMissing("ingest service", "clickhouse and elasticsearch")
	}
	mode, err := events.ParseMode(f.config.Pipeline.ValidationMode)
	if err != nil {
		return nil, err
	}

	var tracker ActivityRecorder
	if f.repos.Tracker != nil {
		tracker = f.repos.Tracker
	} else {
		f.logger.Warn("Redis unavailable - high-risk detection disabled")
	}
	var flags FlagStore
	if f.repos.Flags != nil {
		flags = f.repos.Flags
	}

	f.ingestService = NewIngestService(f.repos.Events, f.repos.Index, tracker, flags, f.metrics, IngestOptions{
		ValidationMode: mode,
		BatchSize:      f.config.Pipeline.BatchSize,
		FlushInterval:  f.config.Pipeline.FlushInterval,
	})
	f.logger.Info("Ingest service initialized",
		zap.String("validation_mode", mode.String()),
		zap.Int("batch_size", f.config.Pipeline.BatchSize),
		zap.Bool("high_risk_tracking", tracker != nil),
		zap.Bool("flag_store", flags != nil))
	return f.ingestService, nil
}

// GeneratorService returns the load generator (singleton).
func (f *ServiceFactory) GeneratorService() (*GeneratorService, error) {
	if f.generatorService != nil {
		return f.generatorService, nil
	}
	if f.repos.Publisher == nil {
		return nil, errMissing("generator service", "kafka")
	}
	gc := f.config.Generator
	gen, err := generator.New(generator.Options{
		UserPoolSize: gc.UserPoolSize,
		IPPoolSize:   gc.IPPoolSize,
		Seed:         gc.Seed,
	}, generator.NewAttackMode(gc.StartInAttackMode))
	if err != nil {
		return nil, err
	}
	f.generatorService = NewGeneratorService(gen, f.repos.Publisher, f.metrics, GeneratorOptions{
		MaxDelay:          gc.MaxDelay,
		ToggleInterval:    gc.ToggleInterval,
		AttackProbability: gc.AttackProbability,
	})
	return f.generatorService, nil
}

// MetricsService returns the rollup query service (singleton).
func (f *ServiceFactory) MetricsService() (*MetricsService, error) {
	if f.metricsService != nil {
		return f.metricsService, nil
	}
	if f.repos.Events == nil {
		return nil, errMissing("metrics service", "clickhouse")
	}
	var flags FlagReader
	if f.repos.Flags != nil {
		flags = f.repos.Flags
	}
	f.metricsService = NewMetricsService(f.repos.Events, flags, f.metrics)
	return f.metricsService, nil
}

// SearchService returns the search query service (singleton).
func (f *ServiceFactory) SearchService() (*SearchService, error) {
	if f.searchService != nil {
		return f.searchService, nil
	}
	if f.repos.Index == nil {
		return nil, errMissing("search service", "elasticsearch")
	}
	f.searchService = NewSearchService(f.repos.Index, f.metrics)
	return f.searchService, nil
}

// Cleanup flushes anything the ingest service still buffers.
func (f *ServiceFactory) Cleanup() {
	if f.ingestService == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.ingestService.Flush(ctx); err != nil {
		f.logger.Error("Failed to flush ingest buffers", zap.Error(err))
	}
	f.ingestService.LogSummary()
}
