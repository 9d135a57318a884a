package factory

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/config"
	"event-pipeline/internal/monitoring"
)

func TestHealthCheck_ReportsMissingSelectedClients(t *testing.T) {
	f := &Factory{
		config: &config.Config{Scylla: config.ScyllaConfig{Enabled: false}},
		opts:   WorkerOptions(),
	}

	errs := f.HealthCheck(context.Background())
	assert.Contains(t, errs, "clickhouse")
	assert.Contains(t, errs, "elasticsearch")
	assert.Contains(t, errs, "redis")
	assert.NotContains(t, errs, "scylla")
	assert.NotContains(t, errs, "kafka")
	assert.False(t, f.IsHealthy(context.Background()))
}

func TestIsHealthy_IgnoresBrokerAndFlagStore(t *testing.T) {
	f := &Factory{
		config: &config.Config{Scylla: config.ScyllaConfig{Enabled: true}},
		opts:   Options{Scylla: true, KafkaProducer: true},
	}

	errs := f.HealthCheck(context.Background())
	require.Len(t, errs, 2)
	assert.True(t, f.IsHealthy(context.Background()))
}

func TestTolerate(t *testing.T) {
	errs := []error{assert.AnError}

	dev := &Factory{config: &config.Config{Environment: config.EnvDevelopment}}
	assert.NoError(t, dev.tolerate("client initialization", errs))
	assert.NoError(t, dev.tolerate("client initialization", nil))

	prod := &Factory{config: &config.Config{Environment: config.EnvProduction}}
	assert.Error(t, prod.tolerate("client initialization", errs))
}

func TestServiceFactory_WithoutStores(t *testing.T) {
	f := &Factory{
		config:  &config.Config{},
		metrics: monitoring.NewPipelineMetrics(prometheus.NewRegistry()),
	}

	_, err := f.ServiceFactory().IngestService()
	assert.Error(t, err)
	_, err = f.ServiceFactory().GeneratorService()
	assert.Error(t, err)
	assert.Same(t, f.ServiceFactory(), f.ServiceFactory())
	assert.NoError(t, f.Close())
}
