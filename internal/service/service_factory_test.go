package service

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"event-pipeline/internal/config"
	"event-pipeline/internal/monitoring"
)

func testConfig() *config.Config {
	return &config.Config{
		Generator: config.GeneratorConfig{UserPoolSize: 20, IPPoolSize: 20, Seed: 3, AttackProbability: 0.2},
		Pipeline:  config.PipelineConfig{ValidationMode: "strict", BatchSize: 10},
	}
}

func TestServiceFactory_MissingDependencies(t *testing.T) {
	f := NewServiceFactory(testConfig(), Repositories{}, monitoring.NewPipelineMetrics(prometheus.NewRegistry()), zap.NewNop())

	_, err := f.IngestService()
	assert.ErrorIs(t, err, ErrDependencyMissing)
	_, err = f.MetricsService()
	assert.ErrorIs(t, err, ErrDependencyMissing)
	_, err = f.SearchService()
	assert.ErrorIs(t, err, ErrDependencyMissing)
	_, err = f.GeneratorService()
	assert.ErrorIs(t, err, ErrDependencyMissing)

	f.Cleanup()
}

func TestServiceFactory_GeneratorSingleton(t *testing.T) {
	f := NewServiceFactory(testConfig(), Repositories{Publisher: &fakePublisher{}}, nil, zap.NewNop())

	a, err := f.GeneratorService()
	require.NoError(t, err)
	b, err := f.GeneratorService()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Len(t, a.gen.Users(), 20)
}
