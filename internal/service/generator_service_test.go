package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/events"
	"event-pipeline/internal/generator"
	"event-pipeline/internal/monitoring"
	"event-pipeline/internal/routing"
)

type publishedMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, publishedMessage{topic, string(key), value, headers})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func newGeneratorService(t *testing.T, attack bool, pub Publisher) (*GeneratorService, *monitoring.PipelineMetrics) {
	t.Helper()
	gen, err := generator.New(generator.Options{Seed: 7}, generator.NewAttackMode(attack))
	require.NoError(t, err)
	metrics := monitoring.NewPipelineMetrics(prometheus.NewRegistry())
	return NewGeneratorService(gen, pub, metrics, GeneratorOptions{AttackProbability: 0.2}), metrics
}

func TestPublishOne_RoutesAndKeysByUser(t *testing.T) {
	pub := &fakePublisher{}
	svc, metrics := newGeneratorService(t, false, pub)

	for i := 0; i < 50; i++ {
		_, err := svc.PublishOne(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 50, pub.count())

	for _, m := range pub.messages {
		ev, err := events.ParseJSON(m.value)
		require.NoError(t, err)

		topic, err := routing.TopicFor(ev.Type())
		require.NoError(t, err)
		assert.Equal(t, topic, m.topic)
		assert.Equal(t, ev.Base().UserID, m.key)
		assert.Equal(t, string(ev.Type()), m.headers["event-type"])
		assert.Equal(t, "normal", m.headers["mode"])
	}
	assert.Equal(t, int64(50), svc.Published())

	var total float64
	for _, typ := range events.Types {
		total += testutil.ToFloat64(metrics.EventsGenerated.WithLabelValues(string(typ), "normal"))
	}
	assert.Equal(t, 50.0, total)
}

func TestPublishOne_CountsFailures(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	svc, metrics := newGeneratorService(t, false, pub)

	_, err := svc.PublishOne(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PublishErrors))
	assert.Equal(t, int64(0), svc.Published())
}

func TestToggle_FollowsProbability(t *testing.T) {
	svc, metrics := newGeneratorService(t, false, &fakePublisher{})

	svc.roll = func() float64 { return 0.1 }
	assert.True(t, svc.Toggle())
	assert.True(t, svc.gen.AttackMode().Enabled())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AttackMode))

	svc.roll = func() float64 { return 0.2 }
	assert.False(t, svc.Toggle(), "the probability bound is exclusive")
	assert.False(t, svc.gen.AttackMode().Enabled())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.AttackMode))
}

func TestPublishOne_AttackModeHeader(t *testing.T) {
	pub := &fakePublisher{}
	svc, _ := newGeneratorService(t, true, pub)

	_, err := svc.PublishOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "attack", pub.messages[0].headers["mode"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.messages[0].value, &decoded))
	assert.Contains(t, decoded, "type")
}

func TestGeneratorRun_StopsOnCancel(t *testing.T) {
	pub := &fakePublisher{}
	svc, _ := newGeneratorService(t, false, pub)
	svc.delay = func() time.Duration { return time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() >= 5 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("generator did not stop")
	}
}
