package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"event-pipeline/internal/generator"
	"event-pipeline/internal/monitoring"
	"event-pipeline/internal/routing"
	"event-pipeline/internal/util"
)

// Publisher is the producer side of the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type GeneratorOptions struct {
	MaxDelay          time.Duration
	ToggleInterval    time.Duration
	AttackProbability float64
}

// GeneratorService publishes generated events continuously and re-rolls
// attack mode on a fixed interval.
type GeneratorService struct {
	gen     *generator.Generator
	pub     Publisher
	metrics *monitoring.PipelineMetrics
	opts    GeneratorOptions

	roll      func() float64
	delay     func() time.Duration
	published atomic.Int64
}

func NewGeneratorService(gen *generator.Generator, pub Publisher, metrics *monitoring.PipelineMetrics, opts GeneratorOptions) *GeneratorService {
	if opts.ToggleInterval <= 0 {
		opts.ToggleInterval = 5 * time.Minute
	}
	s := &GeneratorService{
		gen:     gen,
		pub:     pub,
		metrics: metrics,
		opts:    opts,
		roll:    rand.Float64,
	}
	s.delay = func() time.Duration {
		if s.opts.MaxDelay <= 0 {
			return 0
		}
		return rand.N(s.opts.MaxDelay)
	}
	if metrics != nil && gen.AttackMode().Enabled() {
		metrics.AttackMode.Set(1)
	}
	return s
}

// PublishOne generates a single event and publishes it keyed by user id
// on its routed topic.
func (s *GeneratorService) PublishOne(ctx context.Context) (generator.Sample, error) {
	sample := s.gen.Sample()
	ev := sample.Event

	dest, err := routing.RouteEvent(ev)
	if err != nil {
		return sample, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return sample, fmt.Errorf("failed to encode event %s: %w", ev.Base().ID, err)
	}

	headers := map[string]string{
		"event-type": string(ev.Type()),
		"mode":       sample.Mode(),
	}
	if err := s.pub.Publish(ctx, dest.Topic, []byte(ev.Base().UserID), payload, headers); err != nil {
		if s.metrics != nil {
			s.metrics.PublishErrors.Inc()
		}
		return sample, err
	}

	s.published.Add(1)
	if s.metrics != nil {
		s.metrics.EventsGenerated.WithLabelValues(string(ev.Type()), sample.Mode()).Inc()
	}
	return sample, nil
}

// Toggle re-rolls attack mode and reports the new state.
func (s *GeneratorService) Toggle() bool {
	mode := s.gen.AttackMode()
	next := s.roll() < s.opts.AttackProbability
	prev := mode.Enabled()
	mode.Set(next)

	if s.metrics != nil {
		if next {
			s.metrics.AttackMode.Set(1)
		} else {
			s.metrics.AttackMode.Set(0)
		}
	}
	if next != prev {
		util.Info("Attack mode changed", util.String("mode", mode.Label()))
	}
	return next
}

func (s *GeneratorService) Published() int64 {
	return s.published.Load()
}

// Run publishes until ctx is cancelled. Publish failures are logged and the
// loop carries on.
func (s *GeneratorService) Run(ctx context.Context) error {
	toggle := time.NewTicker(s.opts.ToggleInterval)
	defer toggle.Stop()

	util.Info("Event generator started",
		util.String("mode", s.gen.AttackMode().Label()),
		util.Duration("max_delay", s.opts.MaxDelay),
		util.Duration("toggle_interval", s.opts.ToggleInterval))

	for {
		select {
		case <-ctx.Done():
			util.Info("Event generator stopped", util.Int64("published", s.Published()))
			return nil
		case <-toggle.C:
			s.Toggle()
		default:
		}

		if sample, err := s.PublishOne(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			util.Error("Failed to publish event",
				util.String("type", string(sample.Event.Type())),
				util.ErrorField(err))
		}

		if d := s.delay(); d > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		}
	}
}
