package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"event-pipeline/internal/events"
	"event-pipeline/internal/models"
	"event-pipeline/internal/monitoring"
	"event-pipeline/internal/normalize"
	"event-pipeline/internal/rollup"
	"event-pipeline/internal/routing"
	"event-pipeline/internal/util"
)

var (
	ErrTopicMismatch = errors.New("event type does not belong to topic")
	ErrUncommitted   = errors.New("sink write failed, offsets left uncommitted")
)

const (
	sinkClickHouse    = "clickhouse"
	sinkElasticsearch = "elasticsearch"
)

type RowSink interface {
	InsertRows(ctx context.Context, rows []normalize.Row) error
}

type DocumentSink interface {
	IndexDocuments(ctx context.Context, docs []normalize.SearchDocument) error
}

type ActivityRecorder interface {
	Record(ctx context.Context, ev *events.AccountActivityEvent) (rollup.RollingCounts, error)
}

type FlagStore interface {
	RecordHighRisk(ctx context.Context, eventID string, a rollup.SuspiciousActivity) (*models.SecurityEvent, error)
}

// MessageSource is one topic's consumer. FetchMessage does not commit;
// Commit marks messages as done for the consumer group.
type MessageSource interface {
	FetchMessage(ctx context.Context) (*kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
	Topic() string
}

type IngestOptions struct {
	ValidationMode events.Mode
	BatchSize      int
	FlushInterval  time.Duration
}

// IngestStats is the running processing summary.
type IngestStats struct {
	Processed     int64     `json:"processed"`
	Failed        int64     `json:"failed"`
	SinkFailures  int64     `json:"sink_failures"`
	HighRisk      int64     `json:"high_risk"`
	LastProcessed time.Time `json:"last_processed"`
}

// IngestService validates consumed messages and fans them out to the
// analytical store, the search index and the rolling risk counters.
type IngestService struct {
	validator *events.Validator
	rows      *Batcher[normalize.Row]
	docs      *Batcher[normalize.SearchDocument]
	tracker   ActivityRecorder
	flags     FlagStore
	metrics   *monitoring.PipelineMetrics
	batchSize int
	interval  time.Duration
	now       func() time.Time

	processed     atomic.Int64
	failed        atomic.Int64
	sinkFailures  atomic.Int64
	highRisk      atomic.Int64
	lastProcessed atomic.Int64
}

// NewIngestService wires the sinks. tracker and flags may be nil, which
// disables the high-risk path.
func NewIngestService(
	rowSink RowSink,
	docSink DocumentSink,
	tracker ActivityRecorder,
	flags FlagStore,
	metrics *monitoring.PipelineMetrics,
	opts IngestOptions,
) *IngestService {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	s := &IngestService{
		validator: events.NewValidator(opts.ValidationMode),
		tracker:   tracker,
		flags:     flags,
		metrics:   metrics,
		batchSize: max(opts.BatchSize, 1),
		interval:  opts.FlushInterval,
		now:       time.Now,
	}
	s.rows = NewBatcher(sinkClickHouse, opts.BatchSize,
		timedFlush[normalize.Row](s, sinkClickHouse, rowSink.InsertRows),
		sinkFailed[normalize.Row](s))
	s.docs = NewBatcher(sinkElasticsearch, opts.BatchSize,
		timedFlush[normalize.SearchDocument](s, sinkElasticsearch, docSink.IndexDocuments),
		sinkFailed[normalize.SearchDocument](s))
	return s
}

func (s *IngestService) observeSink(sink string, start time.Time) {
	if s.metrics != nil {
		s.metrics.SinkLatency.WithLabelValues(sink).Observe(time.Since(start).Seconds())
	}
}

func timedFlush[T any](s *IngestService, sink string, fn FlushFunc[T]) FlushFunc[T] {
	return func(ctx context.Context, items []T) error {
		defer s.observeSink(sink, time.Now())
		return fn(ctx, items)
	}
}

func sinkFailed[T any](s *IngestService) func(string, []T, error) {
	return func(sink string, items []T, err error) {
		s.sinkFailures.Add(int64(len(items)))
		if s.metrics != nil {
			s.metrics.EventsFailed.WithLabelValues(sink, monitoring.ReasonSink).Add(float64(len(items)))
		}
		util.Error("Dropping batch after sink failure",
			util.String("sink", sink),
			util.Int("count", len(items)),
			util.ErrorField(err))
	}
}

// ProcessMessage handles one payload consumed from topic. An empty topic
// skips the topic check. Failures are counted and returned; they never
// affect other messages.
func (s *IngestService) ProcessMessage(ctx context.Context, topic string, payload []byte) error {
	ev, err := s.validator.ParseJSON(payload)
	if err != nil {
		s.fail(topic, validationReason(err), err)
		return err
	}

	dest, err := routing.RouteEvent(ev)
	if err != nil {
		s.fail(topic, monitoring.ReasonRouting, err)
		return err
	}
	if topic != "" && dest.Topic != topic {
		err = fmt.Errorf("%w: %s on %s", ErrTopicMismatch, ev.Type(), topic)
		s.fail(topic, monitoring.ReasonRouting, err)
		return err
	}

	row, doc, err := normalize.Normalize(ev)
	if err != nil {
		s.fail(topic, monitoring.ReasonNormalize, err)
		return err
	}

	// Sink failures are accounted per batch by the batchers.
	_ = s.rows.Add(ctx, row)
	_ = s.docs.Add(ctx, doc)

	if account, ok := ev.(*events.AccountActivityEvent); ok {
		s.checkRisk(ctx, topic, account)
	}

	now := s.now()
	s.processed.Add(1)
	s.lastProcessed.Store(now.UnixNano())
	if s.metrics != nil {
		s.metrics.EventsProcessed.WithLabelValues(string(ev.Type())).Inc()
		s.metrics.LastProcessed.Set(float64(now.Unix()))
	}
	return nil
}

func (s *IngestService) checkRisk(ctx context.Context, topic string, ev *events.AccountActivityEvent) {
	if s.tracker == nil {
		return
	}
	counts, err := s.tracker.Record(ctx, ev)
	if err != nil {
		s.countFailure(topic, monitoring.ReasonRiskCheck)
		util.Warn("Failed to update rolling activity counts",
			util.String("event_id", ev.ID),
			util.ErrorField(err))
		return
	}

	activity := rollup.NewSuspiciousActivity(ev, counts)
	if !rollup.IsHighRiskActivity(activity) {
		return
	}

	score := rollup.RiskScore(activity)
	s.highRisk.Add(1)
	if s.metrics != nil {
		s.metrics.HighRiskFlags.WithLabelValues(strconv.Itoa(score)).Inc()
	}
	util.Warn("High-risk account activity",
		util.String("user_id", ev.UserID),
		util.String("source_ip", ev.SourceIP),
		util.String("country", ev.GeoLocation.Country),
		util.Int64("events_5m", counts.User),
		util.Int64("events_ip_5m", counts.IP),
		util.Int64("events_country_5m", counts.Country),
		util.Int("risk_score", score))

	if s.flags == nil {
		return
	}
	if _, err := s.flags.RecordHighRisk(ctx, ev.ID, activity); err != nil {
		s.countFailure(topic, monitoring.ReasonRiskCheck)
		util.Warn("Failed to store high-risk flag",
			util.String("event_id", ev.ID),
			util.ErrorField(err))
	}
}

func validationReason(err error) string {
	switch {
	case errors.Is(err, events.ErrMalformedPayload):
		return monitoring.ReasonMalformed
	case errors.Is(err, events.ErrUnknownEventType):
		return monitoring.ReasonUnknownType
	default:
		return monitoring.ReasonValidation
	}
}

func (s *IngestService) fail(topic, reason string, err error) {
	s.failed.Add(1)
	s.countFailure(topic, reason)
	util.Warn("Skipping message",
		util.String("topic", topic),
		util.String("reason", reason),
		util.ErrorField(err))
}

func (s *IngestService) countFailure(topic, reason string) {
	if s.metrics != nil {
		s.metrics.EventsFailed.WithLabelValues(topic, reason).Inc()
	}
}

// Consume reads from src until ctx is cancelled. Per-message failures are
// logged and skipped. Offsets are committed only after both sinks have
// flushed the messages behind them; if a batch is dropped Consume stops
// with ErrUncommitted so the group redelivers from the last commit.
func (s *IngestService) Consume(ctx context.Context, src MessageSource) error {
	util.Info("Consumer started", util.String("topic", src.Topic()))
	cp := &checkpoint{src: src}
	s.resetCheckpoint(cp)

	for {
		fetchCtx, cancel := context.WithDeadline(ctx, cp.due)
		msg, err := src.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := s.commit(drainCtx, cp)
				cancel()
				util.Info("Consumer stopped", util.String("topic", src.Topic()))
				return err
			case errors.Is(err, context.DeadlineExceeded):
				if err := s.commit(ctx, cp); err != nil {
					return err
				}
				continue
			}
			util.Error("Failed to consume message", util.String("topic", src.Topic()), util.ErrorField(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		_ = s.ProcessMessage(ctx, msg.Topic, msg.Value)
		cp.pending = append(cp.pending, *msg)
		if len(cp.pending) >= s.batchSize || !time.Now().Before(cp.due) {
			if err := s.commit(ctx, cp); err != nil {
				return err
			}
		}
	}
}

// checkpoint is one consumer's uncommitted messages.
type checkpoint struct {
	src      MessageSource
	pending  []kafka.Message
	failures int64
	due      time.Time
}

func (s *IngestService) resetCheckpoint(cp *checkpoint) {
	cp.pending = cp.pending[:0]
	cp.failures = s.sinkFailures.Load()
	cp.due = time.Now().Add(s.interval)
}

// commit flushes both sinks and commits the pending messages. Any batch
// dropped since the last checkpoint blocks the commit.
func (s *IngestService) commit(ctx context.Context, cp *checkpoint) error {
	if len(cp.pending) == 0 {
		s.resetCheckpoint(cp)
		return nil
	}

	flushErr := s.Flush(ctx)
	if flushErr != nil || s.sinkFailures.Load() != cp.failures {
		util.Error("Leaving offsets uncommitted after sink failure",
			util.String("topic", cp.src.Topic()),
			util.Int("pending", len(cp.pending)),
			util.ErrorField(flushErr))
		return fmt.Errorf("%w: %d messages on %s", ErrUncommitted, len(cp.pending), cp.src.Topic())
	}

	if err := cp.src.Commit(ctx, cp.pending...); err != nil {
		// The group redelivers anything a later commit does not cover.
		util.Warn("Failed to commit offsets",
			util.String("topic", cp.src.Topic()),
			util.Int("pending", len(cp.pending)),
			util.ErrorField(err))
	}
	s.resetCheckpoint(cp)
	return nil
}

// RunFlushers flushes both sinks on the configured interval until ctx is
// cancelled, then drains them.
func (s *IngestService) RunFlushers(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error {
		s.rows.Run(ctx, s.interval)
		return nil
	})
	g.Go(func() error {
		s.docs.Run(ctx, s.interval)
		return nil
	})
	_ = g.Wait()
}

// Flush writes any buffered rows and documents.
func (s *IngestService) Flush(ctx context.Context) error {
	return errors.Join(s.rows.Flush(ctx), s.docs.Flush(ctx))
}

func (s *IngestService) Stats() IngestStats {
	stats := IngestStats{
		Processed:    s.processed.Load(),
		Failed:       s.failed.Load(),
		SinkFailures: s.sinkFailures.Load(),
		HighRisk:     s.highRisk.Load(),
	}
	if ns := s.lastProcessed.Load(); ns != 0 {
		stats.LastProcessed = time.Unix(0, ns).UTC()
	}
	return stats
}

// LogSummary writes the running totals to the log.
func (s *IngestService) LogSummary() {
	stats := s.Stats()
	fields := []zap.Field{
		util.Int64("processed", stats.Processed),
		util.Int64("failed", stats.Failed),
		util.Int64("sink_failures", stats.SinkFailures),
		util.Int64("high_risk", stats.HighRisk),
	}
	if !stats.LastProcessed.IsZero() {
		fields = append(fields, util.Time("last_processed", stats.LastProcessed))
	}
	util.Info("Processing summary", fields...)
}
