package service

import (
	"context"
	"fmt"
	"time"

	"event-pipeline/internal/events"
	"event-pipeline/internal/models"
	"event-pipeline/internal/monitoring"
	"event-pipeline/internal/normalize"
	"event-pipeline/internal/repository/clickhouse"
	"event-pipeline/internal/rollup"
)

// EventReader is the read side of the analytical store.
type EventReader interface {
	StreamRows(ctx context.Context, f clickhouse.RowFilter, fn func(normalize.Row) error) error
	EventCounts(ctx context.Context, since time.Time) ([]clickhouse.EventCount, error)
}

type FlagReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]models.SecurityEvent, error)
}

// DataQualityReport is one bucket's data-quality counters with the derived
// score and issue flag.
type DataQualityReport struct {
	rollup.DataQualityMetrics
	QualityScore float64 `json:"quality_score"`
	HasIssues    bool    `json:"has_issues"`
}

type SuspiciousReport struct {
	TimeRange string             `json:"time_range"`
	Users     []rollup.UserStats `json:"users"`
	Events    []normalize.Row    `json:"events"`
}

// MetricsService answers rollup and anomaly queries by streaming rows out of
// the analytical store into the rollup aggregators.
type MetricsService struct {
	reader  EventReader
	flags   FlagReader
	metrics *monitoring.PipelineMetrics
	now     func() time.Time
}

// NewMetricsService builds the query side. flags may be nil when the flag
// store is disabled.
func NewMetricsService(reader EventReader, flags FlagReader, metrics *monitoring.PipelineMetrics) *MetricsService {
	return &MetricsService{
		reader:  reader,
		flags:   flags,
		metrics: metrics,
		now:     time.Now,
	}
}

func (s *MetricsService) observe(query string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}

func (s *MetricsService) window(timeRange string) (rollup.TimeRange, time.Time, error) {
	if timeRange == "" {
		timeRange = rollup.DefaultTimeRange
	}
	tr, err := rollup.ParseTimeRange(timeRange)
	if err != nil {
		return rollup.TimeRange{}, time.Time{}, err
	}
	return tr, tr.Since(s.now()), nil
}

// Rollup returns per-bucket, per-type aggregates for the window, oldest bucket first.
func (s *MetricsService) Rollup(ctx context.Context, timeRange, interval string) ([]rollup.RollupMetrics, error) {
	defer s.observe("rollup", time.Now())

	_, since, err := s.window(timeRange)
	if err != nil {
		return nil, err
	}
	iv, err := rollup.ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	agg := rollup.NewRollupAggregator(iv)
	if err := s.reader.StreamRows(ctx, clickhouse.RowFilter{Since: since}, agg.Add); err != nil {
		return nil, fmt.Errorf("rollup query failed: %w", err)
	}
	return agg.Results(), nil
}

func (s *MetricsService) Hourly(ctx context.Context, timeRange string) ([]rollup.HourlyMetrics, error) {
	defer s.observe("hourly", time.Now())

	_, since, err := s.window(timeRange)
	if err != nil {
		return nil, err
	}

	agg := rollup.NewHourlyAggregator()
	if err := s.reader.StreamRows(ctx, clickhouse.RowFilter{Since: since}, agg.Add); err != nil {
		return nil, fmt.Errorf("hourly query failed: %w", err)
	}
	return agg.HourlyResults(), nil
}

func (s *MetricsService) DataQuality(ctx context.Context, timeRange, interval string) ([]DataQualityReport, error) {
	defer s.observe("data_quality", time.Now())

	_, since, err := s.window(timeRange)
	if err != nil {
		return nil, err
	}
	iv, err := rollup.ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	agg := rollup.NewDataQualityAggregator(iv)
	if err := s.reader.StreamRows(ctx, clickhouse.RowFilter{Since: since}, agg.Add); err != nil {
		return nil, fmt.Errorf("data quality query failed: %w", err)
	}

	results := agg.Results()
	out := make([]DataQualityReport, 0, len(results))
	for _, m := range results {
		out = append(out, DataQualityReport{
			DataQualityMetrics: m,
			QualityScore:       rollup.QualityScore(m),
			HasIssues:          rollup.HasDataQualityIssues(m),
		})
	}
	return out, nil
}

// EventCounts returns the per-type totals, with zero entries for types that
// saw no events.
func (s *MetricsService) EventCounts(ctx context.Context, timeRange string) ([]clickhouse.EventCount, error) {
	defer s.observe("event_counts", time.Now())

	_, since, err := s.window(timeRange)
	if err != nil {
		return nil, err
	}
	counts, err := s.reader.EventCounts(ctx, since)
	if err != nil {
		return nil, err
	}

	byType := make(map[events.Type]int64, len(counts))
	for _, c := range counts {
		byType[c.Type] = c.Count
	}
	out := make([]clickhouse.EventCount, 0, len(events.Types))
	for _, t := range events.Types {
		out = append(out, clickhouse.EventCount{Type: t, Count: byType[t]})
	}
	return out, nil
}

// Suspicious runs both detector passes against the store. The second pass
// only reads the flagged users' rows.
func (s *MetricsService) Suspicious(ctx context.Context, timeRange string) (*SuspiciousReport, error) {
	defer s.observe("suspicious", time.Now())

	tr, since, err := s.window(timeRange)
	if err != nil {
		return nil, err
	}

	d := rollup.NewSuspiciousDetector()
	observe := func(row normalize.Row) error {
		d.Observe(row)
		return nil
	}
	if err := s.reader.StreamRows(ctx, clickhouse.RowFilter{Since: since, Type: events.TypeAccountActivity}, observe); err != nil {
		return nil, fmt.Errorf("suspicious activity query failed: %w", err)
	}

	report := &SuspiciousReport{TimeRange: tr.String(), Users: d.FlaggedUsers(), Events: []normalize.Row{}}
	if len(report.Users) == 0 {
		return report, nil
	}

	users := make([]string, 0, len(report.Users))
	for _, u := range report.Users {
		users = append(users, u.UserID)
	}
	collect := func(row normalize.Row) error {
		d.Collect(row)
		return nil
	}
	if err := s.reader.StreamRows(ctx, clickhouse.RowFilter{Since: since, Users: users}, collect); err != nil {
		return nil, fmt.Errorf("suspicious events query failed: %w", err)
	}
	report.Events = d.Results()
	return report, nil
}

// Flags lists the stored high-risk flags for a user, newest first.
func (s *MetricsService) Flags(ctx context.Context, userID string, limit int) ([]models.SecurityEvent, error) {
	if s.flags == nil {
		return nil, ErrFlagStoreDisabled
	}
	defer s.observe("flags", time.Now())
	return s.flags.ListByUser(ctx, userID, limit)
}
