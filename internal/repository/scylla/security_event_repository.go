package scylla

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"event-pipeline/internal/bucketing"
	"event-pipeline/internal/models"
	"event-pipeline/internal/rollup"
	"event-pipeline/internal/util"
)

const (
	DefaultFlagLimit = 100
	MaxFlagLimit     = 1000

	writeRetries = 2
)

var ErrInvalidFlag = errors.New("invalid high-risk flag")

const createSecurityEventsCQL = `
CREATE TABLE IF NOT EXISTS security_events (
    user_bucket int,
    user_id text,
    event_time timestamp,
    event_id text,
    event_date text,
    action text,
    source_ip inet,
    country text,
    city text,
    user_agent text,
    risk_score int,
    user_event_count bigint,
    ip_event_count bigint,
    country_event_count bigint,
    flagged_at timestamp,
    PRIMARY KEY ((user_bucket, user_id), event_time, event_id)
) WITH CLUSTERING ORDER BY (event_time DESC, event_id ASC)
  AND default_time_to_live = 2592000`

const insertSecurityEventCQL = `
INSERT INTO security_events (
    user_bucket, user_id, event_time, event_id, event_date, action, source_ip,
    country, city, user_agent, risk_score, user_event_count, ip_event_count,
    country_event_count, flagged_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectSecurityEventsCQL = `
SELECT user_bucket, user_id, event_time, event_id, event_date, action, source_ip,
    country, city, user_agent, risk_score, user_event_count, ip_event_count,
    country_event_count, flagged_at
FROM security_events WHERE user_bucket = ? AND user_id = ? LIMIT ?`

// SecurityEventRepository stores high-risk account activity flags.
type SecurityEventRepository struct {
	session Session
	buckets *bucketing.BucketingManager
	now     func() time.Time
}

func NewSecurityEventRepository(session Session, buckets *bucketing.BucketingManager) *SecurityEventRepository {
	return &SecurityEventRepository{
		session: session,
		buckets: buckets,
		now:     time.Now,
	}
}

func (r *SecurityEventRepository) EnsureSchema(ctx context.Context) error {
	if err := r.session.Exec(ctx, createSecurityEventsCQL); err != nil {
		return fmt.Errorf("failed to create security_events table: %w", err)
	}
	return nil
}

// BuildSecurityEvent turns a flagged activity into its stored form.
func (r *SecurityEventRepository) BuildSecurityEvent(eventID string, a rollup.SuspiciousActivity) (*models.SecurityEvent, error) {
	if eventID == "" || a.UserID == "" {
		return nil, fmt.Errorf("%w: event id and user id are required", ErrInvalidFlag)
	}
	at, err := time.Parse(time.RFC3339Nano, a.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp %q: %v", ErrInvalidFlag, a.Timestamp, err)
	}
	at = at.UTC()
	return &models.SecurityEvent{
		UserBucket:        r.buckets.GetUserBucket(a.UserID),
		UserID:            a.UserID,
		EventTime:         at,
		EventID:           eventID,
		EventDate:         r.buckets.GetDateBucket(at),
		Action:            string(a.Action),
		SourceIP:          net.ParseIP(a.SourceIP),
		Country:           a.GeoCountry,
		City:              a.GeoCity,
		UserAgent:         a.UserAgent,
		RiskScore:         rollup.RiskScore(a),
		UserEventCount:    a.Events5m,
		IPEventCount:      a.EventsIP5m,
		CountryEventCount: a.EventsCountry5m,
		FlaggedAt:         r.now().UTC(),
	}, nil
}

// RecordHighRisk persists one flag. Re-recording the same event overwrites
// the earlier row.
func (r *SecurityEventRepository) RecordHighRisk(ctx context.Context, eventID string, a rollup.SuspiciousActivity) (*models.SecurityEvent, error) {
	se, err := r.BuildSecurityEvent(eventID, a)
	if err != nil {
		return nil, err
	}
	err = ExecuteWithRetry(ctx, r.session, writeRetries, insertSecurityEventCQL,
		se.UserBucket, se.UserID, se.EventTime, se.EventID, se.EventDate, se.Action, se.SourceIP,
		se.Country, se.City, se.UserAgent, se.RiskScore, se.UserEventCount, se.IPEventCount,
		se.CountryEventCount, se.FlaggedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to record high-risk flag: %w", err)
	}

	util.Debug("High-risk flag recorded",
		zap.String("user_id", se.UserID),
		zap.String("event_id", se.EventID),
		zap.Int("risk_score", se.RiskScore))
	return se, nil
}

// ListByUser returns a user's flags, newest first.
func (r *SecurityEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.SecurityEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidFlag)
	}
	if limit <= 0 {
		limit = DefaultFlagLimit
	}
	if limit > MaxFlagLimit {
		limit = MaxFlagLimit
	}

	iter := r.session.Iter(ctx, selectSecurityEventsCQL, r.buckets.GetUserBucket(userID), userID, limit)
	out := make([]models.SecurityEvent, 0)
	var se models.SecurityEvent
	for iter.Scan(&se.UserBucket, &se.UserID, &se.EventTime, &se.EventID, &se.EventDate, &se.Action,
		&se.SourceIP, &se.Country, &se.City, &se.UserAgent, &se.RiskScore, &se.UserEventCount,
		&se.IPEventCount, &se.CountryEventCount, &se.FlaggedAt) {
		out = append(out, se)
		se = models.SecurityEvent{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list flags for user %s: %w", userID, err)
	}
	return out, nil
}
