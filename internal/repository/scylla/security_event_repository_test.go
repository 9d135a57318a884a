package scylla

import (
	"context"
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/bucketing"
	"event-pipeline/internal/config"
	"event-pipeline/internal/events"
	"event-pipeline/internal/models"
	"event-pipeline/internal/rollup"
)

type fakeIter struct {
	rows [][]interface{}
	pos  int
	err  error
}

func (it *fakeIter) Scan(dest ...interface{}) bool {
	if it.pos >= len(it.rows) {
		return false
	}
	row := it.rows[it.pos]
	it.pos++
	for i, v := range row {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return true
}

func (it *fakeIter) Close() error { return it.err }

type fakeSession struct {
	stmts    []string
	values   [][]interface{}
	execErrs []error
	iter     *fakeIter
}

func (s *fakeSession) Exec(_ context.Context, stmt string, values ...interface{}) error {
	s.stmts = append(s.stmts, stmt)
	s.values = append(s.values, values)
	if len(s.execErrs) > 0 {
		err := s.execErrs[0]
		s.execErrs = s.execErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSession) Iter(_ context.Context, stmt string, values ...interface{}) Iter {
	s.stmts = append(s.stmts, stmt)
	s.values = append(s.values, values)
	return s.iter
}

func newTestRepo(s Session) *SecurityEventRepository {
	bm := bucketing.NewBucketingManager(&config.Config{Bucketing: config.BucketingConfig{UserBuckets: 16, EventBuckets: 4}})
	repo := NewSecurityEventRepository(s, bm)
	repo.now = func() time.Time { return time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC) }
	return repo
}

func flaggedActivity() rollup.SuspiciousActivity {
	return rollup.SuspiciousActivity{
		Timestamp:       "2024-01-15T10:30:00.000Z",
		UserID:          "user_1",
		SourceIP:        "203.0.113.9",
		Type:            events.TypeAccountActivity,
		Action:          events.ActionLogin,
		GeoCountry:      "US",
		GeoCity:         "Seattle",
		UserAgent:       "curl/8.0",
		Events5m:        25,
		EventsIP5m:      11,
		EventsCountry5m: 3,
	}
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	s := &fakeSession{}
	require.NoError(t, newTestRepo(s).EnsureSchema(context.Background()))
	require.Len(t, s.stmts, 1)
	assert.Contains(t, s.stmts[0], "CREATE TABLE IF NOT EXISTS security_events")
	assert.Contains(t, s.stmts[0], "PRIMARY KEY ((user_bucket, user_id), event_time, event_id)")
}

func TestRecordHighRisk(t *testing.T) {
	s := &fakeSession{}
	repo := newTestRepo(s)

	se, err := repo.RecordHighRisk(context.Background(), "evt-1", flaggedActivity())
	require.NoError(t, err)

	assert.Equal(t, repo.buckets.GetUserBucket("user_1"), se.UserBucket)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), se.EventTime)
	assert.Equal(t, "2024-01-15", se.EventDate)
	assert.Equal(t, 2, se.RiskScore)
	assert.True(t, se.SourceIP.Equal(net.ParseIP("203.0.113.9")))
	assert.Equal(t, int64(25), se.UserEventCount)

	require.Len(t, s.stmts, 1)
	assert.True(t, strings.Contains(s.stmts[0], "INSERT INTO security_events"))
	require.Len(t, s.values[0], 15)
	assert.Equal(t, "user_1", s.values[0][1])
	assert.Equal(t, "evt-1", s.values[0][3])
}

func TestRecordHighRiskRetriesTransientFailure(t *testing.T) {
	s := &fakeSession{execErrs: []error{errors.New("timeout")}}
	_, err := newTestRepo(s).RecordHighRisk(context.Background(), "evt-1", flaggedActivity())
	require.NoError(t, err)
	assert.Len(t, s.stmts, 2)
}

func TestRecordHighRiskGivesUp(t *testing.T) {
	boom := errors.New("unavailable")
	s := &fakeSession{execErrs: []error{boom, boom, boom}}
	_, err := newTestRepo(s).RecordHighRisk(context.Background(), "evt-1", flaggedActivity())
	require.ErrorIs(t, err, boom)
	assert.Len(t, s.stmts, writeRetries+1)
}

func TestRecordHighRiskRejectsBadInput(t *testing.T) {
	repo := newTestRepo(&fakeSession{})

	_, err := repo.RecordHighRisk(context.Background(), "", flaggedActivity())
	assert.ErrorIs(t, err, ErrInvalidFlag)

	a := flaggedActivity()
	a.Timestamp = "yesterday"
	_, err = repo.RecordHighRisk(context.Background(), "evt-1", a)
	assert.ErrorIs(t, err, ErrInvalidFlag)
}

func TestListByUser(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	row := []interface{}{
		3, "user_1", at, "evt-1", "2024-01-15", "login", net.ParseIP("203.0.113.9"),
		"US", "Seattle", "curl/8.0", 2, int64(25), int64(11), int64(3), at.Add(time.Second),
	}
	s := &fakeSession{iter: &fakeIter{rows: [][]interface{}{row, row}}}
	repo := newTestRepo(s)

	flags, err := repo.ListByUser(context.Background(), "user_1", 0)
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, models.SecurityEvent{
		UserBucket: 3, UserID: "user_1", EventTime: at, EventID: "evt-1", EventDate: "2024-01-15",
		Action: "login", SourceIP: net.ParseIP("203.0.113.9"), Country: "US", City: "Seattle",
		UserAgent: "curl/8.0", RiskScore: 2, UserEventCount: 25, IPEventCount: 11,
		CountryEventCount: 3, FlaggedAt: at.Add(time.Second),
	}, flags[0])

	assert.Equal(t, []interface{}{repo.buckets.GetUserBucket("user_1"), "user_1", DefaultFlagLimit}, s.values[0])
}

func TestListByUserClampsLimitAndSurfacesErrors(t *testing.T) {
	boom := errors.New("read failed")
	s := &fakeSession{iter: &fakeIter{err: boom}}
	repo := newTestRepo(s)

	_, err := repo.ListByUser(context.Background(), "user_1", 5000)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, MaxFlagLimit, s.values[0][2])

	_, err = repo.ListByUser(context.Background(), "", 10)
	assert.ErrorIs(t, err, ErrInvalidFlag)
}
