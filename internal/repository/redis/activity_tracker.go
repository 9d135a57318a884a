package redis

import (
	"context"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"event-pipeline/internal/events"
	"event-pipeline/internal/rollup"
	"event-pipeline/internal/util"
)

const (
	userActivityPrefix    = "activity:user:"
	ipActivityPrefix      = "activity:ip:"
	countryActivityPrefix = "activity:country:"

	DefaultActivityWindow = 5 * time.Minute
)

// Each key is a sorted set of event ids scored by event time in milliseconds.
// Members older than the window are trimmed before counting, and re-adding an
// id only moves its score, so redelivered events are not double counted.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local member = ARGV[3]
local ttl = tonumber(ARGV[4])
local counts = {}
for i, key in ipairs(KEYS) do
    redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. window_start)
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, ttl)
    counts[i] = redis.call('ZCARD', key)
end
return counts
`)

// ActivityTracker keeps rolling per-user, per-address and per-country counts of
// account activity.
type ActivityTracker struct {
	scripter redis.Scripter
	window   time.Duration
}

func NewActivityTracker(scripter redis.Scripter, window time.Duration) *ActivityTracker {
	if window <= 0 {
		window = DefaultActivityWindow
	}
	return &ActivityTracker{scripter: scripter, window: window}
}

func (t *ActivityTracker) Window() time.Duration {
	return t.window
}

// Record adds ev to its three windows and returns the counts including ev.
// The window ends at the event's own timestamp.
func (t *ActivityTracker) Record(ctx context.Context, ev *events.AccountActivityEvent) (rollup.RollingCounts, error) {
	ts, err := ev.Time()
	if err != nil {
		return rollup.RollingCounts{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	nowMs := ts.UnixMilli()
	keys := activityKeys(ev)
	ttl := int64(math.Ceil(t.window.Seconds())) + 60

	res, err := slidingWindowScript.Run(ctx, t.scripter, keys,
		nowMs, nowMs-t.window.Milliseconds(), ev.ID, ttl).Int64Slice()
	if err != nil {
		util.Error("Failed to record activity",
			zap.String("user_id", ev.UserID),
			zap.String("source_ip", ev.SourceIP),
			zap.Error(err))
		return rollup.RollingCounts{}, fmt.Errorf("failed to record activity: %w", err)
	}
	if len(res) != len(keys) {
		return rollup.RollingCounts{}, fmt.Errorf("failed to record activity: expected %d counts, got %d", len(keys), len(res))
	}

	counts := rollup.RollingCounts{User: res[0], IP: res[1], Country: res[2]}
	util.Debug("Activity recorded",
		zap.String("user_id", ev.UserID),
		zap.Int64("events_5m", counts.User),
		zap.Int64("events_ip_5m", counts.IP),
		zap.Int64("events_country_5m", counts.Country))
	return counts, nil
}

func activityKeys(ev *events.AccountActivityEvent) []string {
	return []string{
		userActivityPrefix + ev.UserID,
		ipActivityPrefix + ev.SourceIP,
		countryActivityPrefix + ev.GeoLocation.Country,
	}
}
