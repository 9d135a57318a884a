package rollup

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidInterval  = errors.New("invalid interval")
)

type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalHour   Interval = "1h"
)

func ParseInterval(s string) (Interval, error) {
	switch Interval(strings.TrimSpace(s)) {
	case "", IntervalMinute:
		return IntervalMinute, nil
	case IntervalHour:
		return IntervalHour, nil
	}
	return "", fmt.Errorf("%w: %q (want 1m or 1h)", ErrInvalidInterval, s)
}

func (i Interval) Duration() time.Duration {
	if i == IntervalHour {
		return time.Hour
	}
	return time.Minute
}

// SQLUnit is the ClickHouse interval unit for toStartOfInterval.
func (i Interval) SQLUnit() string {
	if i == IntervalHour {
		return "hour"
	}
	return "minute"
}

// Truncate returns the start of the bucket containing t.
func (i Interval) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(i.Duration())
}

var timeRangePattern = regexp.MustCompile(`(?i)^(\d+)\s+(MINUTE|HOUR|DAY)$`)

// TimeRange is a lookback such as "5 MINUTE" or "24 hour".
type TimeRange struct {
	Amount int
	Unit   string // MINUTE, HOUR or DAY
}

const DefaultTimeRange = "1 HOUR"

func ParseTimeRange(s string) (TimeRange, error) {
	m := timeRangePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return TimeRange{}, fmt.Errorf("%w: %q (want <n> MINUTE|HOUR|DAY)", ErrInvalidTimeRange, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimeRange, s, err)
	}
	tr := TimeRange{Amount: n, Unit: strings.ToUpper(m[2])}
	if tr.Duration() < 0 {
		return TimeRange{}, fmt.Errorf("%w: %q overflows", ErrInvalidTimeRange, s)
	}
	return tr, nil
}

// String renders the normalized form, safe to splice after INTERVAL.
func (r TimeRange) String() string {
	return strconv.Itoa(r.Amount) + " " + r.Unit
}

func (r TimeRange) Duration() time.Duration {
	var unit time.Duration
	switch r.Unit {
	case "MINUTE":
		unit = time.Minute
	case "HOUR":
		unit = time.Hour
	case "DAY":
		unit = 24 * time.Hour
	}
	d := time.Duration(r.Amount) * unit
	if r.Amount != 0 && d/time.Duration(r.Amount) != unit {
		return -1
	}
	return d
}

// Since returns the window start relative to now.
func (r TimeRange) Since(now time.Time) time.Time {
	return now.Add(-r.Duration())
}
