package rollup

import (
	"slices"
	"time"

	"event-pipeline/internal/events"
	"event-pipeline/internal/normalize"
)

type bucketKey struct {
	start time.Time
	typ   events.Type
}

type rollupAcc struct {
	RollupMetrics
	responseSum   int64
	responseCount int64
	ips           map[string]struct{}
	countries     map[string]struct{}
}

// RollupAggregator folds rows into (bucket, type) metrics. Memory grows with
// the number of buckets, not rows. Hourly mode also tracks distinct IPs and
// countries per bucket.
type RollupAggregator struct {
	interval Interval
	hourly   bool
	buckets  map[bucketKey]*rollupAcc
}

func NewRollupAggregator(interval Interval) *RollupAggregator {
	return &RollupAggregator{interval: interval, buckets: map[bucketKey]*rollupAcc{}}
}

// NewHourlyAggregator buckets by hour and counts distinct countries and IPs.
func NewHourlyAggregator() *RollupAggregator {
	a := NewRollupAggregator(IntervalHour)
	a.hourly = true
	return a
}

func (a *RollupAggregator) Add(row normalize.Row) error {
	ts, err := row.Time()
	if err != nil {
		return err
	}
	key := bucketKey{start: a.interval.Truncate(ts), typ: row.Type}
	acc, ok := a.buckets[key]
	if !ok {
		acc = &rollupAcc{RollupMetrics: RollupMetrics{WindowStart: formatBucket(key.start), Type: row.Type}}
		if a.hourly {
			acc.ips = map[string]struct{}{}
			acc.countries = map[string]struct{}{}
		}
		a.buckets[key] = acc
	}

	acc.EventCount++
	switch row.Type {
	case events.TypeAccountActivity:
		if row.Success != nil {
			if *row.Success {
				acc.SuccessfulLogins++
			} else {
				acc.FailedLogins++
			}
		}
	case events.TypeAPIRequest:
		if row.ResponseTimeMs != nil {
			acc.responseSum += *row.ResponseTimeMs
			acc.responseCount++
		}
		if row.StatusCode != nil {
			switch code := *row.StatusCode; {
			case code >= 500:
				acc.ErrorCount++
			case code >= 400:
				acc.WarningCount++
			}
		}
	case events.TypeEmailSend:
		if row.Success != nil && *row.Success {
			acc.EmailsSent++
		}
		if row.BounceType != nil {
			switch events.BounceType(*row.BounceType) {
			case events.BounceHard:
				acc.HardBounces++
			case events.BounceSoft:
				acc.SoftBounces++
			}
		}
	}

	if a.hourly {
		if row.SourceIP != "" {
			acc.ips[row.SourceIP] = struct{}{}
		}
		if row.GeoCountry != nil && *row.GeoCountry != "" {
			acc.countries[*row.GeoCountry] = struct{}{}
		}
	}
	return nil
}

// Results returns the metrics ordered by bucket start, then type.
func (a *RollupAggregator) Results() []RollupMetrics {
	keys := a.sortedKeys()
	out := make([]RollupMetrics, 0, len(keys))
	for _, k := range keys {
		out = append(out, a.buckets[k].metrics())
	}
	return out
}

// HourlyResults is Results with the distinct counts attached.
func (a *RollupAggregator) HourlyResults() []HourlyMetrics {
	keys := a.sortedKeys()
	out := make([]HourlyMetrics, 0, len(keys))
	for _, k := range keys {
		acc := a.buckets[k]
		out = append(out, HourlyMetrics{
			RollupMetrics:   acc.metrics(),
			UniqueCountries: int64(len(acc.countries)),
			UniqueIPs:       int64(len(acc.ips)),
		})
	}
	return out
}

func (a *RollupAggregator) sortedKeys() []bucketKey {
	keys := make([]bucketKey, 0, len(a.buckets))
	for k := range a.buckets {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(x, y bucketKey) int {
		if c := x.start.Compare(y.start); c != 0 {
			return c
		}
		return typeOrder(x.typ) - typeOrder(y.typ)
	})
	return keys
}

func (acc *rollupAcc) metrics() RollupMetrics {
	m := acc.RollupMetrics
	if acc.responseCount > 0 {
		avg := float64(acc.responseSum) / float64(acc.responseCount)
		m.AvgResponseTimeMs = &avg
	}
	return m
}

func typeOrder(t events.Type) int {
	if i := slices.Index(events.Types, t); i >= 0 {
		return i
	}
	return len(events.Types)
}

type qualityAcc struct {
	DataQualityMetrics
	ids map[string]struct{}
}

// DataQualityAggregator measures per-bucket completeness and duplicate ids.
type DataQualityAggregator struct {
	interval Interval
	buckets  map[time.Time]*qualityAcc
}

func NewDataQualityAggregator(interval Interval) *DataQualityAggregator {
	return &DataQualityAggregator{interval: interval, buckets: map[time.Time]*qualityAcc{}}
}

func (a *DataQualityAggregator) Add(row normalize.Row) error {
	ts, err := row.Time()
	if err != nil {
		return err
	}
	start := a.interval.Truncate(ts)
	acc, ok := a.buckets[start]
	if !ok {
		acc = &qualityAcc{
			DataQualityMetrics: DataQualityMetrics{WindowStart: formatBucket(start)},
			ids:                map[string]struct{}{},
		}
		a.buckets[start] = acc
	}

	acc.TotalEvents++
	switch row.Type {
	case events.TypeAccountActivity:
		acc.AccountEvents++
	case events.TypeAPIRequest:
		acc.APIEvents++
	case events.TypeEmailSend:
		acc.EmailEvents++
	}

	if row.SourceIP == "" {
		acc.MissingIP++
	}
	if row.UserID == "" {
		acc.MissingUser++
	}
	if (row.Type == events.TypeAccountActivity || row.Type == events.TypeAPIRequest) && isBlank(row.UserAgent) {
		acc.MissingUserAgent++
	}
	if row.Type == events.TypeEmailSend && isBlank(row.RecipientEmail) {
		acc.MissingEmail++
	}
	acc.ids[row.ID] = struct{}{}
	return nil
}

func (a *DataQualityAggregator) Results() []DataQualityMetrics {
	starts := make([]time.Time, 0, len(a.buckets))
	for s := range a.buckets {
		starts = append(starts, s)
	}
	slices.SortFunc(starts, time.Time.Compare)

	out := make([]DataQualityMetrics, 0, len(starts))
	for _, s := range starts {
		acc := a.buckets[s]
		m := acc.DataQualityMetrics
		m.UniqueIDs = int64(len(acc.ids))
		m.DuplicateCount = m.TotalEvents - m.UniqueIDs
		out = append(out, m)
	}
	return out
}

func isBlank(s *string) bool {
	return s == nil || *s == ""
}
