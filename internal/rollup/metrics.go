package rollup

import (
	"math"
	"time"

	"event-pipeline/internal/events"
)

// RollupMetrics is one (bucket, type) aggregate.
type RollupMetrics struct {
	WindowStart       string      `json:"window_start"`
	Type              events.Type `json:"type"`
	EventCount        int64       `json:"event_count"`
	SuccessfulLogins  int64       `json:"successful_logins"`
	FailedLogins      int64       `json:"failed_logins"`
	AvgResponseTimeMs *float64    `json:"avg_response_time_ms"`
	ErrorCount        int64       `json:"error_count"`
	WarningCount      int64       `json:"warning_count"`
	EmailsSent        int64       `json:"emails_sent"`
	HardBounces       int64       `json:"hard_bounces"`
	SoftBounces       int64       `json:"soft_bounces"`
}

type HourlyMetrics struct {
	RollupMetrics
	UniqueCountries int64 `json:"unique_countries"`
	UniqueIPs       int64 `json:"unique_ips"`
}

type DataQualityMetrics struct {
	WindowStart      string `json:"window_start"`
	TotalEvents      int64  `json:"total_events"`
	AccountEvents    int64  `json:"account_events"`
	APIEvents        int64  `json:"api_events"`
	EmailEvents      int64  `json:"email_events"`
	MissingIP        int64  `json:"missing_ip"`
	MissingUser      int64  `json:"missing_user"`
	MissingUserAgent int64  `json:"missing_user_agent"`
	MissingEmail     int64  `json:"missing_email"`
	UniqueIDs        int64  `json:"unique_ids"`
	DuplicateCount   int64  `json:"duplicate_count"`
}

// SuspiciousActivity is an account activity event joined with its rolling
// five-minute counts.
type SuspiciousActivity struct {
	Timestamp       string        `json:"timestamp"`
	UserID          string        `json:"userId"`
	SourceIP        string        `json:"sourceIp"`
	Type            events.Type   `json:"type"`
	Action          events.Action `json:"action"`
	GeoCountry      string        `json:"geoCountry"`
	GeoCity         string        `json:"geoCity"`
	UserAgent       string        `json:"userAgent"`
	Events5m        int64         `json:"events_5m"`
	EventsIP5m      int64         `json:"events_ip_5m"`
	EventsCountry5m int64         `json:"events_country_5m"`
}

// RollingCounts are the five-minute counts for one user, source address and country.
type RollingCounts struct {
	User    int64
	IP      int64
	Country int64
}

func NewSuspiciousActivity(ev *events.AccountActivityEvent, counts RollingCounts) SuspiciousActivity {
	return SuspiciousActivity{
		Timestamp:       ev.Timestamp,
		UserID:          ev.UserID,
		SourceIP:        ev.SourceIP,
		Type:            events.TypeAccountActivity,
		Action:          ev.Action,
		GeoCountry:      ev.GeoLocation.Country,
		GeoCity:         ev.GeoLocation.City,
		UserAgent:       ev.UserAgent,
		Events5m:        counts.User,
		EventsIP5m:      counts.IP,
		EventsCountry5m: counts.Country,
	}
}

// Thresholds are exclusive: a count equal to its threshold does not flag.
const (
	HighRiskEvents5m        = 20
	HighRiskEventsIP5m      = 10
	HighRiskEventsCountry5m = 15

	MaxMissingDataRate = 0.05
	MaxDuplicateRate   = 0.01
)

func IsHighRiskActivity(a SuspiciousActivity) bool {
	return a.Events5m > HighRiskEvents5m ||
		a.EventsIP5m > HighRiskEventsIP5m ||
		a.EventsCountry5m > HighRiskEventsCountry5m
}

// RiskScore counts the breached thresholds (0 to 3).
func RiskScore(a SuspiciousActivity) int {
	score := 0
	if a.Events5m > HighRiskEvents5m {
		score++
	}
	if a.EventsIP5m > HighRiskEventsIP5m {
		score++
	}
	if a.EventsCountry5m > HighRiskEventsCountry5m {
		score++
	}
	return score
}

func (m DataQualityMetrics) missingFields() int64 {
	return m.MissingIP + m.MissingUser + m.MissingUserAgent + m.MissingEmail
}

// HasDataQualityIssues checks the missing-data and duplicate rates separately.
// An empty bucket has no issues.
func HasDataQualityIssues(m DataQualityMetrics) bool {
	if m.TotalEvents == 0 {
		return false
	}
	total := float64(m.TotalEvents)
	missingRate := float64(m.missingFields()) / total
	duplicateRate := float64(m.DuplicateCount) / total
	return missingRate > MaxMissingDataRate || duplicateRate > MaxDuplicateRate
}

// QualityScore is the reporting percentage: missing fields and duplicates share
// one numerator. Rounded to two decimals; an empty bucket scores 100.
func QualityScore(m DataQualityMetrics) float64 {
	if m.TotalEvents == 0 {
		return 100
	}
	bad := float64(m.missingFields() + m.DuplicateCount)
	score := (1 - bad/float64(m.TotalEvents)) * 100
	return math.Round(score*100) / 100
}

func formatBucket(t time.Time) string {
	return events.FormatTimestamp(t)
}
