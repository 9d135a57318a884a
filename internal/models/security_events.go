package models

import (
	"net"
	"time"
)

// SecurityEvent is a persisted high-risk flag. Rows are partitioned by
// (user_bucket, user_id) and clustered newest first.
type SecurityEvent struct {
	UserBucket        int       `json:"user_bucket" db:"user_bucket"`
	UserID            string    `json:"user_id" db:"user_id"`
	EventTime         time.Time `json:"event_time" db:"event_time"`
	EventID           string    `json:"event_id" db:"event_id"`
	EventDate         string    `json:"event_date" db:"event_date"`
	Action            string    `json:"action" db:"action"`
	SourceIP          net.IP    `json:"source_ip" db:"source_ip"`
	Country           string    `json:"country" db:"country"`
	City              string    `json:"city" db:"city"`
	UserAgent         string    `json:"user_agent" db:"user_agent"`
	RiskScore         int       `json:"risk_score" db:"risk_score"`
	UserEventCount    int64     `json:"events_5m" db:"user_event_count"`
	IPEventCount      int64     `json:"events_ip_5m" db:"ip_event_count"`
	CountryEventCount int64     `json:"events_country_5m" db:"country_event_count"`
	FlaggedAt         time.Time `json:"flagged_at" db:"flagged_at"`
}
