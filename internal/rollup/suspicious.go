package rollup

import (
	"container/heap"
	"slices"
	"strings"

	"event-pipeline/internal/events"
	"event-pipeline/internal/normalize"
)

const (
	// MinUserEvents is the stage-one floor; users at or below it are never candidates.
	MinUserEvents = 10
	// MaxUniqueIPs and MaxUniqueCountries are the stage-two limits.
	MaxUniqueIPs       = 3
	MaxUniqueCountries = 2
	// MaxSuspiciousRows caps the returned events.
	MaxSuspiciousRows = 1000
)

// UserStats are one user's account activity statistics in the window.
type UserStats struct {
	UserID          string `json:"userId"`
	EventCount      int64  `json:"event_count"`
	UniqueIPs       int64  `json:"unique_ips"`
	UniqueCountries int64  `json:"unique_countries"`
}

func (s UserStats) Suspicious() bool {
	return s.EventCount > MinUserEvents &&
		(s.UniqueIPs > MaxUniqueIPs || s.UniqueCountries > MaxUniqueCountries)
}

type userAcc struct {
	count     int64
	ips       map[string]struct{}
	countries map[string]struct{}
}

// SuspiciousDetector runs in two passes over the same window: Observe every
// row, then Collect every row again. Only the flagged users' events are kept
// in the second pass, so memory is bounded by users plus the row cap.
type SuspiciousDetector struct {
	users   map[string]*userAcc
	flagged map[string]UserStats
	top     rowHeap
	limit   int
}

func NewSuspiciousDetector() *SuspiciousDetector {
	return &SuspiciousDetector{users: map[string]*userAcc{}, limit: MaxSuspiciousRows}
}

// Observe feeds the first pass. Only account activity contributes.
func (d *SuspiciousDetector) Observe(row normalize.Row) {
	if row.Type != events.TypeAccountActivity {
		return
	}
	acc, ok := d.users[row.UserID]
	if !ok {
		acc = &userAcc{ips: map[string]struct{}{}, countries: map[string]struct{}{}}
		d.users[row.UserID] = acc
	}
	acc.count++
	acc.ips[row.SourceIP] = struct{}{}
	if row.GeoCountry != nil {
		acc.countries[*row.GeoCountry] = struct{}{}
	}
	d.flagged = nil
}

// Flagged closes the first pass and returns the suspicious users.
func (d *SuspiciousDetector) Flagged() map[string]UserStats {
	if d.flagged != nil {
		return d.flagged
	}
	d.flagged = map[string]UserStats{}
	for id, acc := range d.users {
		s := UserStats{
			UserID:          id,
			EventCount:      acc.count,
			UniqueIPs:       int64(len(acc.ips)),
			UniqueCountries: int64(len(acc.countries)),
		}
		if s.Suspicious() {
			d.flagged[id] = s
		}
	}
	return d.flagged
}

// FlaggedUsers returns the flagged users ordered by event count, highest first.
func (d *SuspiciousDetector) FlaggedUsers() []UserStats {
	out := make([]UserStats, 0, len(d.Flagged()))
	for _, s := range d.Flagged() {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b UserStats) int {
		if a.EventCount != b.EventCount {
			if a.EventCount > b.EventCount {
				return -1
			}
			return 1
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

// Collect feeds the second pass. Events of every type are kept for flagged users.
func (d *SuspiciousDetector) Collect(row normalize.Row) {
	if _, ok := d.Flagged()[row.UserID]; !ok {
		return
	}
	if d.top.Len() < d.limit {
		heap.Push(&d.top, row)
		return
	}
	if newer(row, d.top[0]) {
		d.top[0] = row
		heap.Fix(&d.top, 0)
	}
}

// Results returns the collected events, newest first.
func (d *SuspiciousDetector) Results() []normalize.Row {
	out := slices.Clone(d.top)
	slices.SortFunc(out, func(a, b normalize.Row) int {
		if newer(a, b) {
			return -1
		}
		if newer(b, a) {
			return 1
		}
		return 0
	})
	return out
}

// DetectSuspicious runs both passes over an in-memory window.
func DetectSuspicious(rows []normalize.Row) ([]UserStats, []normalize.Row) {
	d := NewSuspiciousDetector()
	for _, r := range rows {
		d.Observe(r)
	}
	for _, r := range rows {
		d.Collect(r)
	}
	return d.FlaggedUsers(), d.Results()
}

// Row timestamps are fixed-width, so string order is time order.
func newer(a, b normalize.Row) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ID > b.ID
}

// rowHeap is a min-heap on recency; the root is the oldest kept row.
type rowHeap []normalize.Row

func (h rowHeap) Len() int           { return len(h) }
func (h rowHeap) Less(i, j int) bool { return newer(h[j], h[i]) }
func (h rowHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *rowHeap) Push(x any)        { *h = append(*h, x.(normalize.Row)) }
func (h *rowHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
