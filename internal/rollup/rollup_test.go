package rollup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/events"
	"event-pipeline/internal/normalize"
)

func sp(s string) *string { return &s }
func bp(b bool) *bool     { return &b }
func ip(i int64) *int64   { return &i }

func apiRow(id, ts string, status, rt int64) normalize.Row {
	return normalize.Row{
		ID: id, Timestamp: ts, SourceIP: "10.0.0.1", UserID: "u1",
		Type: events.TypeAPIRequest, Method: sp("GET"), Path: sp("/api/v1/users"),
		StatusCode: ip(status), ResponseTimeMs: ip(rt), RequestSize: ip(1), ResponseSize: ip(1),
		UserAgent: sp("ua"),
	}
}

func accountRow(id, ts, user, srcIP, country string, success bool) normalize.Row {
	return normalize.Row{
		ID: id, Timestamp: ts, SourceIP: srcIP, UserID: user,
		Type: events.TypeAccountActivity, Action: sp("login"), Success: bp(success),
		UserAgent: sp("ua"), GeoCountry: sp(country), GeoCity: sp("c"),
	}
}

func emailRow(id, ts string, success bool, bounce string) normalize.Row {
	return normalize.Row{
		ID: id, Timestamp: ts, SourceIP: "10.0.0.2", UserID: "u2",
		Type: events.TypeEmailSend, RecipientEmail: sp("a@example.com"), TemplateID: sp("welcome"),
		Success: bp(success), BounceType: sp(bounce),
	}
}

func TestParseTimeRange(t *testing.T) {
	cases := []struct {
		in   string
		want string
		dur  time.Duration
		ok   bool
	}{
		{"5 MINUTE", "5 MINUTE", 5 * time.Minute, true},
		{"1 hour", "1 HOUR", time.Hour, true},
		{"7  Day", "7 DAY", 7 * 24 * time.Hour, true},
		{"0 MINUTE", "0 MINUTE", 0, true},
		{"5 MINUTES", "", 0, false},
		{"-1 HOUR", "", 0, false},
		{"1 HOUR; DROP TABLE events", "", 0, false},
		{"HOUR", "", 0, false},
		{"", "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			tr, err := ParseTimeRange(tc.in)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrInvalidTimeRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, tr.String())
			assert.Equal(t, tc.dur, tr.Duration())
		})
	}
}

func TestParseInterval(t *testing.T) {
	i, err := ParseInterval("")
	require.NoError(t, err)
	assert.Equal(t, IntervalMinute, i)

	i, err = ParseInterval("1h")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, i.Duration())
	assert.Equal(t, "hour", i.SQLUnit())

	_, err = ParseInterval("5m")
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestRollupAggregator(t *testing.T) {
	agg := NewRollupAggregator(IntervalMinute)
	rows := []normalize.Row{
		apiRow("1", "2024-01-15 10:30:05.000", 200, 100),
		apiRow("2", "2024-01-15 10:30:59.999", 503, 300),
		apiRow("3", "2024-01-15 10:30:10.000", 404, 200),
		apiRow("4", "2024-01-15 10:31:00.000", 200, 50),
		accountRow("5", "2024-01-15 10:30:01.000", "u1", "10.0.0.1", "US", true),
		accountRow("6", "2024-01-15 10:30:02.000", "u1", "10.0.0.1", "US", false),
		emailRow("7", "2024-01-15 10:30:03.000", true, "none"),
		emailRow("8", "2024-01-15 10:30:04.000", false, "hard"),
		emailRow("9", "2024-01-15 10:30:05.000", false, "soft"),
	}
	for _, r := range rows {
		require.NoError(t, agg.Add(r))
	}

	got := agg.Results()
	require.Len(t, got, 4)

	account := got[0]
	assert.Equal(t, "2024-01-15T10:30:00.000Z", account.WindowStart)
	assert.Equal(t, events.TypeAccountActivity, account.Type)
	assert.Equal(t, int64(2), account.EventCount)
	assert.Equal(t, int64(1), account.SuccessfulLogins)
	assert.Equal(t, int64(1), account.FailedLogins)
	assert.Nil(t, account.AvgResponseTimeMs)

	api := got[1]
	assert.Equal(t, events.TypeAPIRequest, api.Type)
	assert.Equal(t, int64(3), api.EventCount)
	require.NotNil(t, api.AvgResponseTimeMs)
	assert.InDelta(t, 200.0, *api.AvgResponseTimeMs, 1e-9)
	assert.Equal(t, int64(1), api.ErrorCount)
	assert.Equal(t, int64(1), api.WarningCount)

	email := got[2]
	assert.Equal(t, events.TypeEmailSend, email.Type)
	assert.Equal(t, int64(1), email.EmailsSent)
	assert.Equal(t, int64(1), email.HardBounces)
	assert.Equal(t, int64(1), email.SoftBounces)
	assert.Nil(t, email.AvgResponseTimeMs)

	next := got[3]
	assert.Equal(t, "2024-01-15T10:31:00.000Z", next.WindowStart)
	assert.Equal(t, int64(1), next.EventCount)
}

func TestRollupAggregator_BadTimestamp(t *testing.T) {
	agg := NewRollupAggregator(IntervalMinute)
	assert.Error(t, agg.Add(apiRow("1", "2024-01-15T10:30:05Z", 200, 1)))
	assert.Empty(t, agg.Results())
}

func TestHourlyAggregator(t *testing.T) {
	agg := NewHourlyAggregator()
	require.NoError(t, agg.Add(accountRow("1", "2024-01-15 10:01:00.000", "u1", "1.1.1.1", "US", true)))
	require.NoError(t, agg.Add(accountRow("2", "2024-01-15 10:59:00.000", "u2", "1.1.1.2", "FR", true)))
	require.NoError(t, agg.Add(accountRow("3", "2024-01-15 10:30:00.000", "u3", "1.1.1.1", "US", false)))

	got := agg.HourlyResults()
	require.Len(t, got, 1)
	assert.Equal(t, "2024-01-15T10:00:00.000Z", got[0].WindowStart)
	assert.Equal(t, int64(3), got[0].EventCount)
	assert.Equal(t, int64(2), got[0].UniqueCountries)
	assert.Equal(t, int64(2), got[0].UniqueIPs)
}

func TestDataQualityAggregator(t *testing.T) {
	agg := NewDataQualityAggregator(IntervalMinute)
	noAgent := accountRow("1", "2024-01-15 10:30:00.000", "u1", "1.1.1.1", "US", true)
	noAgent.UserAgent = nil
	noEmail := emailRow("2", "2024-01-15 10:30:01.000", true, "none")
	noEmail.RecipientEmail = sp("")
	noIP := apiRow("3", "2024-01-15 10:30:02.000", 200, 5)
	noIP.SourceIP = ""
	dup := apiRow("3", "2024-01-15 10:30:03.000", 200, 5)

	for _, r := range []normalize.Row{noAgent, noEmail, noIP, dup} {
		require.NoError(t, agg.Add(r))
	}

	got := agg.Results()
	require.Len(t, got, 1)
	m := got[0]
	assert.Equal(t, int64(4), m.TotalEvents)
	assert.Equal(t, int64(1), m.AccountEvents)
	assert.Equal(t, int64(2), m.APIEvents)
	assert.Equal(t, int64(1), m.EmailEvents)
	assert.Equal(t, int64(1), m.MissingIP)
	assert.Equal(t, int64(0), m.MissingUser)
	assert.Equal(t, int64(1), m.MissingUserAgent)
	assert.Equal(t, int64(1), m.MissingEmail)
	assert.Equal(t, int64(3), m.UniqueIDs)
	assert.Equal(t, int64(1), m.DuplicateCount)
}

func TestIsHighRiskActivity_Boundaries(t *testing.T) {
	cases := []struct {
		name string
		in   SuspiciousActivity
		want bool
	}{
		{"user at threshold", SuspiciousActivity{Events5m: 20}, false},
		{"user above", SuspiciousActivity{Events5m: 21}, true},
		{"ip at threshold", SuspiciousActivity{EventsIP5m: 10}, false},
		{"ip above", SuspiciousActivity{EventsIP5m: 11}, true},
		{"country at threshold", SuspiciousActivity{EventsCountry5m: 15}, false},
		{"country above", SuspiciousActivity{EventsCountry5m: 16}, true},
		{"all at threshold", SuspiciousActivity{Events5m: 20, EventsIP5m: 10, EventsCountry5m: 15}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsHighRiskActivity(tc.in))
		})
	}
}

func TestRiskScore(t *testing.T) {
	assert.Equal(t, 0, RiskScore(SuspiciousActivity{Events5m: 20, EventsIP5m: 10, EventsCountry5m: 15}))
	assert.Equal(t, 2, RiskScore(SuspiciousActivity{Events5m: 21, EventsIP5m: 11}))
	assert.Equal(t, 3, RiskScore(SuspiciousActivity{Events5m: 21, EventsIP5m: 11, EventsCountry5m: 16}))
}

func TestHasDataQualityIssues_Boundaries(t *testing.T) {
	cases := []struct {
		name string
		in   DataQualityMetrics
		want bool
	}{
		{"empty bucket", DataQualityMetrics{TotalEvents: 0, MissingIP: 50, DuplicateCount: 50}, false},
		{"missing at 5%", DataQualityMetrics{TotalEvents: 1000, MissingIP: 20, MissingUser: 10, MissingUserAgent: 10, MissingEmail: 10}, false},
		{"missing at 5.1%", DataQualityMetrics{TotalEvents: 1000, MissingIP: 51}, true},
		{"duplicates at 1%", DataQualityMetrics{TotalEvents: 1000, DuplicateCount: 10}, false},
		{"duplicates at 1.1%", DataQualityMetrics{TotalEvents: 1000, DuplicateCount: 11}, true},
		{"both under", DataQualityMetrics{TotalEvents: 1000, MissingEmail: 50, DuplicateCount: 10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasDataQualityIssues(tc.in))
		})
	}
}

func TestQualityScore(t *testing.T) {
	m := DataQualityMetrics{
		TotalEvents:      1000,
		MissingIP:        10,
		MissingUser:      5,
		MissingUserAgent: 15,
		MissingEmail:     8,
		DuplicateCount:   10,
	}
	assert.Equal(t, 95.20, QualityScore(m))
	assert.False(t, HasDataQualityIssues(m))

	assert.Equal(t, 100.0, QualityScore(DataQualityMetrics{}))
	assert.Equal(t, 66.67, QualityScore(DataQualityMetrics{TotalEvents: 3, MissingIP: 1}))
}

func suspiciousFixture() []normalize.Row {
	var rows []normalize.Row
	ts := func(i int) string { return fmt.Sprintf("2024-01-15 10:%02d:00.000", i) }

	// attacker: 12 logins over 4 addresses
	for i := range 12 {
		rows = append(rows, accountRow(fmt.Sprintf("a%d", i), ts(i), "attacker", fmt.Sprintf("10.0.0.%d", i%4), "US", false))
	}
	rows = append(rows, apiRow("a-api", ts(30), 500, 10))
	rows[len(rows)-1].UserID = "attacker"

	// traveller: 11 logins from 3 countries on one address
	for i := range 11 {
		rows = append(rows, accountRow(fmt.Sprintf("t%d", i), ts(i), "traveller", "10.1.0.1", []string{"US", "FR", "JP"}[i%3], true))
	}

	// busy but consistent: 20 logins, 3 addresses, 2 countries
	for i := range 20 {
		rows = append(rows, accountRow(fmt.Sprintf("b%d", i), ts(i), "busy", fmt.Sprintf("10.2.0.%d", i%3), []string{"US", "CA"}[i%2], true))
	}

	// quiet: 10 logins over 10 addresses stays under the floor
	for i := range 10 {
		rows = append(rows, accountRow(fmt.Sprintf("q%d", i), ts(i), "quiet", fmt.Sprintf("10.3.0.%d", i), "US", true))
	}
	return rows
}

func TestDetectSuspicious(t *testing.T) {
	users, rows := DetectSuspicious(suspiciousFixture())

	require.Len(t, users, 2)
	assert.Equal(t, UserStats{UserID: "attacker", EventCount: 12, UniqueIPs: 4, UniqueCountries: 1}, users[0])
	assert.Equal(t, UserStats{UserID: "traveller", EventCount: 11, UniqueIPs: 1, UniqueCountries: 3}, users[1])

	require.Len(t, rows, 12+1+11)
	assert.Equal(t, "a-api", rows[0].ID)
	for i := 1; i < len(rows); i++ {
		assert.GreaterOrEqual(t, rows[i-1].Timestamp, rows[i].Timestamp)
	}
	for _, r := range rows {
		assert.Contains(t, []string{"attacker", "traveller"}, r.UserID)
	}
}

func TestSuspiciousDetector_CapsNewestRows(t *testing.T) {
	d := NewSuspiciousDetector()
	d.limit = 5

	var rows []normalize.Row
	for i := range 20 {
		rows = append(rows, accountRow(fmt.Sprintf("%02d", i), fmt.Sprintf("2024-01-15 10:00:%02d.000", i), "x", fmt.Sprintf("10.0.0.%d", i), "US", false))
	}
	for _, r := range rows {
		d.Observe(r)
	}
	for _, r := range rows {
		d.Collect(r)
	}

	got := d.Results()
	require.Len(t, got, 5)
	assert.Equal(t, "19", got[0].ID)
	assert.Equal(t, "15", got[4].ID)
}

func TestUserStats_Floor(t *testing.T) {
	assert.False(t, UserStats{EventCount: 10, UniqueIPs: 9}.Suspicious())
	assert.True(t, UserStats{EventCount: 11, UniqueIPs: 4}.Suspicious())
	assert.False(t, UserStats{EventCount: 11, UniqueIPs: 3, UniqueCountries: 2}.Suspicious())
}

func TestNewSuspiciousActivity(t *testing.T) {
	ev := &events.AccountActivityEvent{
		BaseEvent:   events.BaseEvent{ID: "id", Timestamp: "2024-01-15T10:30:00.000Z", SourceIP: "1.2.3.4", UserID: "u"},
		Action:      events.ActionLogin,
		UserAgent:   "ua",
		GeoLocation: events.GeoLocation{Country: "US", City: "Austin"},
	}
	a := NewSuspiciousActivity(ev, RollingCounts{User: 21, IP: 3, Country: 4})
	assert.Equal(t, events.TypeAccountActivity, a.Type)
	assert.Equal(t, "US", a.GeoCountry)
	assert.Equal(t, int64(21), a.Events5m)
	assert.True(t, IsHighRiskActivity(a))
}
