package normalize

import (
	"errors"
	"fmt"
	"time"

	"event-pipeline/internal/events"
)

// RowTimestampLayout is the analytical store's timestamp format (UTC, milliseconds).
const RowTimestampLayout = "2006-01-02 15:04:05.000"

var ErrIncompleteRow = errors.New("row is missing fields required by its event type")

// Row is the flat projection of any event variant. Fields the variant does not
// own are nil, which is distinct from an owned field holding a zero value.
type Row struct {
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	SourceIP  string      `json:"sourceIp"`
	UserID    string      `json:"userId"`
	Type      events.Type `json:"type"`

	// account_activity (success and failureReason are shared with email_send,
	// userAgent with api_request)
	Action        *string  `json:"action"`
	Success       *bool    `json:"success"`
	FailureReason *string  `json:"failureReason"`
	UserAgent     *string  `json:"userAgent"`
	GeoCountry    *string  `json:"geoCountry"`
	GeoCity       *string  `json:"geoCity"`
	GeoLatitude   *float64 `json:"geoLatitude"`
	GeoLongitude  *float64 `json:"geoLongitude"`

	// api_request
	Method         *string `json:"method"`
	Path           *string `json:"path"`
	StatusCode     *int64  `json:"statusCode"`
	ResponseTimeMs *int64  `json:"responseTimeMs"`
	RequestSize    *int64  `json:"requestSize"`
	ResponseSize   *int64  `json:"responseSize"`

	// email_send
	RecipientEmail *string `json:"recipientEmail"`
	TemplateID     *string `json:"templateId"`
	MessageID      *string `json:"messageId"`
	BounceType     *string `json:"bounceType"`
}

// FormatRowTimestamp renders t in the analytical store format.
func FormatRowTimestamp(t time.Time) string {
	return t.UTC().Format(RowTimestampLayout)
}

// ParseRowTimestamp is the inverse of FormatRowTimestamp.
func ParseRowTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(RowTimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid row timestamp %q: %w", s, err)
	}
	return t, nil
}

// Time parses the row timestamp.
func (r Row) Time() (time.Time, error) {
	return ParseRowTimestamp(r.Timestamp)
}

// ToRow projects a validated event onto a Row.
func ToRow(e events.Event) (Row, error) {
	if e == nil {
		return Row{}, fmt.Errorf("%w: nil event", events.ErrUnknownEventType)
	}
	base := e.Base()
	ts, err := base.Time()
	if err != nil {
		return Row{}, err
	}

	row := Row{
		ID:        base.ID,
		Timestamp: FormatRowTimestamp(ts),
		SourceIP:  base.SourceIP,
		UserID:    base.UserID,
	}

	switch ev := e.(type) {
	case *events.AccountActivityEvent:
		row.Type = events.TypeAccountActivity
		row.Action = ptr(string(ev.Action))
		row.Success = ptr(ev.Success)
		row.FailureReason = clone(ev.FailureReason)
		row.UserAgent = ptr(ev.UserAgent)
		row.GeoCountry = ptr(ev.GeoLocation.Country)
		row.GeoCity = ptr(ev.GeoLocation.City)
		row.GeoLatitude = ptr(ev.GeoLocation.Latitude)
		row.GeoLongitude = ptr(ev.GeoLocation.Longitude)
	case *events.APIRequestEvent:
		row.Type = events.TypeAPIRequest
		row.Method = ptr(string(ev.Method))
		row.Path = ptr(ev.Path)
		row.StatusCode = ptr(int64(ev.StatusCode))
		row.ResponseTimeMs = ptr(int64(ev.ResponseTimeMs))
		row.RequestSize = ptr(int64(ev.RequestSize))
		row.ResponseSize = ptr(int64(ev.ResponseSize))
		row.UserAgent = ptr(ev.UserAgent)
	case *events.EmailEvent:
		row.Type = events.TypeEmailSend
		row.RecipientEmail = ptr(ev.RecipientEmail)
		row.TemplateID = ptr(ev.TemplateID)
		row.Success = ptr(ev.Success)
		row.FailureReason = clone(ev.FailureReason)
		row.MessageID = clone(ev.MessageID)
		row.BounceType = ptr(string(ev.BounceType))
	default:
		return Row{}, fmt.Errorf("%w: %T", events.ErrUnknownEventType, e)
	}
	return row, nil
}

// FromRow recovers the event a Row was projected from. The timestamp comes
// back at millisecond precision.
func FromRow(r Row) (events.Event, error) {
	ts, err := r.Time()
	if err != nil {
		return nil, err
	}
	base := events.BaseEvent{
		ID:        r.ID,
		Timestamp: events.FormatTimestamp(ts),
		SourceIP:  r.SourceIP,
		UserID:    r.UserID,
	}

	missing := func(fields ...string) error {
		return fmt.Errorf("%w: %s row %s lacks %v", ErrIncompleteRow, r.Type, r.ID, fields)
	}

	switch r.Type {
	case events.TypeAccountActivity:
		if r.Action == nil || r.Success == nil || r.UserAgent == nil ||
			r.GeoCountry == nil || r.GeoCity == nil || r.GeoLatitude == nil || r.GeoLongitude == nil {
			return nil, missing("action", "success", "userAgent", "geo*")
		}
		return &events.AccountActivityEvent{
			BaseEvent:     base,
			Action:        events.Action(*r.Action),
			Success:       *r.Success,
			FailureReason: clone(r.FailureReason),
			UserAgent:     *r.UserAgent,
			GeoLocation: events.GeoLocation{
				Country:   *r.GeoCountry,
				City:      *r.GeoCity,
				Latitude:  *r.GeoLatitude,
				Longitude: *r.GeoLongitude,
			},
		}, nil
	case events.TypeAPIRequest:
		if r.Method == nil || r.Path == nil || r.StatusCode == nil || r.ResponseTimeMs == nil ||
			r.RequestSize == nil || r.ResponseSize == nil || r.UserAgent == nil {
			return nil, missing("method", "path", "statusCode", "responseTimeMs", "requestSize", "responseSize", "userAgent")
		}
		return &events.APIRequestEvent{
			BaseEvent:      base,
			Method:         events.HTTPMethod(*r.Method),
			Path:           *r.Path,
			StatusCode:     int(*r.StatusCode),
			ResponseTimeMs: int(*r.ResponseTimeMs),
			RequestSize:    int(*r.RequestSize),
			ResponseSize:   int(*r.ResponseSize),
			UserAgent:      *r.UserAgent,
		}, nil
	case events.TypeEmailSend:
		if r.RecipientEmail == nil || r.TemplateID == nil || r.Success == nil || r.BounceType == nil {
			return nil, missing("recipientEmail", "templateId", "success", "bounceType")
		}
		return &events.EmailEvent{
			BaseEvent:      base,
			RecipientEmail: *r.RecipientEmail,
			TemplateID:     *r.TemplateID,
			Success:        *r.Success,
			FailureReason:  clone(r.FailureReason),
			MessageID:      clone(r.MessageID),
			BounceType:     events.BounceType(*r.BounceType),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", events.ErrUnknownEventType, string(r.Type))
}

func ptr[T any](v T) *T {
	return &v
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
