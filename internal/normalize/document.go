package normalize

import (
	"fmt"

	"event-pipeline/internal/events"
)

// SearchDocument is the search-index form of an event: the event's own shape,
// with the timestamp as Unix seconds so range filters are numeric.
// Fields the variant does not own are omitted.
type SearchDocument struct {
	ID        string      `json:"id"`
	Type      events.Type `json:"type"`
	Timestamp int64       `json:"timestamp"`
	SourceIP  string      `json:"sourceIp"`
	UserID    string      `json:"userId"`

	Action        *string             `json:"action,omitempty"`
	Success       *bool               `json:"success,omitempty"`
	FailureReason *string             `json:"failureReason,omitempty"`
	UserAgent     *string             `json:"userAgent,omitempty"`
	GeoLocation   *events.GeoLocation `json:"geoLocation,omitempty"`

	Method         *string `json:"method,omitempty"`
	Path           *string `json:"path,omitempty"`
	StatusCode     *int    `json:"statusCode,omitempty"`
	ResponseTimeMs *int    `json:"responseTimeMs,omitempty"`
	RequestSize    *int    `json:"requestSize,omitempty"`
	ResponseSize   *int    `json:"responseSize,omitempty"`

	RecipientEmail *string `json:"recipientEmail,omitempty"`
	TemplateID     *string `json:"templateId,omitempty"`
	MessageID      *string `json:"messageId,omitempty"`
	BounceType     *string `json:"bounceType,omitempty"`
}

// ToSearchDocument converts a validated event for the search sink.
func ToSearchDocument(e events.Event) (SearchDocument, error) {
	if e == nil {
		return SearchDocument{}, fmt.Errorf("%w: nil event", events.ErrUnknownEventType)
	}
	base := e.Base()
	ts, err := base.Time()
	if err != nil {
		return SearchDocument{}, err
	}

	doc := SearchDocument{
		ID:        base.ID,
		Timestamp: ts.Unix(),
		SourceIP:  base.SourceIP,
		UserID:    base.UserID,
	}

	switch ev := e.(type) {
	case *events.AccountActivityEvent:
		doc.Type = events.TypeAccountActivity
		doc.Action = ptr(string(ev.Action))
		doc.Success = ptr(ev.Success)
		doc.FailureReason = clone(ev.FailureReason)
		doc.UserAgent = ptr(ev.UserAgent)
		geo := ev.GeoLocation
		doc.GeoLocation = &geo
	case *events.APIRequestEvent:
		doc.Type = events.TypeAPIRequest
		doc.Method = ptr(string(ev.Method))
		doc.Path = ptr(ev.Path)
		doc.StatusCode = ptr(ev.StatusCode)
		doc.ResponseTimeMs = ptr(ev.ResponseTimeMs)
		doc.RequestSize = ptr(ev.RequestSize)
		doc.ResponseSize = ptr(ev.ResponseSize)
		doc.UserAgent = ptr(ev.UserAgent)
	case *events.EmailEvent:
		doc.Type = events.TypeEmailSend
		doc.RecipientEmail = ptr(ev.RecipientEmail)
		doc.TemplateID = ptr(ev.TemplateID)
		doc.Success = ptr(ev.Success)
		doc.FailureReason = clone(ev.FailureReason)
		doc.MessageID = clone(ev.MessageID)
		doc.BounceType = ptr(string(ev.BounceType))
	default:
		return SearchDocument{}, fmt.Errorf("%w: %T", events.ErrUnknownEventType, e)
	}
	return doc, nil
}

// Normalize produces both sink forms of one event.
func Normalize(e events.Event) (Row, SearchDocument, error) {
	row, err := ToRow(e)
	if err != nil {
		return Row{}, SearchDocument{}, err
	}
	doc, err := ToSearchDocument(e)
	if err != nil {
		return Row{}, SearchDocument{}, err
	}
	return row, doc, nil
}
