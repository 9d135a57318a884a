package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the discriminant selecting which variant's fields apply.
type Type string

const (
	TypeAccountActivity Type = "account_activity"
	TypeAPIRequest      Type = "api_request"
	TypeEmailSend       Type = "email_send"
)

// Types lists the closed set of event types in canonical order.
var Types = []Type{TypeAccountActivity, TypeAPIRequest, TypeEmailSend}

func (t Type) Valid() bool {
	switch t {
	case TypeAccountActivity, TypeAPIRequest, TypeEmailSend:
		return true
	}
	return false
}

type Action string

const (
	ActionLogin             Action = "login"
	ActionLogout            Action = "logout"
	ActionPasswordChange    Action = "password_change"
	ActionTwoFactorEnabled  Action = "two_factor_enabled"
	ActionTwoFactorDisabled Action = "two_factor_disabled"
	ActionAccountCreated    Action = "account_created"
	ActionAccountDeleted    Action = "account_deleted"
)

var Actions = []Action{
	ActionLogin,
	ActionLogout,
	ActionPasswordChange,
	ActionTwoFactorEnabled,
	ActionTwoFactorDisabled,
	ActionAccountCreated,
	ActionAccountDeleted,
}

type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodDelete HTTPMethod = "DELETE"
	MethodPatch  HTTPMethod = "PATCH"
)

var HTTPMethods = []HTTPMethod{MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch}

type BounceType string

const (
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
	BounceNone BounceType = "none"
)

var BounceTypes = []BounceType{BounceHard, BounceSoft, BounceNone}

// TimestampLayout is the ISO-8601 form produced for new events (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t the way the generator and producers stamp events.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// BaseEvent carries the fields shared by every variant.
// Timestamp is kept verbatim so a validated event marshals back to its input.
type BaseEvent struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	SourceIP  string `json:"sourceIp"`
	UserID    string `json:"userId"`
}

// Time parses the event timestamp.
func (b BaseEvent) Time() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, b.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid event timestamp %q: %w", b.Timestamp, err)
	}
	return t.UTC(), nil
}

// Event is the closed union of the three variants. Only this package can add
// implementations; consumers switch on the concrete pointer types.
type Event interface {
	Type() Type
	Base() BaseEvent
	sealed()
}

type GeoLocation struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type AccountActivityEvent struct {
	BaseEvent
	Action        Action      `json:"action"`
	Success       bool        `json:"success"`
	FailureReason *string     `json:"failureReason,omitempty"`
	UserAgent     string      `json:"userAgent"`
	GeoLocation   GeoLocation `json:"geoLocation"`
}

type APIRequestEvent struct {
	BaseEvent
	Method         HTTPMethod `json:"method"`
	Path           string     `json:"path"`
	StatusCode     int        `json:"statusCode"`
	ResponseTimeMs int        `json:"responseTimeMs"`
	RequestSize    int        `json:"requestSize"`
	ResponseSize   int        `json:"responseSize"`
	UserAgent      string     `json:"userAgent"`
}

type EmailEvent struct {
	BaseEvent
	RecipientEmail string     `json:"recipientEmail"`
	TemplateID     string     `json:"templateId"`
	Success        bool       `json:"success"`
	FailureReason  *string    `json:"failureReason,omitempty"`
	MessageID      *string    `json:"messageId,omitempty"`
	BounceType     BounceType `json:"bounceType"`
}

func (*AccountActivityEvent) Type() Type { return TypeAccountActivity }
func (*APIRequestEvent) Type() Type      { return TypeAPIRequest }
func (*EmailEvent) Type() Type           { return TypeEmailSend }

func (e *AccountActivityEvent) Base() BaseEvent { return e.BaseEvent }
func (e *APIRequestEvent) Base() BaseEvent      { return e.BaseEvent }
func (e *EmailEvent) Base() BaseEvent           { return e.BaseEvent }

func (*AccountActivityEvent) sealed() {}
func (*APIRequestEvent) sealed()      {}
func (*EmailEvent) sealed()           {}

// The wire form carries the discriminant first, followed by the variant fields.

func (e AccountActivityEvent) MarshalJSON() ([]byte, error) {
	type plain AccountActivityEvent
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeAccountActivity, plain(e)})
}

func (e APIRequestEvent) MarshalJSON() ([]byte, error) {
	type plain APIRequestEvent
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeAPIRequest, plain(e)})
}

func (e EmailEvent) MarshalJSON() ([]byte, error) {
	type plain EmailEvent
	return json.Marshal(struct {
		Type Type `json:"type"`
		plain
	}{TypeEmailSend, plain(e)})
}

// StringPtr is a small helper for optional string fields.
func StringPtr(s string) *string {
	return &s
}
