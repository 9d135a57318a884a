package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/netip"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Mode selects how outcome-dependent fields are checked.
type Mode int

const (
	// ModeStrict enforces the success-dependent field contract:
	// account_activity failureReason present iff success=false, and
	// email_send messageId present iff success=true with bounceType "none" iff success=true.
	ModeStrict Mode = iota
	// ModeLenient only checks each field on its own; the outcome correlation is not enforced.
	ModeLenient
)

func (m Mode) String() string {
	if m == ModeLenient {
		return "lenient"
	}
	return "strict"
}

// ParseMode maps a configuration value onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ModeStrict, nil
	case "lenient":
		return ModeLenient, nil
	}
	return ModeStrict, fmt.Errorf("unknown validation mode %q", s)
}

var (
	datetimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z$`)
	emailPattern    = regexp.MustCompile(`^[A-Za-z0-9_'+\-.]*[A-Za-z0-9_+\-]@([A-Za-z0-9][A-Za-z0-9\-]*\.)+[A-Za-z]{2,}$`)
	uuidPattern     = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// Validator turns untyped input into a typed Event. It holds no mutable state
// and is safe for concurrent use.
type Validator struct {
	mode Mode
}

func NewValidator(mode Mode) *Validator {
	return &Validator{mode: mode}
}

func (v *Validator) Mode() Mode {
	return v.mode
}

var defaultValidator = NewValidator(ModeStrict)

// Validate checks input with the strict validator.
func Validate(input any) (Event, error) {
	return defaultValidator.Validate(input)
}

// ParseJSON decodes and validates a payload with the strict validator.
func ParseJSON(data []byte) (Event, error) {
	return defaultValidator.ParseJSON(data)
}

// ParseJSON decodes one JSON document and validates it. Decoding failures wrap
// ErrMalformedPayload; schema failures are returned as *ValidationError.
func (v *Validator) ParseJSON(data []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var input any
	if err := dec.Decode(&input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON document", ErrMalformedPayload)
	}
	return v.Validate(input)
}

// Validate accepts the output of a JSON decoder (maps, slices, strings,
// float64/json.Number, bools, nil) or Go-native equivalents. Only the fields
// declared by the tagged variant are read; anything else is ignored.
func (v *Validator) Validate(input any) (Event, error) {
	obj, ok := input.(map[string]any)
	if !ok {
		verr := &ValidationError{}
		verr.add("", "expected object, received "+kindOf(input))
		return nil, verr
	}

	r := &reader{obj: obj, errs: &ValidationError{}}
	base := r.base()

	var event Event
	rawType, present := obj["type"]
	typeName, isString := rawType.(string)
	switch {
	case !present:
		r.errs.add("type", "required")
		r.errs.unknownType = true
	case !isString:
		r.errs.add("type", "expected string, received "+kindOf(rawType))
		r.errs.unknownType = true
	default:
		switch Type(typeName) {
		case TypeAccountActivity:
			event = v.accountActivity(r, base)
		case TypeAPIRequest:
			event = v.apiRequest(r, base)
		case TypeEmailSend:
			event = v.email(r, base)
		default:
			r.errs.add("type", fmt.Sprintf(
				"invalid discriminator value %q; expected %q | %q | %q",
				typeName, TypeAccountActivity, TypeAPIRequest, TypeEmailSend))
			r.errs.unknownType = true
		}
	}

	if len(r.errs.Errors) > 0 {
		return nil, r.errs
	}
	return event, nil
}

func (v *Validator) accountActivity(r *reader, base BaseEvent) Event {
	e := &AccountActivityEvent{BaseEvent: base}
	e.Action = Action(r.enum("action", actionNames))
	success, successOK := r.boolean("success")
	e.Success = success
	e.FailureReason = r.optionalString("failureReason")
	e.UserAgent = r.str("userAgent")

	if geo, ok := r.object("geoLocation"); ok {
		g := &reader{obj: geo, prefix: "geoLocation.", errs: r.errs}
		e.GeoLocation.Country = g.exactLength("country", 2)
		e.GeoLocation.City = g.str("city")
		e.GeoLocation.Latitude = g.number("latitude", -90, 90)
		e.GeoLocation.Longitude = g.number("longitude", -180, 180)
	}

	if v.mode == ModeStrict && successOK && !r.errs.HasField("failureReason") {
		if e.Success && e.FailureReason != nil {
			r.errs.add("failureReason", "must be absent when success is true")
		}
		if !e.Success && e.FailureReason == nil {
			r.errs.add("failureReason", "required when success is false")
		}
	}
	return e
}

func (v *Validator) apiRequest(r *reader, base BaseEvent) Event {
	e := &APIRequestEvent{BaseEvent: base}
	e.Method = HTTPMethod(r.enum("method", methodNames))
	e.Path = r.str("path")
	e.StatusCode = r.integer("statusCode", 100, 599)
	e.ResponseTimeMs = r.integer("responseTimeMs", 0, maxExactInteger)
	e.RequestSize = r.integer("requestSize", 0, maxExactInteger)
	e.ResponseSize = r.integer("responseSize", 0, maxExactInteger)
	e.UserAgent = r.str("userAgent")
	return e
}

func (v *Validator) email(r *reader, base BaseEvent) Event {
	e := &EmailEvent{BaseEvent: base}
	e.RecipientEmail = r.email("recipientEmail")
	e.TemplateID = r.str("templateId")
	success, successOK := r.boolean("success")
	e.Success = success
	e.FailureReason = r.optionalString("failureReason")
	e.MessageID = r.optionalUUID("messageId")
	e.BounceType = BounceType(r.enum("bounceType", bounceNames))

	if v.mode == ModeStrict && successOK {
		if !r.errs.HasField("messageId") {
			if e.Success && e.MessageID == nil {
				r.errs.add("messageId", "required when success is true")
			}
			if !e.Success && e.MessageID != nil {
				r.errs.add("messageId", "must be absent when success is false")
			}
		}
		if !r.errs.HasField("bounceType") {
			if e.Success && e.BounceType != BounceNone {
				r.errs.add("bounceType", `must be "none" when success is true`)
			}
			if !e.Success && e.BounceType == BounceNone {
				r.errs.add("bounceType", `must be "hard" or "soft" when success is false`)
			}
		}
	}
	return e
}

var (
	actionNames = func() []string {
		out := make([]string, len(Actions))
		for i, a := range Actions {
			out[i] = string(a)
		}
		return out
	}()
	methodNames = func() []string {
		out := make([]string, len(HTTPMethods))
		for i, m := range HTTPMethods {
			out[i] = string(m)
		}
		return out
	}()
	bounceNames = func() []string {
		out := make([]string, len(BounceTypes))
		for i, b := range BounceTypes {
			out[i] = string(b)
		}
		return out
	}()
)

// reader pulls typed fields out of one JSON object, recording a FieldError
// for every failure instead of stopping at the first.
type reader struct {
	obj    map[string]any
	prefix string
	errs   *ValidationError
}

func (r *reader) fail(field, message string) {
	r.errs.add(r.prefix+field, message)
}

func (r *reader) base() BaseEvent {
	return BaseEvent{
		ID:        r.uuid("id"),
		Timestamp: r.datetime("timestamp"),
		SourceIP:  r.ipv4("sourceIp"),
		UserID:    r.uuid("userId"),
	}
}

// lookup returns the raw value, failing when it is absent.
func (r *reader) lookup(field string) (any, bool) {
	raw, ok := r.obj[field]
	if !ok {
		r.fail(field, "required")
		return nil, false
	}
	return raw, true
}

func (r *reader) str(field string) string {
	raw, ok := r.lookup(field)
	if !ok {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		r.fail(field, "expected string, received "+kindOf(raw))
		return ""
	}
	return s
}

// optionalString treats an absent key as "not set"; an explicit null is a type error.
func (r *reader) optionalString(field string) *string {
	raw, ok := r.obj[field]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		r.fail(field, "expected string, received "+kindOf(raw))
		return nil
	}
	return &s
}

func (r *reader) optionalUUID(field string) *string {
	s := r.optionalString(field)
	if s == nil {
		return nil
	}
	if !isUUID(*s) {
		r.fail(field, "invalid uuid")
		return nil
	}
	return s
}

func (r *reader) exactLength(field string, n int) string {
	s := r.str(field)
	if r.errs.HasField(r.prefix + field) {
		return s
	}
	if utf8.RuneCountInString(s) != n {
		r.fail(field, fmt.Sprintf("must contain exactly %d character(s)", n))
	}
	return s
}

func (r *reader) enum(field string, allowed []string) string {
	s := r.str(field)
	if r.errs.HasField(r.prefix + field) {
		return s
	}
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	r.fail(field, fmt.Sprintf("invalid enum value %q; expected one of %s", s, strings.Join(allowed, ", ")))
	return s
}

func (r *reader) uuid(field string) string {
	s := r.str(field)
	if r.errs.HasField(r.prefix+field) || isUUID(s) {
		return s
	}
	r.fail(field, "invalid uuid")
	return s
}

func (r *reader) datetime(field string) string {
	s := r.str(field)
	if r.errs.HasField(r.prefix + field) {
		return s
	}
	if !datetimePattern.MatchString(s) {
		r.fail(field, "invalid datetime; expected ISO-8601 UTC (YYYY-MM-DDTHH:MM:SS[.sss]Z)")
		return s
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		r.fail(field, "invalid datetime: "+err.Error())
	}
	return s
}

func (r *reader) ipv4(field string) string {
	s := r.str(field)
	if r.errs.HasField(r.prefix + field) {
		return s
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		r.fail(field, "invalid IPv4 address")
	}
	return s
}

func (r *reader) email(field string) string {
	s := r.str(field)
	if r.errs.HasField(r.prefix + field) {
		return s
	}
	local, _, _ := strings.Cut(s, "@")
	if !emailPattern.MatchString(s) || strings.HasPrefix(local, ".") || strings.Contains(local, "..") {
		r.fail(field, "invalid email")
	}
	return s
}

func (r *reader) boolean(field string) (bool, bool) {
	raw, ok := r.lookup(field)
	if !ok {
		return false, false
	}
	b, ok := raw.(bool)
	if !ok {
		r.fail(field, "expected boolean, received "+kindOf(raw))
		return false, false
	}
	return b, true
}

func (r *reader) object(field string) (map[string]any, bool) {
	raw, ok := r.lookup(field)
	if !ok {
		return nil, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		r.fail(field, "expected object, received "+kindOf(raw))
		return nil, false
	}
	return m, true
}

// number reads a finite number within the inclusive range [min, max].
func (r *reader) number(field string, min, max float64) float64 {
	raw, ok := r.lookup(field)
	if !ok {
		return 0
	}
	f, ok := toFloat(raw)
	if !ok {
		r.fail(field, "expected number, received "+kindOf(raw))
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		r.fail(field, "expected finite number")
		return 0
	}
	if f < min {
		r.fail(field, fmt.Sprintf("must be greater than or equal to %v", min))
	} else if f > max {
		r.fail(field, fmt.Sprintf("must be less than or equal to %v", max))
	}
	return f
}

// maxExactInteger is the largest integer a float64 holds exactly.
const maxExactInteger = 1 << 53

// integer reads a whole number within the inclusive range [min, max]. max is
// capped at maxExactInteger so the conversion back to int cannot wrap.
func (r *reader) integer(field string, min, max int) int {
	if max > maxExactInteger {
		max = maxExactInteger
	}
	raw, ok := r.lookup(field)
	if !ok {
		return 0
	}
	f, ok := toFloat(raw)
	if !ok {
		r.fail(field, "expected number, received "+kindOf(raw))
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		r.fail(field, "expected integer")
		return 0
	}
	if f < float64(min) {
		r.fail(field, fmt.Sprintf("must be greater than or equal to %d", min))
		return 0
	}
	if f > float64(max) {
		r.fail(field, fmt.Sprintf("must be less than or equal to %d", max))
		return 0
	}
	return int(f)
}

func isUUID(s string) bool {
	if !uuidPattern.MatchString(s) {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int32, int64, uint32, uint64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}
