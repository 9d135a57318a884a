package events

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	accountActivityJSON = `{
		"type": "account_activity",
		"id": "6f1c2a7e-3b4d-4c5e-8f90-1a2b3c4d5e6f",
		"timestamp": "2024-03-10T12:34:56.789Z",
		"sourceIp": "192.168.1.10",
		"userId": "0b7e4c1a-9d2f-4e3b-a5c6-d7e8f9a0b1c2",
		"action": "login",
		"success": false,
		"failureReason": "Invalid credentials",
		"userAgent": "Mozilla/5.0",
		"geoLocation": {"country": "US", "city": "Denver", "latitude": 39.7392, "longitude": -104.9903}
	}`

	apiRequestJSON = `{
		"type": "api_request",
		"id": "7a2d3b8f-4c5e-4d6f-9a01-2b3c4d5e6f70",
		"timestamp": "2024-03-10T12:35:00.000Z",
		"sourceIp": "10.0.0.7",
		"userId": "0b7e4c1a-9d2f-4e3b-a5c6-d7e8f9a0b1c2",
		"method": "POST",
		"path": "/api/v1/orders",
		"statusCode": 201,
		"responseTimeMs": 87,
		"requestSize": 512,
		"responseSize": 2048,
		"userAgent": "curl/8.4.0"
	}`

	emailSendJSON = `{
		"type": "email_send",
		"id": "8b3e4c90-5d6f-4e70-8b12-3c4d5e6f7081",
		"timestamp": "2024-03-10T12:36:30.120Z",
		"sourceIp": "172.16.4.2",
		"userId": "1c8f5d2b-0e3a-4f4c-b6d7-e8f9a0b1c2d3",
		"recipientEmail": "jane.doe@example.com",
		"templateId": "welcome",
		"success": true,
		"messageId": "9c4f5da1-6e70-4f81-9c23-4d5e6f708192",
		"bounceType": "none"
	}`
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestValidate_RoundTripsEveryVariant(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType Type
	}{
		{"account activity", accountActivityJSON, TypeAccountActivity},
		{"api request", apiRequestJSON, TypeAPIRequest},
		{"email send", emailSendJSON, TypeEmailSend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := Validate(decode(t, tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, event.Type())

			out, err := json.Marshal(event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.raw, string(out))
		})
	}
}

func TestValidate_IgnoresFieldsOfOtherVariants(t *testing.T) {
	input := decode(t, apiRequestJSON)
	input["action"] = "not-an-action"
	input["bounceType"] = 12
	input["geoLocation"] = "nowhere"

	event, err := Validate(input)
	require.NoError(t, err)

	out, err := json.Marshal(event)
	require.NoError(t, err)
	assert.JSONEq(t, apiRequestJSON, string(out))
}

func TestParseJSON_TypedResult(t *testing.T) {
	event, err := ParseJSON([]byte(accountActivityJSON))
	require.NoError(t, err)

	account, ok := event.(*AccountActivityEvent)
	require.True(t, ok, "expected *AccountActivityEvent, got %T", event)
	assert.Equal(t, ActionLogin, account.Action)
	assert.False(t, account.Success)
	require.NotNil(t, account.FailureReason)
	assert.Equal(t, "Invalid credentials", *account.FailureReason)
	assert.Equal(t, GeoLocation{Country: "US", City: "Denver", Latitude: 39.7392, Longitude: -104.9903}, account.GeoLocation)
}

func TestParseJSON_Malformed(t *testing.T) {
	for _, raw := range []string{`{"type":`, `not json`, `{} {}`} {
		_, err := ParseJSON([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedPayload, raw)
	}
}

func TestValidate_RejectsNonObjects(t *testing.T) {
	inputs := map[string]any{
		"null":   nil,
		"string": "account_activity",
		"number": 42.0,
		"array":  []any{map[string]any{"type": "api_request"}},
		"bool":   true,
	}
	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Validate(input)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Errors, 1)
			assert.Equal(t, "", verr.Errors[0].Field)
			assert.Contains(t, verr.Errors[0].Message, "expected object")
		})
	}
}

func TestValidate_Discriminant(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		input := decode(t, apiRequestJSON)
		delete(input, "type")
		_, err := Validate(input)
		assert.ErrorIs(t, err, ErrUnknownEventType)
		assert.ErrorIs(t, err, ErrSchemaValidation)
	})

	t.Run("unknown", func(t *testing.T) {
		input := decode(t, apiRequestJSON)
		input["type"] = "file_upload"
		_, err := Validate(input)
		assert.ErrorIs(t, err, ErrUnknownEventType)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.True(t, verr.HasField("type"))
	})

	t.Run("not a string", func(t *testing.T) {
		input := decode(t, apiRequestJSON)
		input["type"] = 3
		_, err := Validate(input)
		assert.ErrorIs(t, err, ErrUnknownEventType)
	})

	t.Run("valid tag is not an unknown type error", func(t *testing.T) {
		input := decode(t, apiRequestJSON)
		input["statusCode"] = 700
		_, err := Validate(input)
		assert.ErrorIs(t, err, ErrSchemaValidation)
		assert.False(t, errors.Is(err, ErrUnknownEventType))
	})
}

func TestValidate_ReportsEveryFailingField(t *testing.T) {
	input := decode(t, apiRequestJSON)
	input["method"] = "FETCH"
	input["statusCode"] = 600
	input["responseTimeMs"] = -1
	input["requestSize"] = 1.5
	delete(input, "path")
	input["sourceIp"] = "not-an-ip"

	_, err := Validate(input)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t,
		[]string{"sourceIp", "method", "path", "statusCode", "responseTimeMs", "requestSize"},
		verr.Fields())
}

func TestValidate_NumericBoundsAreInclusive(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
		value any
		valid bool
	}{
		{"status lower bound", apiRequestJSON, "statusCode", 100, true},
		{"status below lower bound", apiRequestJSON, "statusCode", 99, false},
		{"status upper bound", apiRequestJSON, "statusCode", 599, true},
		{"status above upper bound", apiRequestJSON, "statusCode", 600, false},
		{"status fractional", apiRequestJSON, "statusCode", 200.5, false},
		{"response time zero", apiRequestJSON, "responseTimeMs", 0, true},
		{"response time negative", apiRequestJSON, "responseTimeMs", -1, false},
		{"response size as string", apiRequestJSON, "responseSize", "12", false},
		{"response size at exact integer limit", apiRequestJSON, "responseSize", float64(1 << 53), true},
		{"request size past exact integer limit", apiRequestJSON, "requestSize", float64(1 << 54), false},
		{"response time of 2^63", apiRequestJSON, "responseTimeMs", 9223372036854775808.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := decode(t, tt.raw)
			input[tt.field] = tt.value
			_, err := Validate(input)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.True(t, verr.HasField(tt.field), "errors: %v", verr.Errors)
		})
	}
}

func TestParseJSON_HugeIntegerDoesNotWrap(t *testing.T) {
	raw := strings.Replace(apiRequestJSON, `"responseTimeMs": 87`, `"responseTimeMs": 9223372036854775808`, 1)
	require.Contains(t, raw, "9223372036854775808")

	ev, err := ParseJSON([]byte(raw))
	assert.Nil(t, ev)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.HasField("responseTimeMs"), "errors: %v", verr.Errors)
}

func TestValidate_GeoLocation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(geo map[string]any)
		field  string
	}{
		{"latitude max", func(g map[string]any) { g["latitude"] = 90.0 }, ""},
		{"latitude above max", func(g map[string]any) { g["latitude"] = 90.0001 }, "geoLocation.latitude"},
		{"longitude min", func(g map[string]any) { g["longitude"] = -180.0 }, ""},
		{"longitude below min", func(g map[string]any) { g["longitude"] = -180.5 }, "geoLocation.longitude"},
		{"country too long", func(g map[string]any) { g["country"] = "USA" }, "geoLocation.country"},
		{"missing city", func(g map[string]any) { delete(g, "city") }, "geoLocation.city"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := decode(t, accountActivityJSON)
			tt.mutate(input["geoLocation"].(map[string]any))
			_, err := Validate(input)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []string{tt.field}, verr.Fields())
		})
	}

	t.Run("geoLocation not an object", func(t *testing.T) {
		input := decode(t, accountActivityJSON)
		input["geoLocation"] = "US"
		_, err := Validate(input)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.True(t, verr.HasField("geoLocation"))
	})
}

func TestValidate_BaseFieldFormats(t *testing.T) {
	tests := []struct {
		field string
		value any
	}{
		{"id", "not-a-uuid"},
		{"id", "6f1c2a7e3b4d4c5e8f901a2b3c4d5e6f"},
		{"userId", ""},
		{"timestamp", "2024-03-10 12:34:56"},
		{"timestamp", "2024-03-10T12:34:56+02:00"},
		{"timestamp", "2024-02-30T12:34:56Z"},
		{"sourceIp", "::1"},
		{"sourceIp", "256.1.1.1"},
		{"sourceIp", 3232235786.0},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			input := decode(t, emailSendJSON)
			input[tt.field] = tt.value
			_, err := Validate(input)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []string{tt.field}, verr.Fields(), "value %v", tt.value)
		})
	}
}

func TestValidate_Email(t *testing.T) {
	for _, bad := range []string{"plainaddress", "a@b", ".jane@example.com", "jane..doe@example.com", "jane@-example.com"} {
		input := decode(t, emailSendJSON)
		input["recipientEmail"] = bad
		_, err := Validate(input)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, bad)
		assert.True(t, verr.HasField("recipientEmail"), bad)
	}
}

func TestValidate_NullOptionalIsRejected(t *testing.T) {
	input := decode(t, accountActivityJSON)
	input["failureReason"] = nil
	_, err := Validate(input)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.HasField("failureReason"))
}

func TestValidator_OutcomeFieldCorrelation(t *testing.T) {
	strict := NewValidator(ModeStrict)
	lenient := NewValidator(ModeLenient)

	tests := []struct {
		name   string
		raw    string
		mutate func(m map[string]any)
		field  string
	}{
		{
			name:   "account success with failure reason",
			raw:    accountActivityJSON,
			mutate: func(m map[string]any) { m["success"] = true },
			field:  "failureReason",
		},
		{
			name:   "account failure without reason",
			raw:    accountActivityJSON,
			mutate: func(m map[string]any) { delete(m, "failureReason") },
			field:  "failureReason",
		},
		{
			name:   "email success without message id",
			raw:    emailSendJSON,
			mutate: func(m map[string]any) { delete(m, "messageId") },
			field:  "messageId",
		},
		{
			name: "email failure with bounce none",
			raw:  emailSendJSON,
			mutate: func(m map[string]any) {
				m["success"] = false
				delete(m, "messageId")
			},
			field: "bounceType",
		},
		{
			name: "email failure with message id",
			raw:  emailSendJSON,
			mutate: func(m map[string]any) {
				m["success"] = false
				m["bounceType"] = "hard"
			},
			field: "messageId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := decode(t, tt.raw)
			tt.mutate(input)

			_, err := strict.Validate(input)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []string{tt.field}, verr.Fields())

			_, err = lenient.Validate(input)
			assert.NoError(t, err)
		})
	}
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("Lenient")
	require.NoError(t, err)
	assert.Equal(t, ModeLenient, mode)

	mode, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, mode)

	_, err = ParseMode("loose")
	assert.Error(t, err)
}

func TestMarshalJSON_TagComesFirst(t *testing.T) {
	event, err := ParseJSON([]byte(emailSendJSON))
	require.NoError(t, err)

	out, err := json.Marshal(event)
	require.NoError(t, err)
	assert.True(t, len(out) > 24 && string(out[:24]) == `{"type":"email_send","id`, string(out))
}
