package biz

import (
	"strings"
	"testing"

	"HookGuard/internal/conf"
	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadValidator_Validate(t *testing.T) {
	v := NewPayloadValidator(&conf.Gate{Payload: &conf.Payload{MaxBytes: 128}}, log.DefaultLogger)

	tests := []struct {
		name        string
		contentType string
		body        string
		passed      bool
		reason      string
		kind        model.EventKind
	}{
		{name: "nested envelope", contentType: "application/json", body: `{"message":{"type":"call.ended","id":"m1"}}`, passed: true, kind: model.EventCallEnded},
		{name: "top-level type", contentType: "application/json; charset=utf-8", body: `{"type":"hang","id":"e1"}`, passed: true, kind: model.EventHang},
		{name: "content type case", contentType: "Application/JSON", body: `{"type":"hang"}`, passed: true, kind: model.EventHang},
		{name: "wrong content type", contentType: "text/plain", body: `{"type":"hang"}`, reason: ReasonContentType},
		{name: "missing content type", contentType: "", body: `{"type":"hang"}`, reason: ReasonContentType},
		{name: "too large", contentType: "application/json", body: `{"type":"hang","pad":"` + strings.Repeat("x", 200) + `"}`, reason: ReasonBodyTooLarge},
		{name: "empty", contentType: "application/json", body: "  \n", reason: ReasonBodyEmpty},
		{name: "malformed", contentType: "application/json", body: `{"type":`, reason: ReasonBodyMalformed},
		{name: "array", contentType: "application/json", body: `[1,2]`, reason: ReasonEnvelope},
		{name: "no kind", contentType: "application/json", body: `{"message":{}}`, reason: ReasonEnvelope},
		{name: "unknown kind", contentType: "application/json", body: `{"type":"call.exploded"}`, reason: ReasonEventKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, ev := v.Validate(tt.contentType, []byte(tt.body))
			assert.Equal(t, tt.passed, o.Passed)
			assert.Equal(t, tt.reason, o.Reason)
			if tt.passed {
				require.NotNil(t, ev)
				assert.Equal(t, tt.kind, ev.Kind)
				assert.JSONEq(t, tt.body, string(ev.Body))
			} else {
				assert.Nil(t, ev)
			}
		})
	}
}

func TestPayloadValidator_EnvelopeID(t *testing.T) {
	v := NewPayloadValidator(nil, log.DefaultLogger)

	_, ev := v.Validate("application/json", []byte(`{"id":"outer","message":{"type":"status.updated","id":"inner"}}`))
	require.NotNil(t, ev)
	assert.Equal(t, "inner", ev.ID)

	_, ev = v.Validate("application/json", []byte(`{"id":"outer","message":{"type":"status.updated"}}`))
	require.NotNil(t, ev)
	assert.Equal(t, "outer", ev.ID)
}

func TestPayloadValidator_AllowList(t *testing.T) {
	v := NewPayloadValidator(&conf.Gate{Payload: &conf.Payload{
		AllowedEventKinds: []string{"call.started", "call.ended", "no.such.kind"},
	}}, log.DefaultLogger)

	o, _ := v.Validate("application/json", []byte(`{"type":"call.started"}`))
	assert.True(t, o.Passed)

	o, _ = v.Validate("application/json", []byte(`{"type":"transcript.updated"}`))
	assert.Equal(t, ReasonEventKind, o.Reason)
	assert.Equal(t, "transcript.updated", o.Metadata["event_kind"])
}

func TestPayloadValidator_Defaults(t *testing.T) {
	v := NewPayloadValidator(nil, log.DefaultLogger)
	assert.Equal(t, int64(defaultMaxPayloadBytes), v.MaxBytes())

	for _, k := range model.AllEventKinds {
		o, _ := v.Validate("application/json", []byte(`{"type":"`+string(k)+`"}`))
		assert.True(t, o.Passed, k)
	}
}
