package model

import (
	"encoding/json"
	"time"
)

// EventKind is the closed set of webhook event kinds the platform accepts.
type EventKind string

const (
	EventCallStarted       EventKind = "call.started"
	EventCallEnded         EventKind = "call.ended"
	EventCallAnalyzed      EventKind = "call.analyzed"
	EventTranscriptUpdated EventKind = "transcript.updated"
	EventFunctionCalled    EventKind = "function.called"
	EventStatusUpdated     EventKind = "status.updated"
	EventAssistantRequest  EventKind = "assistant.request"
	EventHang              EventKind = "hang"
	EventSpeechUpdated     EventKind = "speech.updated"
)

// AllEventKinds lists every known kind in declaration order.
var AllEventKinds = []EventKind{
	EventCallStarted,
	EventCallEnded,
	EventCallAnalyzed,
	EventTranscriptUpdated,
	EventFunctionCalled,
	EventStatusUpdated,
	EventAssistantRequest,
	EventHang,
	EventSpeechUpdated,
}

// ParseEventKind maps the wire value to a known kind.
func ParseEventKind(s string) (EventKind, bool) {
	for _, k := range AllEventKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// WebhookEvent is a validated inbound event handed to business handlers.
type WebhookEvent struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Kind       EventKind       `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}
