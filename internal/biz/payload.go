package biz

import (
	"bytes"
	"encoding/json"
	"mime"
	"strings"

	"HookGuard/internal/conf"
	"HookGuard/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	defaultMaxPayloadBytes = 1 << 20
	defaultContentType     = "application/json"
)

// ParsedEvent is the envelope extracted from a body that passed content validation.
type ParsedEvent struct {
	ID   string
	Kind model.EventKind
	Body json.RawMessage
}

// envelope is the minimal shape of an inbound event. The kind lives in message.type;
// a top-level type is accepted too.
type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Message *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"message"`
}

// PayloadValidator checks content type, size and event envelope of a request body.
type PayloadValidator struct {
	contentType string
	maxBytes    int64
	allowed     map[model.EventKind]bool
}

// NewPayloadValidator creates a validator from the payload settings of c. Unknown
// event kinds in the configured allow-list are logged and ignored.
func NewPayloadValidator(c *conf.Gate, logger log.Logger) *PayloadValidator {
	helper := log.NewHelper(log.With(logger, "module", "biz/payload"))
	v := &PayloadValidator{
		contentType: defaultContentType,
		maxBytes:    defaultMaxPayloadBytes,
		allowed:     make(map[model.EventKind]bool),
	}

	var kinds []string
	if c != nil && c.Payload != nil {
		if c.Payload.ContentType != "" {
			v.contentType = strings.ToLower(c.Payload.ContentType)
		}
		if c.Payload.MaxBytes > 0 {
			v.maxBytes = c.Payload.MaxBytes
		}
		kinds = c.Payload.AllowedEventKinds
	}

	if len(kinds) == 0 {
		for _, k := range model.AllEventKinds {
			v.allowed[k] = true
		}
		return v
	}
	for _, s := range kinds {
		k, ok := model.ParseEventKind(s)
		if !ok {
			helper.Errorw("msg", "unknown event kind in allow-list ignored", "kind", s)
			continue
		}
		v.allowed[k] = true
	}
	return v
}

// MaxBytes returns the body size cap.
func (v *PayloadValidator) MaxBytes() int64 {
	return v.maxBytes
}

// Validate runs, in order: content type, size cap, non-empty, well-formed JSON,
// envelope shape, event kind allow-list. The parsed event is returned on success.
func (v *PayloadValidator) Validate(contentType string, rawBody []byte) (ValidationOutcome, *ParsedEvent) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != v.contentType {
		return failed(ReasonContentType, map[string]any{
			"expected": v.contentType,
			"actual":   contentType,
		}), nil
	}

	size := int64(len(rawBody))
	meta := map[string]any{"size": size}
	if size > v.maxBytes {
		meta["max_bytes"] = v.maxBytes
		return failed(ReasonBodyTooLarge, meta), nil
	}
	if len(bytes.TrimSpace(rawBody)) == 0 {
		return failed(ReasonBodyEmpty, meta), nil
	}
	if !json.Valid(rawBody) {
		return failed(ReasonBodyMalformed, meta), nil
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		// valid JSON that is not an object
		return failed(ReasonEnvelope, meta), nil
	}
	kindText, id := env.Type, env.ID
	if env.Message != nil && env.Message.Type != "" {
		kindText = env.Message.Type
		if env.Message.ID != "" {
			id = env.Message.ID
		}
	}
	if kindText == "" {
		return failed(ReasonEnvelope, meta), nil
	}
	meta["event_kind"] = kindText

	kind, ok := model.ParseEventKind(kindText)
	if !ok || !v.allowed[kind] {
		return failed(ReasonEventKind, meta), nil
	}
	return passed(meta), &ParsedEvent{ID: id, Kind: kind, Body: json.RawMessage(rawBody)}
}
