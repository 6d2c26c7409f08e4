package biz

// GateLayer names one layer of the security gate, in pipeline order.
type GateLayer string

const (
	LayerIP        GateLayer = "ip"
	LayerRateLimit GateLayer = "rate_limit"
	LayerTimestamp GateLayer = "timestamp"
	LayerSignature GateLayer = "signature"
	LayerContent   GateLayer = "content"
)

// GateLayers is the fixed evaluation order of the gate.
var GateLayers = []GateLayer{LayerIP, LayerRateLimit, LayerTimestamp, LayerSignature, LayerContent}

// Failure reasons. Each layer failure is independently distinguishable.
const (
	ReasonInvalidIP        = "invalid_ip"
	ReasonIPNotAllowed     = "ip_not_allowed"
	ReasonNoRangesAllowed  = "no_ranges_configured"
	ReasonRateLimited      = "rate_limited"
	ReasonTooManyKeys      = "too_many_tracked_keys"
	ReasonTimestampMissing = "timestamp_missing"
	ReasonTimestampInvalid = "timestamp_unparsable"
	ReasonTimestampExpired = "timestamp_expired"
	ReasonTimestampFuture  = "timestamp_in_future"
	ReasonSecretMissing    = "secret_not_configured"
	ReasonSignatureMissing = "signature_missing"
	ReasonSignatureNotHex  = "signature_not_hex"
	ReasonSignatureLength  = "signature_length_mismatch"
	ReasonSignatureInvalid = "signature_mismatch"
	ReasonBodyTooLarge     = "payload_too_large"
	ReasonContentType      = "content_type_mismatch"
	ReasonBodyEmpty        = "payload_empty"
	ReasonBodyMalformed    = "payload_malformed"
	ReasonEnvelope         = "event_kind_missing"
	ReasonEventKind        = "event_kind_not_allowed"
	ReasonSkipped          = "skipped"
)

// ValidationOutcome is the result of one gate layer. Metadata never carries secrets.
type ValidationOutcome struct {
	Passed   bool           `json:"passed"`
	Reason   string         `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func passed(metadata map[string]any) ValidationOutcome {
	return ValidationOutcome{Passed: true, Metadata: metadata}
}

func failed(reason string, metadata map[string]any) ValidationOutcome {
	return ValidationOutcome{Passed: false, Reason: reason, Metadata: metadata}
}

// SecurityVerdict aggregates the five layer outcomes of one request.
//
// Valid is true iff every layer passed. FailedAtLayer is the first failing layer in
// pipeline order and empty when Valid.
type SecurityVerdict struct {
	Valid            bool                            `json:"valid"`
	FailedAtLayer    GateLayer                       `json:"failed_at_layer,omitempty"`
	Layers           map[GateLayer]ValidationOutcome `json:"layers"`
	RequestID        string                          `json:"request_id"`
	ClientIP         string                          `json:"client_ip"`
	ProcessingTimeMs float64                         `json:"processing_time_ms"`
	// RetryAfterMs is set when the rate-limit layer failed.
	RetryAfterMs int64 `json:"retry_after_ms,omitempty"`
	// Event is the parsed envelope when the content layer passed.
	Event *ParsedEvent `json:"-"`
}

// Outcome returns the outcome of layer.
func (v *SecurityVerdict) Outcome(layer GateLayer) ValidationOutcome {
	return v.Layers[layer]
}

// FailedLayers lists every failing layer with its reason, in pipeline order.
// Skipped layers are not failures.
func (v *SecurityVerdict) FailedLayers() map[string]string {
	out := make(map[string]string)
	for _, l := range GateLayers {
		o, ok := v.Layers[l]
		if !ok || o.Passed || o.Reason == ReasonSkipped {
			continue
		}
		out[string(l)] = o.Reason
	}
	return out
}
