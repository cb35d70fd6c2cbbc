// Package sensation defines the atomic perceptual record that flows through
// the cognitive pipeline, and the distilled impression a wit produces from
// one or more sensations.
package sensation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Payload is a tagged variant holding either a plain string or a structured
// JSON value — never both. Producers pick one shape per kind and keep it
// stable; consumers switch on which accessor is populated rather than
// treating the payload as an untyped blob.
type Payload struct {
	str  *string
	json json.RawMessage
}

// StringPayload builds a Payload carrying a plain string.
func StringPayload(s string) Payload {
	return Payload{str: &s}
}

// JSONPayload builds a Payload carrying a structured JSON value. v is
// marshaled immediately so later mutation of the caller's value has no
// effect on the stored payload.
func JSONPayload(v any) (Payload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("marshal json payload: %w", err)
	}
	return Payload{json: raw}, nil
}

// IsString reports whether the payload holds a string.
func (p Payload) IsString() bool { return p.str != nil }

// IsJSON reports whether the payload holds a structured JSON value.
func (p Payload) IsJSON() bool { return p.json != nil }

// String returns the string value and true if the payload is a string.
func (p Payload) String() (string, bool) {
	if p.str == nil {
		return "", false
	}
	return *p.str, true
}

// JSON returns the raw JSON value and true if the payload is structured.
func (p Payload) JSON() (json.RawMessage, bool) {
	if p.json == nil {
		return nil, false
	}
	return p.json, true
}

// PlainText renders the payload as human-readable text for timelines and
// prompt substitution: the string as-is, or the JSON value compacted to a
// single line.
func (p Payload) PlainText() string {
	if s, ok := p.String(); ok {
		return s
	}
	if raw, ok := p.JSON(); ok {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return string(raw)
		}
		return buf.String()
	}
	return ""
}

// MarshalJSON encodes the payload as its bare value (a JSON string or a JSON
// value), matching how producers and the memory journal expect a sensation's
// "what" field to look on the wire.
func (p Payload) MarshalJSON() ([]byte, error) {
	if s, ok := p.String(); ok {
		return json.Marshal(s)
	}
	if raw, ok := p.JSON(); ok {
		return raw, nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes a bare JSON string into a string payload, and any
// other JSON value into a structured payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.str = &s
		p.json = nil
		return nil
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	p.json = raw
	p.str = nil
	return nil
}

// Sensation is the atomic perceptual record. Kind, When, and What are never
// mutated after creation.
type Sensation struct {
	Kind   string    `json:"kind"`
	When   time.Time `json:"when"`
	What   Payload   `json:"what"`
	Source string    `json:"source,omitempty"`
}

// Impression is the distilled output of a wit: a one-sentence summary plus
// the ordered identifiers of the sensations (or prior impressions) that
// contributed to it. An impression is itself a sensation of the wit's
// declared output kind, so it feeds the same bus and the same journal.
type Impression struct {
	How  string   `json:"how"`
	What []string `json:"what"`
}

// AsSensation turns an impression into a sensation of the given output kind,
// timestamped now, so it can be published to the bus alongside raw input.
func (i Impression) AsSensation(kind string, when time.Time, source string) Sensation {
	return Sensation{
		Kind:   kind,
		When:   when,
		What:   StringPayload(i.How),
		Source: source,
	}
}
