package plan

import (
	"encoding/json"

	"planwise/internal/apperr"
	"planwise/internal/llm"
)

// Payload is the sum type for a stored plan column. LLM persistence sometimes
// leaves the plan as a stringified JSON blob; normalization happens at the
// boundary, so everything past the store sees a parsed Plan or knows it has
// raw text it could not recover.
type Payload struct {
	Parsed *Plan
	Raw    string
}

// IsParsed reports whether normalization produced a typed plan.
func (p Payload) IsParsed() bool {
	return p.Parsed != nil
}

// NormalizePayload turns whatever the store handed back into a Payload.
// It tries, in order: direct unmarshal, unquoting a JSON-string wrapper,
// and extracting the first balanced {...} substring.
func NormalizePayload(raw []byte) Payload {
	if len(raw) == 0 {
		return Payload{}
	}

	var p Plan
	if err := json.Unmarshal(raw, &p); err == nil && len(p.OrderedTaskIDs) > 0 {
		return Payload{Parsed: &p}
	}

	// Double-encoded: the column holds a JSON string containing the plan.
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &p); err == nil && len(p.OrderedTaskIDs) > 0 {
			return Payload{Parsed: &p}
		}
		raw = []byte(inner)
	}

	if extracted := llm.ExtractJSONObject(string(raw)); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), &p); err == nil && len(p.OrderedTaskIDs) > 0 {
			return Payload{Parsed: &p}
		}
	}
	return Payload{Raw: string(raw)}
}

// MustPlan returns the parsed plan or a typed error for callers that cannot
// proceed on raw text.
func (p Payload) MustPlan() (*Plan, error) {
	if p.Parsed == nil {
		return nil, apperr.New(apperr.KindInternal, "stored plan could not be parsed")
	}
	return p.Parsed, nil
}

// Marshal encodes the payload back to its column representation.
func (p Payload) Marshal() ([]byte, error) {
	if p.Parsed != nil {
		return json.Marshal(p.Parsed)
	}
	return json.Marshal(p.Raw)
}
