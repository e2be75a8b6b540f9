package domain

// RawExtraction is the structured output of the external report extractor.
// The core treats it as untrusted input and fully validates it during
// normalization.
type RawExtraction struct {
	// ClaimID is an optional upstream identifier. When empty, a deterministic
	// one is derived from the normalized field values.
	ClaimID string `json:"claimId,omitempty"`

	// Source identifies the extractor or oracle node that produced the record.
	Source string `json:"source,omitempty"`

	// Fields maps a claim field name (see ClaimFields) to its extracted value.
	Fields map[string]ExtractedField `json:"fields"`
}

// ExtractedField is a single extracted value with its confidence.
type ExtractedField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Present    bool    `json:"present"`
}

// Field returns the extracted field for name, if any.
func (r *RawExtraction) Field(name string) (ExtractedField, bool) {
	if r == nil || r.Fields == nil {
		return ExtractedField{}, false
	}
	f, ok := r.Fields[name]
	return f, ok
}

// ExtractionFromValues builds a RawExtraction where every value is present
// with full confidence. Used by transport adapters that receive flat maps.
func ExtractionFromValues(claimID string, values map[string]string) *RawExtraction {
	fields := make(map[string]ExtractedField, len(values))
	for k, v := range values {
		fields[k] = ExtractedField{Value: v, Confidence: 1.0, Present: true}
	}
	return &RawExtraction{ClaimID: claimID, Fields: fields}
}
