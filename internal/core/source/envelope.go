package source

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NormalizeRecords turns an upstream payload into a list of records.
//
// A top-level array is returned as is. An object carrying an "items" or
// "results" array is unwrapped, "items" first. Any other value becomes a
// single-element list.
func NormalizeRecords(payload []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}

	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		if records == nil {
			records = []json.RawMessage{}
		}
		return records, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		for _, key := range []string{"items", "results"} {
			if records, ok := arrayField(obj, key); ok {
				return records, nil
			}
		}
	}

	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}

func arrayField(obj map[string]json.RawMessage, key string) ([]json.RawMessage, bool) {
	raw, ok := obj[key]
	if !ok {
		return nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return records, true
}
