package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Raw is the untyped extraction payload returned by a vision model for a
// single invoice image. Any key may be absent.
type Raw map[string]any

// ParseRaw decodes a JSON object into a Raw payload.
//
// Numbers are kept as their literal text so "12.50" and 12.50 end up in the
// same text column with the same spelling. Mappings and sequences are kept
// as-is at the top level and one level below it (sub-mappings such as
// "summary" and the "items" list); anything nested deeper than a scalar
// position is re-encoded as compact JSON text.
func ParseRaw(data []byte) (Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding extraction: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decoding extraction: payload is not an object")
	}

	out := make(Raw, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case map[string]any:
			out[k] = coerceMap(val)
		case []any:
			list := make([]any, len(val))
			for i, entry := range val {
				if m, ok := entry.(map[string]any); ok {
					list[i] = coerceMap(m)
				} else {
					list[i] = coerceScalar(entry)
				}
			}
			out[k] = list
		default:
			out[k] = coerceScalar(val)
		}
	}
	return out, nil
}

func coerceMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = coerceScalar(v)
	}
	return out
}

// coerceScalar turns a decoded JSON value into something a text column can
// bind: numbers become their literal text, composite values become compact
// JSON and everything else is returned unchanged.
func coerceScalar(v any) any {
	switch val := v.(type) {
	case json.Number:
		return val.String()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return val
	}
}
