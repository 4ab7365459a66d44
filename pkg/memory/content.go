package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// CanonicalContent returns content in the shape it has after being written
// to and read back from a snapshot: objects become map[string]any, arrays
// []any, integral numbers int64 (uint64 beyond that range) and other numbers
// float64. Stores hold episode content in this form, so a save and load
// returns identical values.
func CanonicalContent(content map[string]any) (map[string]any, error) {
	if len(content) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return DecodeContent(data)
}

// DecodeContent decodes a JSON object into canonical content.
func DecodeContent(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	for key, value := range out {
		v, err := canonicalValue(value)
		if err != nil {
			return nil, fmt.Errorf("content %q: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

// UnmarshalJSON decodes an episode keeping content numbers exact.
func (e *Episode) UnmarshalJSON(data []byte) error {
	type plain Episode
	aux := struct {
		*plain
		Content json.RawMessage `json:"content,omitempty"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Content = nil
	if len(aux.Content) == 0 || string(aux.Content) == "null" {
		return nil
	}
	content, err := DecodeContent(aux.Content)
	if err != nil {
		return err
	}
	e.Content = content
	return nil
}

func canonicalValue(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return canonicalNumber(t)
	case map[string]any:
		for key, value := range t {
			c, err := canonicalValue(value)
			if err != nil {
				return nil, err
			}
			t[key] = c
		}
		return t, nil
	case []any:
		for i, value := range t {
			c, err := canonicalValue(value)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
		return t, nil
	default:
		return v, nil
	}
}

func canonicalNumber(n json.Number) (any, error) {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return i, nil
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return u, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return nil, err
	}
	return f, nil
}
