package toolsurface

import (
	"encoding/json"
)

// JSONValue decodes a tool parameter that spec §4.8 says may "arrive
// either as strings to be parsed as JSON or as already-decoded
// structures": a caller may send `"payload": "{\"a\":1}"` (a JSON string
// holding JSON) or `"payload": {"a":1}` (already a JSON object/array/
// scalar) and both resolve to the same Go value. Used for the free-form
// fields — updateState output, notifyIfReady/notifyNextWorkers payloads,
// the validateWorkflow workflow document — that are treated as opaque JSON.
type JSONValue struct {
	Value any
}

// UnmarshalJSON implements the dual-mode decode: a JSON string is
// re-parsed as JSON if it looks like a JSON document, otherwise kept as a
// plain string; anything else decodes directly.
func (v *JSONValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		var nested any
		if err := json.Unmarshal([]byte(s), &nested); err == nil {
			v.Value = nested
			return nil
		}
		v.Value = s
		return nil
	}
	var direct any
	if err := json.Unmarshal(data, &direct); err != nil {
		return err
	}
	v.Value = direct
	return nil
}

// MarshalJSON re-encodes the resolved value directly (never re-wrapped as
// a string), so a JSONValue round-trips as whatever structure it resolved
// to.
func (v JSONValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Value)
}
