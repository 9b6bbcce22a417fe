package store

import "encoding/json"

// marshalJSON converts a value to JSON text for storage. Nil slices and
// pointers are stored as "null".
func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// unmarshalJSON decodes JSON text written by marshalJSON into v. Empty
// and "null" values leave v untouched.
func unmarshalJSON(s string, v any) {
	if s == "" || s == "null" {
		return
	}
	_ = json.Unmarshal([]byte(s), v)
}
