package osrfmsg

import (
	json "github.com/goccy/go-json"
)

// Value is the dynamically-typed wire value the fabric round-trips without
// interpreting. The core only ever needs to move these around, never
// inspect their domain meaning — the IDL-encoded payload underneath is
// opaque to it.
//
// Value wraps a goccy/go-json RawMessage so Marshal/Unmarshal round-trip
// arbitrary JSON (null, bool, number, string, array, object, or a "classed"
// object such as IDL fieldmapper output) without a lossy intermediate
// representation.
type Value struct {
	raw json.RawMessage
}

// NewValue wraps any JSON-marshalable Go value as a Value.
func NewValue(v any) (Value, error) {
	if rv, ok := v.(Value); ok {
		return rv, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	return Value{raw: b}, nil
}

// RawValue wraps an already-encoded JSON document as a Value.
func RawValue(raw []byte) Value {
	return Value{raw: append(json.RawMessage(nil), raw...)}
}

// Null is the JSON null value.
var Null = Value{raw: json.RawMessage("null")}

// IsZero reports whether the value was never set (as opposed to holding an
// explicit null).
func (v Value) IsZero() bool { return v.raw == nil }

// Decode unmarshals the value into dst, the same way json.Unmarshal would.
func (v Value) Decode(dst any) error {
	if v.raw == nil {
		return nil
	}
	return json.Unmarshal(v.raw, dst)
}

// Bytes returns the raw JSON bytes backing the value.
func (v Value) Bytes() []byte { return []byte(v.raw) }

func (v Value) MarshalJSON() ([]byte, error) {
	if v.raw == nil {
		return []byte("null"), nil
	}
	return v.raw, nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	v.raw = append(json.RawMessage(nil), b...)
	return nil
}

// String renders the value's raw JSON text, mostly for logging.
func (v Value) String() string {
	if v.raw == nil {
		return "null"
	}
	return string(v.raw)
}
