package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ValueKind tells whether a criteria value is a numeric bound or a raw token.
type ValueKind string

const (
	ValueInt    ValueKind = "int"
	ValueString ValueKind = "string"
)

// Value is a single criteria field value.
type Value struct {
	Kind ValueKind
	Int  int64
	Str  string
}

// IntValue wraps a numeric bound.
func IntValue(n int64) Value {
	return Value{Kind: ValueInt, Int: n}
}

// StringValue wraps a raw token.
func StringValue(s string) Value {
	return Value{Kind: ValueString, Str: s}
}

// String renders the value for display.
func (v Value) String() string {
	if v.Kind == ValueInt {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Str
}

// MarshalJSON encodes integers as JSON numbers and tokens as JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == ValueInt {
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	}
	return json.Marshal(v.Str)
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("criteria value %s: %w", data, err)
	}
	*v = IntValue(n)
	return nil
}

// Criteria maps criteria field names to their values.
type Criteria map[string]Value

// Clone returns an independent copy.
func (c Criteria) Clone() Criteria {
	out := make(Criteria, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Has reports whether field is set.
func (c Criteria) Has(field string) bool {
	_, ok := c[field]
	return ok
}

// Int returns the numeric value of field, if it is set and numeric.
func (c Criteria) Int(field string) (int64, bool) {
	v, ok := c[field]
	if !ok || v.Kind != ValueInt {
		return 0, false
	}
	return v.Int, true
}

// Fields returns the set field names in lexical order.
func (c Criteria) Fields() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
