package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind discriminates the Value variants.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// Value is a tagged variant over the JSON scalar and container types. Goal
// documents are duck-typed at the edge; inside the guard every field is one
// of these. Unknown keys are preserved but ignored.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

func Null() Value                  { return Value{kind: KindNull} }
func String(s string) Value        { return Value{kind: KindString, str: s} }
func Number(f float64) Value       { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func List(vs ...Value) Value       { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Float returns the numeric payload. Numeric strings cast; other kinds do
// not.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(v.str, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Truthy returns the boolean payload, accepting the string forms "true" and
// "false".
func (v Value) Truthy() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindString:
		switch v.str {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// Items returns the list payload.
func (v Value) Items() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Fields returns the map payload.
func (v Value) Fields() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Strings flattens a list of string values, skipping non-strings.
func (v Value) Strings() []string {
	items, ok := v.Items()
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.Str(); ok {
			out = append(out, s)
		}
	}
	return out
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, err
		}
		return Number(f), nil
	case []any:
		list := make([]Value, 0, len(x))
		for _, item := range x {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			list = append(list, v)
		}
		return Value{kind: KindList, list: list}, nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Value{kind: KindMap, m: m}, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

// sortedKeys returns map keys in deterministic order for stable output.
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
