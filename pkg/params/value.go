// Package params models the parameter bags exchanged between a caller, the
// deployment orchestrator and a deployed command. A bag maps string keys to a
// closed set of serialisable values.
package params

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind enumerates the value variants a bag can carry.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindLong
	KindFloat
	KindBool
	KindMap
	KindList
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindLong:
		return "long"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	case KindBytes:
		return "bytes"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one bag entry. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	m    Bag
	l    []Value
	raw  []byte
}

func Null() Value { return Value{} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Long(i int64) Value { return Value{kind: KindLong, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func MapOf(m Bag) Value { return Value{kind: KindMap, m: m} }
func List(items ...Value) Value { return Value{kind: KindList, l: items} }
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: b} }

// Of converts a plain Go value into a Value. Unknown types are stored as
// their fmt representation.
func Of(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case int:
		return Long(int64(x))
	case int8:
		return Long(int64(x))
	case int16:
		return Long(int64(x))
	case int32:
		return Long(int64(x))
	case int64:
		return Long(x)
	case uint8:
		return Long(int64(x))
	case uint16:
		return Long(int64(x))
	case uint32:
		return Long(int64(x))
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return Long(int64(x))
		}
		return Float(float64(x))
	case uint64:
		if x <= math.MaxInt64 {
			return Long(int64(x))
		}
		return Float(float64(x))
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Long(i)
		}
		if f, err := x.Float64(); err == nil {
			return Float(f)
		}
		return String(x.String())
	case []byte:
		return Bytes(x)
	case Bag:
		return MapOf(x)
	case map[string]any:
		return MapOf(FromMap(x))
	case []Value:
		return List(x...)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = Of(item)
		}
		return List(items...)
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return List(items...)
	case fmt.Stringer:
		return String(x.String())
	default:
		return String(fmt.Sprint(x))
	}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the string form of scalar values.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindLong:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindBytes:
		return base64.StdEncoding.EncodeToString(v.raw)
	case KindNull:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// AsLong returns the integer held by v. Strings holding a decimal integer
// are parsed; anything else yields ok=false.
func (v Value) AsLong() (int64, bool) {
	switch v.kind {
	case KindLong:
		return v.i, true
	case KindFloat:
		if v.f == math.Trunc(v.f) && v.f >= math.MinInt64 && v.f <= math.MaxInt64 {
			return int64(v.f), true
		}
		return 0, false
	case KindString:
		i, err := strconv.ParseInt(v.s, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// AsBool returns the boolean held by v. The strings "true" and "false" are
// accepted.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindString:
		b, err := strconv.ParseBool(v.s)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

func (v Value) AsMap() (Bag, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.l, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.raw, true
}

// Interface returns the plain Go representation of v.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindLong:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindMap:
		return v.m.Raw()
	case KindList:
		out := make([]any, len(v.l))
		for i, item := range v.l {
			out[i] = item.Interface()
		}
		return out
	case KindBytes:
		return v.raw
	default:
		return nil
	}
}

// Equal reports deep equality of kind and content.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == other.s
	case KindLong:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	case KindBytes:
		return bytes.Equal(v.raw, other.raw)
	case KindMap:
		return v.m.Equal(other.m)
	case KindList:
		if len(v.l) != len(other.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(other.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.s)
	case KindLong:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindBytes:
		return json.Marshal(v.raw)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	case KindList:
		if v.l == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.l)
	default:
		return nil, fmt.Errorf("params: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON decodes integral numbers as Long and other numbers as Float.
// Byte slices are indistinguishable from strings in JSON and decode as strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("params: decode value: %w", err)
	}
	*v = Of(raw)
	return nil
}
