package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/gowebpki/jcs"
)

// Bag is a string-keyed parameter map. A nil Bag reads as empty.
type Bag map[string]Value

// FromMap converts a plain map, typically decoded JSON, into a Bag.
func FromMap(m map[string]any) Bag {
	if m == nil {
		return nil
	}
	b := make(Bag, len(m))
	for k, v := range m {
		b[k] = Of(v)
	}
	return b
}

// ParseJSON decodes a JSON object into a Bag.
func ParseJSON(data []byte) (Bag, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("params: decode bag: %w", err)
	}
	if raw == nil {
		return Bag{}, nil
	}
	return FromMap(raw), nil
}

// Set stores v under key, converting it with Of.
func (b Bag) Set(key string, v any) Bag {
	b[key] = Of(v)
	return b
}

func (b Bag) Has(key string) bool {
	_, ok := b[key]
	return ok
}

// Value returns the raw entry for key; missing keys read as Null.
func (b Bag) Value(key string) Value {
	return b[key]
}

// String returns the text form of key, or def when the key is absent or null.
func (b Bag) String(key, def string) string {
	v, ok := b[key]
	if !ok || v.IsNull() {
		return def
	}
	return v.Text()
}

// Long returns key as an integer. Numeric strings are parsed; absent or
// non-numeric entries yield def.
func (b Bag) Long(key string, def int64) int64 {
	v, ok := b[key]
	if !ok {
		return def
	}
	i, ok := v.AsLong()
	if !ok {
		return def
	}
	return i
}

// Int is Long narrowed to int; out-of-range values yield def.
func (b Bag) Int(key string, def int) int {
	i := b.Long(key, int64(def))
	if i > math.MaxInt || i < math.MinInt {
		return def
	}
	return int(i)
}

func (b Bag) Bool(key string, def bool) bool {
	v, ok := b[key]
	if !ok {
		return def
	}
	x, ok := v.AsBool()
	if !ok {
		return def
	}
	return x
}

// Map returns the nested bag stored under key, or nil.
func (b Bag) Map(key string) Bag {
	m, _ := b[key].AsMap()
	return m
}

// Keys returns the keys in sorted order.
func (b Bag) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (b Bag) Clone() Bag {
	if b == nil {
		return nil
	}
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Raw converts the bag back to plain Go values.
func (b Bag) Raw() map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		out[k] = v.Interface()
	}
	return out
}

func (b Bag) Equal(other Bag) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		o, ok := other[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

// Canonical returns the RFC 8785 canonical JSON encoding of the bag, stable
// across key order, for logging and hashing.
func (b Bag) Canonical() ([]byte, error) {
	if b == nil {
		b = Bag{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("params: marshal bag: %w", err)
	}
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("params: canonicalize bag: %w", err)
	}
	return out, nil
}
