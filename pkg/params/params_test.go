package params

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBagAccessorsWithDefaults(t *testing.T) {
	b := Bag{}.
		Set("name", "alpha").
		Set("count", 42).
		Set("numeric", "17").
		Set("garbage", "17x").
		Set("flag", true).
		Set("nested", map[string]any{"k": "v"})

	assert.Equal(t, "alpha", b.String("name", "def"))
	assert.Equal(t, "def", b.String("missing", "def"))
	assert.Equal(t, "42", b.String("count", ""))

	assert.Equal(t, int64(42), b.Long("count", -1))
	assert.Equal(t, int64(17), b.Long("numeric", -1))
	assert.Equal(t, int64(-1), b.Long("garbage", -1))
	assert.Equal(t, int64(-1), b.Long("missing", -1))
	assert.Equal(t, 17, b.Int("numeric", 0))

	assert.True(t, b.Bool("flag", false))
	assert.True(t, b.Bool("missing", true))

	nested := b.Map("nested")
	require.NotNil(t, nested)
	assert.Equal(t, "v", nested.String("k", ""))
	assert.Nil(t, b.Map("name"))
}

func TestNilBagReadsAsEmpty(t *testing.T) {
	var b Bag
	assert.Equal(t, "x", b.String("a", "x"))
	assert.Equal(t, int64(1), b.Long("a", 1))
	assert.False(t, b.Has("a"))
	assert.Nil(t, b.Map("a"))
}

func TestParseJSONKeepsIntegersLong(t *testing.T) {
	b, err := ParseJSON([]byte(`{"tenantId": 7, "ratio": 0.5, "items": [1, "two"], "obj": {"x": null}}`))
	require.NoError(t, err)

	assert.Equal(t, KindLong, b.Value("tenantId").Kind())
	assert.Equal(t, KindFloat, b.Value("ratio").Kind())

	items, ok := b.Value("items").AsList()
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, KindLong, items[0].Kind())
	assert.Equal(t, KindString, items[1].Kind())

	assert.True(t, b.Map("obj").Value("x").IsNull())
}

func TestValueJSONShape(t *testing.T) {
	b := Bag{}.Set("a", int64(1)).Set("b", []any{"x", 2.5}).Set("c", nil)

	data, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":["x",2.5],"c":null}`, string(data))

	var back Bag
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, b.Equal(back))
}

func TestCanonicalIsOrderIndependent(t *testing.T) {
	one := Bag{}.Set("z", 1).Set("a", "x")
	two := Bag{}.Set("a", "x").Set("z", 1)

	c1, err := one.Canonical()
	require.NoError(t, err)
	c2, err := two.Canonical()
	require.NoError(t, err)

	assert.Equal(t, string(c1), string(c2))
	assert.Equal(t, `{"a":"x","z":1}`, string(c1))
}

func TestRawRoundTrip(t *testing.T) {
	b := Bag{}.Set("n", 3).Set("m", Bag{}.Set("k", false))
	raw := b.Raw()

	assert.Equal(t, int64(3), raw["n"])
	assert.Equal(t, map[string]any{"k": false}, raw["m"])
	assert.True(t, FromMap(raw).Equal(b))
}
