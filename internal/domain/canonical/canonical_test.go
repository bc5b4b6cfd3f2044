package canonical

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/evidence-vault/internal/domain/values"
)

func TestMarshal_SortsKeysAtEveryLevel(t *testing.T) {
	in := map[string]any{
		"zeta":  1,
		"alpha": map[string]any{"y": true, "b": nil, "a": []any{3, 1, 2}},
		"Beta":  "x",
	}

	out, err := Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"Beta":"x","alpha":{"a":[3,1,2],"b":null,"y":true},"zeta":1}`, string(out))
}

func TestMarshal_IndependentOfConstructionOrder(t *testing.T) {
	type structA struct {
		Name  string `json:"name"`
		Items []int  `json:"items"`
		ID    string `json:"id"`
	}
	type structB struct {
		ID    string `json:"id"`
		Items []int  `json:"items"`
		Name  string `json:"name"`
	}

	a, err := Marshal(structA{Name: "pack", Items: []int{1, 2}, ID: "p1"})
	require.NoError(t, err)
	b, err := Marshal(structB{ID: "p1", Items: []int{1, 2}, Name: "pack"})
	require.NoError(t, err)

	m1 := map[string]any{}
	m1["id"] = "p1"
	m1["name"] = "pack"
	m1["items"] = []int{1, 2}
	c, err := Marshal(m1)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)

	for i := 0; i < 50; i++ {
		again, err := Marshal(m1)
		require.NoError(t, err)
		assert.Equal(t, a, again)
	}
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	out, err := Marshal(map[string]string{"q": "a<b && c>d", "u": "é"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b && c>d","u":"é"}`, string(out))
}

func TestMarshal_RejectsFractionalNumbers(t *testing.T) {
	_, err := Marshal(map[string]any{"score": 87.5})
	assert.ErrorIs(t, err, ErrFractionalNumber)

	score, err := values.NewScoreFromFloat(87.5)
	require.NoError(t, err)
	out, err := Marshal(map[string]any{"score": score})
	require.NoError(t, err)
	assert.Equal(t, `{"score":"87.5000"}`, string(out))
}

func TestCanonicalize_Whitespace(t *testing.T) {
	out, err := Canonicalize([]byte("{ \"b\" : [ 1 , 2 ],\n \"a\":  {} }"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{},"b":[1,2]}`, string(out))

	_, err = Canonicalize([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestHash(t *testing.T) {
	h, b, err := Hash(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))
	assert.True(t, h.Equal(values.ComputeHashValue([]byte(`{"a":1}`))))
}

func TestFormatTime(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	ts := time.Date(2024, 3, 1, 12, 30, 0, 123456789, loc)

	s := FormatTime(ts)
	assert.Equal(t, "2024-03-01T09:30:00.123456Z", s)

	parsed, err := ParseTime(s)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts.Truncate(time.Microsecond)))

	assert.Equal(t, "", FormatTime(time.Time{}))
}

func TestMarshal_RoundTripsThroughJSON(t *testing.T) {
	out, err := Marshal(map[string]any{"n": int64(9007199254740993)})
	require.NoError(t, err)

	var decoded map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(out))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&decoded))
	assert.Equal(t, "9007199254740993", decoded["n"].String())
}
