package json

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID     string            `json:"id"`
	Vector []float32         `json:"vector"`
	Meta   map[string]string `json:"meta,omitempty"`
}

func TestMarshalRoundTrip(t *testing.T) {
	in := record{ID: "c-1", Vector: []float32{0.5, -1}, Meta: map[string]string{"lang": "en"}}

	b, err := Marshal(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, Unmarshal(b, &out))
	assert.Equal(t, in, out)
}

func TestMarshalStringSortsKeys(t *testing.T) {
	s, err := MarshalString(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, s)
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(record{ID: "x"}))

	var out record
	require.NoError(t, NewDecoder(&buf).Decode(&out))
	assert.Equal(t, "x", out.ID)
}

func TestIsUsingSonic(t *testing.T) {
	want := runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
	assert.Equal(t, want, IsUsingSonic())
}
