package cbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	B string
	A uint64
}

func TestMarshalIsDeterministic(t *testing.T) {
	first := Marshal(map[string]uint64{"b": 2, "a": 1, "c": 3})
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Marshal(map[string]uint64{"c": 3, "a": 1, "b": 2}))
	}
}

func TestRoundTrip(t *testing.T) {
	in := sample{B: "feed", A: 42}
	var out sample
	require.NoError(t, Unmarshal(Marshal(in), &out))
	assert.Equal(t, in, out)
}

func TestUnmarshalNil(t *testing.T) {
	out := sample{A: 7}
	require.NoError(t, Unmarshal(nil, &out))
	assert.Equal(t, uint64(7), out.A)
}

func TestUnmarshalGarbage(t *testing.T) {
	var out sample
	require.Error(t, Unmarshal([]byte{0xff, 0x00}, &out))
}
