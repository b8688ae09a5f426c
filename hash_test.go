package hoard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHash(t *testing.T) {
	t.Parallel()

	h, err := ParseHash("d41d8cd98f00b204e9800998ecf8427e")
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", h.String())

	upper, err := ParseHash("D41D8CD98F00B204E9800998ECF8427E")
	require.NoError(t, err)
	assert.Equal(t, h, upper, "parsing is case-insensitive")

	for _, bad := range []string{
		"",
		"d41d8cd98f00b204e9800998ecf8427",    // too short
		"d41d8cd98f00b204e9800998ecf8427e00", // too long
		"g41d8cd98f00b204e9800998ecf8427e",   // not hex
	} {
		_, err := ParseHash(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestHashOfContent(t *testing.T) {
	t.Parallel()

	hasher := newHasher()
	_, err := hasher.Write([]byte("hello world"))
	require.NoError(t, err)
	h := hashOf(hasher)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", h.String())
	assert.False(t, h.IsZero())

	var zero Hash
	assert.True(t, zero.IsZero())
}
