package lz4

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, input []byte) {
	t.Helper()
	out := make([]byte, CompressBound(len(input)))
	n := Compress(input, out)
	require.GreaterOrEqual(t, n, 0)

	ok, decoded, written := DecompressToOwned(out[:n])
	require.True(t, ok)
	assert.Equal(t, len(input), written)
	assert.True(t, bytes.Equal(input, decoded))
}

func TestRoundTripEmpty(t *testing.T) {
	roundTrip(t, []byte{})
}

func TestRoundTripShortLiteral(t *testing.T) {
	roundTrip(t, []byte("hi"))
}

func TestRoundTripRepeatedRun(t *testing.T) {
	// Forces an overlapping self-reference match (offset < match length).
	roundTrip(t, bytes.Repeat([]byte{'A'}, 300))
}

func TestRoundTripMixedContent(t *testing.T) {
	input := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 50))
	roundTrip(t, input)
}

func TestRoundTripLongLiteralRun(t *testing.T) {
	// Forces the 0xF literal-length var-int extension path.
	input := make([]byte, 1000)
	for i := range input {
		input[i] = byte(i % 251) // first 251 bytes hold no 4-byte repeat, so the block opens with a literal run of at least 251 bytes
	}
	roundTrip(t, input)
}

func TestDecompressRejectsTruncatedHeader(t *testing.T) {
	n := Decompress([]byte{1, 2, 3}, make([]byte, 10))
	assert.Equal(t, -1, n)
}

func TestDecompressRejectsOverflow(t *testing.T) {
	input := []byte("compress this payload for an overflow test case")
	out := make([]byte, CompressBound(len(input)))
	n := Compress(input, out)
	require.GreaterOrEqual(t, n, 0)

	tooSmall := make([]byte, 1)
	assert.Equal(t, -1, Decompress(out[:n], tooSmall))
}

func TestCompressReturnsMinusOneOnSmallOutput(t *testing.T) {
	input := []byte("some data that needs a real buffer")
	assert.Equal(t, -1, Compress(input, make([]byte, 2)))
}
