package gatewayerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	wrapped := errors.New("boom")
	e := New(KindTruncated, "codec.Decode", wrapped)

	assert.True(t, errors.Is(e, Truncated))
	assert.False(t, errors.Is(e, Malformed))
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	wrapped := errors.New("underlying")
	e := New(KindWriteError, "stream.send", wrapped)

	assert.Equal(t, wrapped, errors.Unwrap(e))
}

func TestOfExtractsKind(t *testing.T) {
	e := New(KindRateLimited, "firewall.try", nil)
	assert.Equal(t, KindRateLimited, Of(e))
	assert.Equal(t, KindUnknown, Of(errors.New("plain error")))
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	e := New(KindPayloadTooLarge, "codec.Encode", nil)
	assert.Contains(t, e.Error(), "codec.Encode")
	assert.Contains(t, e.Error(), "PayloadTooLarge")
}
