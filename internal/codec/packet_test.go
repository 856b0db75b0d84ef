package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/gateway/internal/bufpool"
	"github.com/ocx/gateway/internal/gatewayerr"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pool := bufpool.New(65536)
	payload := []byte("hello gateway")
	pkt := &Packet{
		Header: Header{
			ID:        7,
			Timestamp: 1000,
			Checksum:  CRC32(payload),
			Type:      TypeString,
			Priority:  3,
		},
		Payload: payload,
	}

	frame, err := Encode(pkt, pool)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize+len(payload), len(frame))

	decoded, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, pkt.Header.ID, decoded.Header.ID)
	assert.Equal(t, pkt.Header.Timestamp, decoded.Header.Timestamp)
	assert.Equal(t, payload, decoded.Payload)
	assert.True(t, IsValid(decoded))
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	pool := bufpool.New(65536)
	pkt := &Packet{Payload: make([]byte, 0x10000)}

	_, err := Encode(pkt, pool)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatewayerr.PayloadTooLarge))
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatewayerr.Truncated))
}

func TestDecodeRejectsLengthBeyondBuffer(t *testing.T) {
	b := make([]byte, HeaderSize)
	b[0] = 0xFF
	b[1] = 0xFF // claims a 65535-byte frame in a 22-byte buffer

	_, err := Decode(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gatewayerr.Truncated))
}

func TestIsValidDetectsCorruption(t *testing.T) {
	payload := []byte("payload")
	pkt := &Packet{Header: Header{Checksum: CRC32(payload)}, Payload: payload}
	assert.True(t, IsValid(pkt))

	pkt.Payload[0] ^= 0xFF
	assert.False(t, IsValid(pkt))
}

func TestIsExpired(t *testing.T) {
	pkt := &Packet{Header: Header{Timestamp: 1000}}

	assert.False(t, IsExpired(pkt, 1500, 1000))
	assert.True(t, IsExpired(pkt, 2500, 1000))
	// clock skew: now before timestamp never expires
	assert.False(t, IsExpired(pkt, 500, 1000))
}
