// Package codec implements the fixed-header, variable-payload binary wire
// format described in spec.md §4.1 and §6. Encoding and decoding are
// allocation-light, checksum-validated, and never panic on malformed input:
// parse failures surface as gatewayerr values on the hot path.
package codec

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ocx/gateway/internal/bufpool"
	"github.com/ocx/gateway/internal/gatewayerr"
)

// HeaderSize is the fixed header width in bytes, normative per spec.md §6.
const HeaderSize = 22

// stackThreshold is the frame size (header + payload) up to which Encode
// allocates a fresh slice instead of renting from the buffer pool.
const stackThreshold = 512

// PayloadType discriminates how the payload bytes should be interpreted by
// the handler layer.
type PayloadType uint8

const (
	TypeBinary PayloadType = iota
	TypeString
	TypeJSON
)

// Flags is a bitfield carried in the header.
type Flags uint8

const (
	FlagCompressed Flags = 1 << iota
	FlagEncrypted
)

// Has reports whether f has all the bits of other set.
func (f Flags) Has(other Flags) bool { return f&other == other }

// Header is the 22-byte fixed frame header, field order and widths per
// spec.md §6. All integer fields are little-endian on the wire.
type Header struct {
	Length    uint16 // total bytes, header + payload
	ID        uint16 // opcode
	Timestamp uint64 // ms since epoch at send time
	Checksum  uint32 // CRC-32 of payload bytes
	Code      uint16 // application-level status
	Number    uint8  // sequence/counter within a stream
	Type      PayloadType
	Flags     Flags
	Priority  uint8
}

// Packet is a decoded frame: header plus owned payload bytes.
type Packet struct {
	Header  Header
	Payload []byte
}

// CRC32 computes the checksum used for payload validation. The polynomial is
// the IEEE 802.3 variant (the one hash/crc32.ChecksumIEEE implements):
// poly 0xEDB88320, init 0xFFFFFFFF, reflected in and out, xorout 0xFFFFFFFF.
// This is the single most widely interoperable CRC-32 variant and is the
// documented choice for the "widely compatible variant" spec.md §9 leaves
// open.
func CRC32(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// Encode serializes p into a buffer sized HeaderSize+len(p.Payload) and
// returns the written slice. Frames of at most stackThreshold bytes get a
// freshly allocated slice with no pool interaction; larger frames rent
// from pool and the caller must pool.Return the result when
// done with it (ownership transfers to the caller either way since both
// paths return a slice ready to write to the wire).
func Encode(p *Packet, pool *bufpool.Pool) ([]byte, error) {
	if len(p.Payload) > 0xFFFF-HeaderSize {
		return nil, gatewayerr.New(gatewayerr.KindPayloadTooLarge, "codec.Encode", nil)
	}
	total := HeaderSize + len(p.Payload)

	var out []byte
	if total <= stackThreshold {
		out = make([]byte, total)
	} else {
		out = pool.Rent(total)
	}

	p.Header.Length = uint16(total)
	putHeader(out, p.Header)
	copy(out[HeaderSize:], p.Payload)
	return out, nil
}

// Decode parses a complete frame (header + payload) from the start of b.
// Length must lie between HeaderSize and len(b); bytes past Length are
// ignored.
func Decode(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, gatewayerr.New(gatewayerr.KindTruncated, "codec.Decode", nil)
	}
	length := binary.LittleEndian.Uint16(b[0:2])
	if int(length) < HeaderSize || int(length) > len(b) {
		return nil, gatewayerr.New(gatewayerr.KindTruncated, "codec.Decode", nil)
	}

	h, err := parseHeader(b[:HeaderSize])
	if err != nil {
		return nil, err
	}
	h.Length = length

	payloadLen := int(length) - HeaderSize
	payload := make([]byte, payloadLen)
	copy(payload, b[HeaderSize:int(length)])

	return &Packet{Header: h, Payload: payload}, nil
}

// TryDecode is Decode without the error return, for call sites that only
// need a success flag (mirrors spec.md's try_decode).
func TryDecode(b []byte) (*Packet, bool) {
	p, err := Decode(b)
	if err != nil {
		return nil, false
	}
	return p, true
}

// IsValid reports whether p's checksum matches CRC32(p.Payload).
func IsValid(p *Packet) bool {
	return p.Header.Checksum == CRC32(p.Payload)
}

// IsExpired reports whether p is older than timeoutMs, as measured against
// nowMs. Clock skew where now < timestamp never reports expiry.
func IsExpired(p *Packet, nowMs, timeoutMs uint64) bool {
	if nowMs < p.Header.Timestamp {
		return false
	}
	return nowMs-p.Header.Timestamp > timeoutMs
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint16(b[0:2], h.Length)
	binary.LittleEndian.PutUint16(b[2:4], h.ID)
	binary.LittleEndian.PutUint64(b[4:12], h.Timestamp)
	binary.LittleEndian.PutUint32(b[12:16], h.Checksum)
	binary.LittleEndian.PutUint16(b[16:18], h.Code)
	b[18] = h.Number
	b[19] = byte(h.Type)
	b[20] = byte(h.Flags)
	b[21] = h.Priority
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, gatewayerr.New(gatewayerr.KindMalformed, "codec.parseHeader", nil)
	}
	return Header{
		Length:    binary.LittleEndian.Uint16(b[0:2]),
		ID:        binary.LittleEndian.Uint16(b[2:4]),
		Timestamp: binary.LittleEndian.Uint64(b[4:12]),
		Checksum:  binary.LittleEndian.Uint32(b[12:16]),
		Code:      binary.LittleEndian.Uint16(b[16:18]),
		Number:    b[18],
		Type:      PayloadType(b[19]),
		Flags:     Flags(b[20]),
		Priority:  b[21],
	}, nil
}
