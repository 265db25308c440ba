// Package wire defines the notcatd client protocol: magic numbers, frame
// layouts, and the byte-level encode/decode helpers the protocol decoder
// builds on. Nothing in this package holds per-connection state; it is pure
// data transformation, mirroring the cursor-based decode helpers in
// jacobsa-fuse's internal/buffer package.
package wire

import "encoding/binary"

// Magic is the required first four bytes of every connection's handshake.
const Magic uint32 = 0xB05ACAFE

// Version is the only protocol version this daemon accepts.
const Version uint8 = 1

// HandshakeSize is the fixed length, in bytes, of the handshake preamble.
const HandshakeSize = 10

// FrameHeaderSize is the fixed length, in bytes, of a message frame's header
// (everything before the payload).
const FrameHeaderSize = 14

// Handshake is the decoded form of the 10-byte connection preamble.
type Handshake struct {
	Version  uint8
	PID      uint32
	SinkMask uint8
}

// FrameHeader is the decoded form of a message frame's fixed 14-byte header.
type FrameHeader struct {
	MsgSize   uint32
	Priority  uint8
	Timestamp Timestamp
}

// Timestamp is the client-supplied calendar wall-clock value carried in every
// frame header. The daemon performs no validation on these fields; it is a
// conduit, not a clock.
type Timestamp struct {
	Year        uint16
	Month       uint8
	Day         uint8
	Hour        uint8
	Minute      uint8
	Second      uint8
	Millisecond uint16
}

// DecodeHandshake parses a HandshakeSize-byte slice. The caller is
// responsible for checking len(b) >= HandshakeSize first; DecodeHandshake
// panics on a short slice, since every call site already validates length
// before reaching it (see protocol.Handler.ProcessBuffer).
func DecodeHandshake(b []byte) (magic uint32, h Handshake) {
	_ = b[HandshakeSize-1]
	magic = binary.BigEndian.Uint32(b[0:4])
	h.Version = b[4]
	h.PID = binary.BigEndian.Uint32(b[5:9])
	h.SinkMask = b[9]
	return magic, h
}

// EncodeHandshake is the inverse of DecodeHandshake, used by tests to build
// literal wire bytes.
func EncodeHandshake(magic uint32, h Handshake) []byte {
	b := make([]byte, HandshakeSize)
	binary.BigEndian.PutUint32(b[0:4], magic)
	b[4] = h.Version
	binary.BigEndian.PutUint32(b[5:9], h.PID)
	b[9] = h.SinkMask
	return b
}

// DecodeFrameHeader parses a FrameHeaderSize-byte slice. As with
// DecodeHandshake, the caller validates length before calling.
func DecodeFrameHeader(b []byte) FrameHeader {
	_ = b[FrameHeaderSize-1]
	var fh FrameHeader
	fh.MsgSize = binary.BigEndian.Uint32(b[0:4])
	fh.Priority = b[4]
	fh.Timestamp = Timestamp{
		Year:        binary.BigEndian.Uint16(b[5:7]),
		Month:       b[7],
		Day:         b[8],
		Hour:        b[9],
		Minute:      b[10],
		Second:      b[11],
		Millisecond: binary.BigEndian.Uint16(b[12:14]),
	}
	return fh
}

// EncodeFrame builds a complete frame (header + payload) for test fixtures
// and for anything constructing synthetic traffic.
func EncodeFrame(priority uint8, ts Timestamp, payload []byte) []byte {
	b := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(payload)))
	b[4] = priority
	binary.BigEndian.PutUint16(b[5:7], ts.Year)
	b[7] = ts.Month
	b[8] = ts.Day
	b[9] = ts.Hour
	b[10] = ts.Minute
	b[11] = ts.Second
	binary.BigEndian.PutUint16(b[12:14], ts.Millisecond)
	copy(b[FrameHeaderSize:], payload)
	return b
}
