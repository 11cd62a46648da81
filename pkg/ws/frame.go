// Package ws implements the small slice of RFC 6455 the gateway needs:
// decoding one client frame per read and emitting unfragmented, unmasked
// text frames. Extensions, fragmentation and server masking are out.
package ws

import (
	"encoding/binary"
	"unicode/utf8"
)

// Frame opcodes the decoder recognizes.
const (
	opText   = 0x1
	opBinary = 0x2
	opClose  = 0x8
	opPing   = 0x9
	opPong   = 0xA
)

// Decode parses a single frame from one received chunk. The second return
// is false when the session should stop reading: short buffer, control
// frame (close/ping/pong) or an opcode we do not handle.
//
// Masked payloads are XOR-unmasked with key[i%4]. A text payload that is
// not valid UTF-8 decodes to the literal "Invalid UTF-8" and a binary
// frame to "<Binary Frame>"; both are kept for wire compatibility.
func Decode(buf []byte) (string, bool) {
	if len(buf) < 2 {
		return "", false
	}
	opcode := buf[0] & 0x0F
	masked := buf[1]&0x80 != 0
	payloadLen := int(buf[1] & 0x7F)

	index := 2
	switch payloadLen {
	case 126:
		if len(buf) < 4 {
			return "", false
		}
		payloadLen = int(binary.BigEndian.Uint16(buf[2:4]))
		index += 2
	case 127:
		if len(buf) < 10 {
			return "", false
		}
		len64 := binary.BigEndian.Uint64(buf[2:10])
		// The extended length is client-controlled; anything beyond the
		// received chunk is malformed, and an unchecked int conversion
		// would wrap negative on 2^63+.
		if len64 > uint64(len(buf)) {
			return "", false
		}
		payloadLen = int(len64)
		index += 8
	}

	maskLen := 0
	if masked {
		maskLen = 4
	}
	if len(buf) < index+maskLen+payloadLen {
		return "", false
	}

	var key []byte
	if masked {
		key = buf[index : index+4]
		index += 4
	}

	payload := make([]byte, payloadLen)
	for i, b := range buf[index : index+payloadLen] {
		if masked {
			b ^= key[i%4]
		}
		payload[i] = b
	}

	switch opcode {
	case opText:
		if !utf8.Valid(payload) {
			return "Invalid UTF-8", true
		}
		return string(payload), true
	case opBinary:
		return "<Binary Frame>", true
	default:
		// Close, ping, pong and anything unknown end the read loop.
		return "", false
	}
}

// EncodeText builds one unmasked text frame (FIN set, opcode 0x1) with
// the 7/16/64-bit length encoding the payload size calls for.
func EncodeText(payload string) []byte {
	data := []byte(payload)
	frame := make([]byte, 0, len(data)+10)
	frame = append(frame, 0x81)

	switch {
	case len(data) <= 125:
		frame = append(frame, byte(len(data)))
	case len(data) <= 0xFFFF:
		frame = append(frame, 126)
		frame = binary.BigEndian.AppendUint16(frame, uint16(len(data)))
	default:
		frame = append(frame, 127)
		frame = binary.BigEndian.AppendUint64(frame, uint64(len(data)))
	}

	return append(frame, data...)
}
