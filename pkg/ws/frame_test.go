package ws

import (
	"encoding/binary"
	"strings"
	"testing"
)

// clientFrame builds a masked text frame the way a browser would.
func clientFrame(payload string, key [4]byte) []byte {
	data := []byte(payload)
	frame := []byte{0x81}
	switch {
	case len(data) <= 125:
		frame = append(frame, 0x80|byte(len(data)))
	case len(data) <= 0xFFFF:
		frame = append(frame, 0x80|126)
		frame = binary.BigEndian.AppendUint16(frame, uint16(len(data)))
	default:
		frame = append(frame, 0x80|127)
		frame = binary.BigEndian.AppendUint64(frame, uint64(len(data)))
	}
	frame = append(frame, key[:]...)
	for i, b := range data {
		frame = append(frame, b^key[i%4])
	}
	return frame
}

func TestDecode_MaskedText(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		key     [4]byte
	}{
		{"short", `{"symbol":"BBCA"}`, [4]byte{0x12, 0x34, 0x56, 0x78}},
		{"zero key", "hello", [4]byte{}},
		{"extended 16-bit length", strings.Repeat("x", 300), [4]byte{0xAA, 0xBB, 0xCC, 0xDD}},
		{"boundary 125", strings.Repeat("y", 125), [4]byte{1, 2, 3, 4}},
		{"boundary 126", strings.Repeat("y", 126), [4]byte{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(clientFrame(tt.payload, tt.key))
			if !ok {
				t.Fatal("Decode() not ok")
			}
			if got != tt.payload {
				t.Errorf("Decode() = %q, want %q", got, tt.payload)
			}
		})
	}
}

func TestDecode_UnmaskedText(t *testing.T) {
	got, ok := Decode(EncodeText("plain"))
	if !ok || got != "plain" {
		t.Fatalf("Decode(EncodeText) = %q, %v", got, ok)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	payloads := []string{
		"",
		"a",
		strings.Repeat("b", 125),
		strings.Repeat("c", 126),
		strings.Repeat("d", 65535),
		strings.Repeat("e", 65536), // 64-bit length path
	}
	for _, payload := range payloads {
		got, ok := Decode(EncodeText(payload))
		if !ok {
			t.Fatalf("round trip len=%d not ok", len(payload))
		}
		if got != payload {
			t.Errorf("round trip len=%d mismatch", len(payload))
		}
	}
}

func TestDecode_ControlFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"close", []byte{0x88, 0x00}},
		{"ping", []byte{0x89, 0x00}},
		{"pong", []byte{0x8A, 0x00}},
		{"unknown opcode", []byte{0x83, 0x00}},
		{"too short", []byte{0x81}},
		{"truncated payload", []byte{0x81, 0x05, 'a', 'b'}},
		{"truncated extended length", []byte{0x81, 126, 0x01}},
		{"truncated 64-bit length", []byte{0x81, 127, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := Decode(tt.frame); ok {
				t.Errorf("Decode() = %q, want not ok", got)
			}
		})
	}
}

func TestDecode_HostileExtendedLengths(t *testing.T) {
	// A 10-byte frame can claim any 64-bit payload length. Lengths that
	// wrap int negative or exceed the received chunk must decode to not
	// ok, never allocate.
	tests := []struct {
		name  string
		frame []byte
	}{
		{"length 2^63 wraps negative", []byte{0x81, 127, 0x80, 0, 0, 0, 0, 0, 0, 0}},
		{"length 2^63-1 overflows bounds sum", []byte{0x81, 127, 0x7F, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"length max uint64", []byte{0x81, 127, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"length beyond chunk", []byte{0x81, 127, 0, 0, 0, 0, 0, 0, 0x10, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, ok := Decode(tt.frame); ok {
				t.Errorf("Decode() = %q, want not ok", got)
			}
		})
	}
}

func TestDecode_BinaryFrame(t *testing.T) {
	got, ok := Decode([]byte{0x82, 0x02, 0xDE, 0xAD})
	if !ok || got != "<Binary Frame>" {
		t.Fatalf("Decode(binary) = %q, %v", got, ok)
	}
}

func TestDecode_InvalidUTF8(t *testing.T) {
	got, ok := Decode([]byte{0x81, 0x02, 0xFF, 0xFE})
	if !ok || got != "Invalid UTF-8" {
		t.Fatalf("Decode(bad utf8) = %q, %v", got, ok)
	}
}

func TestEncodeText_LengthEncoding(t *testing.T) {
	small := EncodeText(strings.Repeat("a", 125))
	if small[0] != 0x81 || small[1] != 125 {
		t.Errorf("small header = %x %x", small[0], small[1])
	}

	medium := EncodeText(strings.Repeat("a", 126))
	if medium[1] != 126 || binary.BigEndian.Uint16(medium[2:4]) != 126 {
		t.Errorf("medium header = %x", medium[:4])
	}

	large := EncodeText(strings.Repeat("a", 65536))
	if large[1] != 127 || binary.BigEndian.Uint64(large[2:10]) != 65536 {
		t.Errorf("large header = %x", large[:10])
	}
}
