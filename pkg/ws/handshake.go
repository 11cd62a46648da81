package ws

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/quantegy/ordergate/pkg/rawhttp"
)

// acceptMagic is the GUID every RFC 6455 server concatenates with the
// client key before hashing.
const acceptMagic = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// IsUpgrade reports whether the request asks for a websocket upgrade.
// The header value match is case-insensitive.
func IsUpgrade(req *rawhttp.Request) bool {
	return strings.EqualFold(req.Header("upgrade"), "websocket")
}

// AcceptKey computes base64(SHA1(key || magic)) for the 101 response.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptMagic))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HandshakeResponse renders the exact 101 response for a parsed upgrade
// request. A missing Sec-WebSocket-Key hashes as the empty string; a
// strict server would reject, this one answers what the client sent.
func HandshakeResponse(req *rawhttp.Request) []byte {
	accept := AcceptKey(req.Header("sec-websocket-key"))
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n" +
		"\r\n")
}
