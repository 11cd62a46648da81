// Package rawhttp parses the minimal HTTP/1.1 surface the gateway speaks:
// one request line, a header block, an optional body. Nothing else — no
// chunked transfer, no pipelining, no continuation lines.
package rawhttp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxRequestBytes caps the whole request (head + body). The gateway
// declines to reassemble anything larger.
const MaxRequestBytes = 1024

// ErrTooLarge is rendered verbatim as the 400 body.
var ErrTooLarge = errors.New("Request too large")

type Request struct {
	Method  string
	Path    string
	Params  map[string]string // nil when the URL carries no query string
	Headers map[string]string // names lower-cased, values trimmed
	Body    string
}

func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// ReadRequest reads from conn until a full head (terminated by CRLFCRLF)
// and, when content-length says so, the body have arrived. The read is
// incremental: a request split across TCP segments still parses, but the
// total may never reach MaxRequestBytes.
func ReadRequest(conn io.Reader) (*Request, error) {
	buf := make([]byte, 0, MaxRequestBytes)
	chunk := make([]byte, MaxRequestBytes)
	for {
		n, err := conn.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if len(buf) >= MaxRequestBytes {
			return nil, ErrTooLarge
		}
		if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
			req, perr := Parse(buf)
			if perr != nil {
				return nil, perr
			}
			want := contentLength(req)
			for len(buf)-(i+4) < want {
				n, err = conn.Read(chunk)
				buf = append(buf, chunk[:n]...)
				if len(buf) >= MaxRequestBytes {
					return nil, ErrTooLarge
				}
				if err != nil && len(buf)-(i+4) < want {
					return nil, fmt.Errorf("read body: %w", err)
				}
			}
			req.Body = string(buf[i+4:])
			return req, nil
		}
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				// Peer closed without a complete head.
				return nil, errors.New("truncated request")
			}
			return nil, fmt.Errorf("read request: %w", err)
		}
	}
}

func contentLength(req *Request) int {
	cl := req.Header("content-length")
	if cl == "" {
		return 0
	}
	n, err := strconv.Atoi(cl)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Parse splits a raw request into head and body on the first CRLFCRLF and
// decodes the head. Malformed query pairs are dropped silently; duplicate
// headers keep the last value.
func Parse(raw []byte) (*Request, error) {
	head, body, _ := strings.Cut(string(raw), "\r\n\r\n")

	lines := strings.Split(head, "\r\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, errors.New("empty request")
	}
	parts := strings.Fields(lines[0])
	if len(parts) < 2 {
		return nil, errors.New("malformed request line")
	}
	method := parts[0]
	if method != "GET" && method != "POST" {
		return nil, errors.New("method not supported")
	}
	path, params := splitQuery(parts[1])

	headers := make(map[string]string)
	for _, line := range lines[1:] {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	return &Request{
		Method:  method,
		Path:    path,
		Params:  params,
		Headers: headers,
		Body:    body,
	}, nil
}

func splitQuery(url string) (string, map[string]string) {
	path, query, ok := strings.Cut(url, "?")
	if !ok {
		return url, nil
	}
	params := make(map[string]string)
	for _, pair := range strings.Split(query, "&") {
		kv := strings.Split(pair, "=")
		if len(kv) < 2 || kv[0] == "" {
			continue
		}
		params[kv[0]] = kv[1]
	}
	return path, params
}
