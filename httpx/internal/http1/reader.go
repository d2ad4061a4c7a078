package http1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ErrNoRequest is returned when the peer closed the connection before
// sending a single byte of a new request. It is a graceful close.
var ErrNoRequest = errors.New("http1: no request")

// ProtocolError is a malformed or unsupported request. Status is the code
// the server answers with if it still can.
type ProtocolError struct {
	Status int
	Msg    string
}

func (e *ProtocolError) Error() string { return "http1: " + e.Msg }

func protoErr(status int, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Status: status, Msg: fmt.Sprintf(format, args...)}
}

// Field is one header line in arrival order.
type Field struct {
	Key   string
	Value string
}

// ParsedRequest is a minimal representation parsed from the wire.
type ParsedRequest struct {
	Method     string
	RequestURI string
	Path       string
	RawQuery   string
	Proto      string
	Major      int
	Minor      int
	Header     []Field
	Body       []byte
	// ContentLength is the declared length, or -1 for a chunked body.
	ContentLength int64
	// Truncated is set when the peer closed before the declared body arrived.
	Truncated bool
}

// Reader parses requests from BR. Limits of zero mean unlimited, except
// MaxHeaderBytes which falls back to 8KiB.
type Reader struct {
	BR                  *bufio.Reader
	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
	MaxBodyBytes        int64
}

func (r *Reader) ReadRequest() (*ParsedRequest, error) {
	line, err := r.readStartLine()
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return nil, protoErr(400, "malformed request line %q", line)
	}
	method, uri, proto := parts[0], parts[1], parts[2]
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, protoErr(400, "invalid method %q", method)
	}
	pr := &ParsedRequest{Method: method, RequestURI: uri, Proto: proto}
	switch proto {
	case "HTTP/1.0":
		pr.Major, pr.Minor = 1, 0
	case "HTTP/1.1":
		pr.Major, pr.Minor = 1, 1
	default:
		return nil, protoErr(505, "protocol %q not supported", proto)
	}
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		pr.Path, pr.RawQuery = uri[:i], uri[i+1:]
	} else {
		pr.Path = uri
	}

	hdr, err := r.readHeaders()
	if err != nil {
		return nil, err
	}
	pr.Header = hdr

	if hasChunkedTE(hdr) {
		if _, ok := lookup(hdr, "Content-Length"); ok {
			return nil, protoErr(400, "both Content-Length and chunked Transfer-Encoding")
		}
		pr.ContentLength = -1
		body, err := r.readChunked()
		if err != nil {
			return nil, err
		}
		pr.Body = body
		return pr, nil
	}
	if v, ok := lookup(hdr, "Content-Length"); ok {
		n, err := parseContentLength(v)
		if err != nil {
			return nil, err
		}
		if r.MaxBodyBytes > 0 && n > r.MaxBodyBytes {
			return nil, protoErr(413, "body of %d bytes exceeds limit", n)
		}
		pr.ContentLength = n
		if n > 0 {
			body := make([]byte, n)
			got, err := io.ReadFull(r.BR, body)
			if err != nil {
				if err != io.ErrUnexpectedEOF && err != io.EOF {
					return nil, err
				}
				pr.Truncated = true
			}
			pr.Body = body[:got]
		}
	}
	return pr, nil
}

// readStartLine skips leading empty lines. EOF before any byte of a request
// line maps to ErrNoRequest.
func (r *Reader) readStartLine() (string, error) {
	for {
		line, err := readLineLimit(r.BR, r.lineLimit())
		if err != nil {
			if err == io.EOF {
				return "", ErrNoRequest
			}
			if err == io.ErrShortBuffer {
				return "", protoErr(414, "request line too long")
			}
			return "", err
		}
		if strings.TrimSpace(line) != "" {
			return line, nil
		}
	}
}

func (r *Reader) readHeaders() ([]Field, error) {
	var (
		fields []Field
		total  int
	)
	for {
		line, err := readLineLimit(r.BR, r.lineLimit())
		if err != nil {
			if err == io.ErrShortBuffer {
				return nil, protoErr(431, "header line too long")
			}
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			return fields, nil
		}
		total += len(line)
		if r.MaxTotalHeaderBytes > 0 && total > r.MaxTotalHeaderBytes {
			return nil, protoErr(431, "headers exceed %d bytes", r.MaxTotalHeaderBytes)
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(fields) == 0 {
				return nil, protoErr(400, "continuation line without a header")
			}
			last := &fields[len(fields)-1]
			last.Value = last.Value + " " + strings.TrimSpace(line)
			continue
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, protoErr(400, "malformed header line %q", line)
		}
		k := strings.TrimSpace(line[:i])
		if !httpguts.ValidHeaderFieldName(k) {
			return nil, protoErr(400, "invalid header name %q", k)
		}
		fields = append(fields, Field{Key: k, Value: strings.TrimSpace(line[i+1:])})
	}
}

func (r *Reader) readChunked() ([]byte, error) {
	cb := newChunkedBody(r.BR, r.lineLimit())
	var src io.Reader = cb
	if r.MaxBodyBytes > 0 {
		src = io.LimitReader(cb, r.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(src)
	if err != nil {
		if errors.Is(err, errChunkFormat) {
			return nil, protoErr(400, "malformed chunked body")
		}
		return nil, err
	}
	if r.MaxBodyBytes > 0 && int64(len(body)) > r.MaxBodyBytes {
		return nil, protoErr(413, "chunked body exceeds %d bytes", r.MaxBodyBytes)
	}
	return body, nil
}

func (r *Reader) lineLimit() int {
	if r.MaxHeaderBytes <= 0 {
		return 8 << 10
	}
	return r.MaxHeaderBytes
}

// parseContentLength accepts repeated identical values ("5, 5").
func parseContentLength(v string) (int64, error) {
	var n int64 = -1
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if !allDigits(part) {
			return 0, protoErr(411, "Content-Length %q is not a number", v)
		}
		m, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, protoErr(411, "Content-Length %q is not a number", v)
		}
		if n >= 0 && m != n {
			return 0, protoErr(400, "conflicting Content-Length values %q", v)
		}
		n = m
	}
	return n, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func lookup(h []Field, k string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Key, k) {
			return f.Value, true
		}
	}
	return "", false
}

func hasChunkedTE(h []Field) bool {
	for _, f := range h {
		if strings.EqualFold(f.Key, "Transfer-Encoding") &&
			httpguts.HeaderValuesContainsToken([]string{f.Value}, "chunked") {
			return true
		}
	}
	return false
}
