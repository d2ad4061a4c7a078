package http1

import (
	"bufio"
	"errors"
	"strings"
	"testing"
)

func readReq(t *testing.T, raw string, maxLine, maxTotal int) (*ParsedRequest, error) {
	t.Helper()
	r := &Reader{BR: bufio.NewReader(strings.NewReader(raw)), MaxHeaderBytes: maxLine, MaxTotalHeaderBytes: maxTotal}
	return r.ReadRequest()
}

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProtocolError %d", err, status)
	}
	if pe.Status != status {
		t.Fatalf("status = %d, want %d (%v)", pe.Status, status, pe)
	}
}

func TestReader_RequestLine(t *testing.T) {
	pr, err := readReq(t, "GET /a/b?x=1&y=2 HTTP/1.1\r\nHost: x\r\n\r\n", 0, 0)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.Method != "GET" || pr.Path != "/a/b" || pr.RawQuery != "x=1&y=2" {
		t.Fatalf("got %s %s ? %s", pr.Method, pr.Path, pr.RawQuery)
	}
	if pr.Major != 1 || pr.Minor != 1 {
		t.Fatalf("version = %d.%d", pr.Major, pr.Minor)
	}
}

func TestReader_SkipsLeadingBlankLines(t *testing.T) {
	pr, err := readReq(t, "\r\n\r\nGET / HTTP/1.0\r\n\r\n", 0, 0)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.Proto != "HTTP/1.0" || pr.Minor != 0 {
		t.Fatalf("proto = %q", pr.Proto)
	}
}

func TestReader_NoBytesIsNoRequest(t *testing.T) {
	if _, err := readReq(t, "", 0, 0); err != ErrNoRequest {
		t.Fatalf("err = %v, want ErrNoRequest", err)
	}
}

func TestReader_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		status int
	}{
		{"two tokens", "GET /\r\n\r\n", 400},
		{"four tokens", "GET / HTTP/1.1 extra\r\n\r\n", 400},
		{"http2", "GET / HTTP/2.0\r\n\r\n", 505},
		{"lowercase proto", "GET / http/1.1\r\n\r\n", 505},
		{"bad content length", "POST / HTTP/1.1\r\nContent-Length: abc\r\n\r\n", 411},
		{"negative content length", "POST / HTTP/1.1\r\nContent-Length: -4\r\n\r\n", 411},
		{"signed content length", "POST / HTTP/1.1\r\nContent-Length: +5\r\n\r\nhello", 411},
		{"empty content length", "POST / HTTP/1.1\r\nContent-Length: 5,\r\n\r\nhello", 411},
		{"mismatched content length", "POST / HTTP/1.1\r\nContent-Length: 5, 6\r\n\r\n", 400},
		{"cl te conflict", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 5\r\n\r\n", 400},
		{"invalid header name", "GET / HTTP/1.1\r\nBad( : v\r\n\r\n", 400},
		{"leading continuation", "GET / HTTP/1.1\r\n folded\r\n\r\n", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readReq(t, tt.raw, 8<<10, 64<<10)
			wantStatus(t, err, tt.status)
		})
	}
}

func TestReader_ContentLengthBody(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello"
	pr, err := readReq(t, raw, 8<<10, 64<<10)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.ContentLength != 5 {
		t.Fatalf("ContentLength=%d", pr.ContentLength)
	}
	if string(pr.Body) != "hello" {
		t.Fatalf("body=%q", string(pr.Body))
	}
}

func TestReader_ShortBodyIsBestEffort(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"
	pr, err := readReq(t, raw, 0, 0)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if string(pr.Body) != "abc" || !pr.Truncated {
		t.Fatalf("body=%q truncated=%v", pr.Body, pr.Truncated)
	}
}

func TestReader_ChunkedBody(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nhey\r\n2\r\n!!\r\n0\r\n\r\n"
	pr, err := readReq(t, raw, 8<<10, 64<<10)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if pr.ContentLength != -1 {
		t.Fatalf("ContentLength=%d", pr.ContentLength)
	}
	if string(pr.Body) != "hey!!" {
		t.Fatalf("body=%q", string(pr.Body))
	}
}

func TestReader_BodyLimit(t *testing.T) {
	r := &Reader{
		BR:           bufio.NewReader(strings.NewReader("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\n0123456789")),
		MaxBodyBytes: 4,
	}
	_, err := r.ReadRequest()
	wantStatus(t, err, 413)
}

func TestReader_ContinuationLines(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Long: one\r\n two\r\n\tthree\r\nHost: h\r\n\r\n"
	pr, err := readReq(t, raw, 0, 0)
	if err != nil {
		t.Fatalf("ReadRequest error: %v", err)
	}
	if len(pr.Header) != 2 {
		t.Fatalf("fields = %v", pr.Header)
	}
	if got := pr.Header[0].Value; got != "one two three" {
		t.Fatalf("folded value = %q", got)
	}
	if pr.Header[1].Key != "Host" {
		t.Fatalf("order lost: %v", pr.Header)
	}
}

func TestReader_MaxTotalHeaderBytes(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nA: b\r\nC: d\r\nE: f\r\n\r\n"
	_, err := readReq(t, raw, 8<<10, 6)
	wantStatus(t, err, 431)
}

func TestReader_LineTooLong(t *testing.T) {
	raw := "GET /" + strings.Repeat("a", 64) + " HTTP/1.1\r\n\r\n"
	_, err := readReq(t, raw, 16, 0)
	wantStatus(t, err, 414)
}
