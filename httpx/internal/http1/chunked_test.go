package http1

import (
	"bufio"
	"bytes"
	"io"
	"net/http/httputil"
	"strings"
	"testing"
)

func TestChunkedWriter_RoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":       {},
		"one byte":    []byte("x"),
		"exact chunk": bytes.Repeat([]byte("a"), 16),
		"multi chunk": bytes.Repeat([]byte("0123456789"), 9),
		"binary":      {0, '\r', '\n', 0xff, '0', '\r', '\n'},
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			var wire bytes.Buffer
			cw := NewChunkedWriter(&wire, 16)
			if _, err := cw.Write(in); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := cw.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if !bytes.HasSuffix(wire.Bytes(), []byte("0\r\n\r\n")) {
				t.Fatalf("missing terminal chunk: %q", wire.String())
			}
			out, err := io.ReadAll(httputil.NewChunkedReader(bytes.NewReader(wire.Bytes())))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !bytes.Equal(out, in) {
				t.Fatalf("round trip = %q, want %q", out, in)
			}
			own, err := io.ReadAll(NewChunkedReader(bufio.NewReader(bytes.NewReader(wire.Bytes()))))
			if err != nil {
				t.Fatalf("own decode: %v", err)
			}
			if !bytes.Equal(own, in) {
				t.Fatalf("own round trip = %q, want %q", own, in)
			}
		})
	}
}

func TestChunkedWriter_EmptyBodyIsTerminalChunkOnly(t *testing.T) {
	var wire bytes.Buffer
	cw := NewChunkedWriter(&wire, 0)
	if err := cw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if wire.String() != "0\r\n\r\n" {
		t.Fatalf("wire = %q", wire.String())
	}
}

func TestChunkedWriter_FlushFraming(t *testing.T) {
	var wire bytes.Buffer
	cw := NewChunkedWriter(&wire, 64)
	cw.Write([]byte("hello"))
	if err := cw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	cw.Write([]byte(strings.Repeat("z", 26)))
	cw.Close()
	want := "5\r\nhello\r\n1a\r\n" + strings.Repeat("z", 26) + "\r\n0\r\n\r\n"
	if wire.String() != want {
		t.Fatalf("wire = %q\nwant  %q", wire.String(), want)
	}
	if _, err := cw.Write([]byte("late")); err == nil {
		t.Fatal("write after close succeeded")
	}
}

func TestWriteHeader_SanitizesFields(t *testing.T) {
	var buf bytes.Buffer
	err := WriteHeader(&buf, []Field{
		{Key: "X-Ok", Value: "a\r\nInjected: yes"},
		{Key: "Bad Name", Value: "dropped"},
	})
	if err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if got, want := buf.String(), "X-Ok: aInjected: yes\r\n\r\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
