package http1

import (
	"fmt"
	"io"
)

// WriteStatusLine writes "<proto> <code> <reason>\r\n".
func WriteStatusLine(w io.Writer, proto string, status int, reason string) error {
	_, err := fmt.Fprintf(w, "%s %d %s\r\n", proto, status, reason)
	return err
}

// WriteHeader writes the header fields in order followed by the blank line
// that ends the header block. Fields with invalid names are dropped and
// values are stripped of control characters.
func WriteHeader(w io.Writer, fields []Field) error {
	for _, f := range fields {
		k := SanitizeHeaderKey(f.Key)
		if k == "" {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, SanitizeHeaderValue(f.Value)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// WriteChunked writes one HTTP/1.1 chunk for chunked transfer encoding.
func WriteChunked(w io.Writer, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := fmt.Fprintf(w, "%x\r\n", len(p)); err != nil {
		return 0, err
	}
	if _, err := w.Write(p); err != nil {
		return 0, err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

// EndChunked writes the terminating zero-length chunk.
func EndChunked(w io.Writer) error {
	_, err := io.WriteString(w, "0\r\n\r\n")
	return err
}
