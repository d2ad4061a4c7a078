package http1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	errChunkFormat = errors.New("http1: invalid chunk format")
	errWriteClosed = errors.New("http1: write to closed chunked writer")
)

// DefaultChunkSize is the buffer size of a ChunkedWriter.
const DefaultChunkSize = 4096

// ChunkedWriter frames everything written to it as HTTP/1.1 chunks. Data is
// buffered up to the chunk size; each Flush emits one chunk and Close emits
// the terminal zero-size chunk. Close does not close the underlying writer.
type ChunkedWriter struct {
	w      io.Writer
	buf    []byte
	closed bool
}

func NewChunkedWriter(w io.Writer, size int) *ChunkedWriter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkedWriter{w: w, buf: make([]byte, 0, size)}
}

func (c *ChunkedWriter) Write(p []byte) (int, error) {
	if c.closed {
		return 0, errWriteClosed
	}
	written := 0
	for len(p) > 0 {
		n := copy(c.buf[len(c.buf):cap(c.buf)], p)
		c.buf = c.buf[:len(c.buf)+n]
		p = p[n:]
		written += n
		if len(c.buf) == cap(c.buf) {
			if err := c.Flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush writes the buffered bytes as one chunk. An empty buffer writes nothing.
func (c *ChunkedWriter) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	_, err := WriteChunked(c.w, c.buf)
	c.buf = c.buf[:0]
	return err
}

func (c *ChunkedWriter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.Flush(); err != nil {
		return err
	}
	return EndChunked(c.w)
}

// NewChunkedReader returns a reader that de-chunks a chunked body from br.
func NewChunkedReader(br *bufio.Reader) io.ReadCloser {
	return newChunkedBody(br, 8<<10)
}

// chunkedBody implements io.ReadCloser for Transfer-Encoding: chunked.
type chunkedBody struct {
	br       *bufio.Reader
	remain   int64
	finished bool
	maxLine  int // line limit for chunk header and trailer lines
}

func newChunkedBody(br *bufio.Reader, maxLine int) io.ReadCloser {
	return &chunkedBody{br: br, remain: -1, maxLine: maxLine}
}

func (c *chunkedBody) Read(p []byte) (int, error) {
	if c.finished {
		return 0, io.EOF
	}
	if c.remain <= 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := c.readTrailers(); err != nil {
				return 0, err
			}
			c.finished = true
			return 0, io.EOF
		}
		c.remain = size
	}
	if len(p) == 0 {
		return 0, nil
	}
	toRead := int64(len(p))
	if toRead > c.remain {
		toRead = c.remain
	}
	n, err := io.ReadFull(c.br, p[:toRead])
	c.remain -= int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return n, err
	}
	if c.remain == 0 {
		if err := c.expectCRLF(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *chunkedBody) Close() error {
	// Drain to end so connection can be reused
	buf := make([]byte, 1024)
	for !c.finished {
		_, err := c.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *chunkedBody) readChunkSize() (int64, error) {
	line, err := readLineLimit(c.br, c.maxLine)
	if err != nil {
		if err == io.EOF {
			return 0, io.ErrUnexpectedEOF
		}
		return 0, err
	}
	// Strip chunk extensions if any: "<hex>;<ext>"
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, errChunkFormat
	}
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, errChunkFormat
	}
	return n, nil
}

func (c *chunkedBody) expectCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return err
	}
	b2, err := c.br.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("%w: expected CRLF after chunk, got %q%q", errChunkFormat, b1, b2)
	}
	return nil
}

// readTrailers discards trailer lines; trailers are not supported.
func (c *chunkedBody) readTrailers() error {
	for {
		line, err := readLineLimit(c.br, c.maxLine)
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if line == "" {
			return nil
		}
	}
}

// readLineLimit reads one line without its CR/LF. It returns io.EOF only if
// no byte was read at all; a partial line at EOF is io.ErrUnexpectedEOF.
func readLineLimit(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	read := false
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && read {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		read = true
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if limit > 0 && sb.Len() > limit {
			return "", io.ErrShortBuffer
		}
	}
	return sb.String(), nil
}
