package httpx

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"dqx0.com/go/burrow/httpx/internal/http1"
)

// TransferListener observes the transfer of a committed response.
type TransferListener interface {
	StartTransfer(req *Request, resp *Response)
	// EndTransfer receives the number of body bytes put on the wire and the
	// error that ended the transfer, if any.
	EndTransfer(req *Request, resp *Response, sent int64, err error)
}

type bodyPart struct {
	data []byte
	r    io.Reader
	size int64
}

// Response collects status, headers and body parts until it is committed.
// Framing is decided at commit: Content-Length when the total is known and
// the body is not compressed, chunked for HTTP/1.1 otherwise, and
// close-delimited for HTTP/1.0.
type Response struct {
	Status   int
	MimeType string
	Header   Header

	req        *Request
	srv        *Server
	out        *bufio.Writer
	parts      []bodyPart
	listeners  []TransferListener
	forceClose bool
	committed  bool
	keepAlive  bool
	encoding   string
	sent       int64
}

func newResponse(srv *Server, req *Request, out *bufio.Writer) *Response {
	return &Response{Status: 200, req: req, srv: srv, out: out}
}

// Write appends p to the body. It implements io.Writer.
func (r *Response) Write(p []byte) (int, error) {
	if r.committed {
		return 0, ErrCommitted
	}
	if n := len(r.parts); n > 0 && r.parts[n-1].r == nil {
		last := &r.parts[n-1]
		last.data = append(last.data, p...)
		last.size = int64(len(last.data))
		return len(p), nil
	}
	buf := append([]byte(nil), p...)
	r.parts = append(r.parts, bodyPart{data: buf, size: int64(len(buf))})
	return len(p), nil
}

func (r *Response) WriteString(s string) (int, error) {
	return r.Write([]byte(s))
}

// AddStream appends size bytes read from rd to the body; size < 0 means
// read to EOF and makes the total length unknown. rd is closed after the
// transfer if it implements io.Closer.
func (r *Response) AddStream(rd io.Reader, size int64) error {
	if r.committed {
		return ErrCommitted
	}
	r.parts = append(r.parts, bodyPart{r: rd, size: size})
	return nil
}

// ContentLength returns the total body length, or -1 if a part has an
// unknown length.
func (r *Response) ContentLength() int64 {
	var n int64
	for _, p := range r.parts {
		if p.size < 0 {
			return -1
		}
		n += p.size
	}
	return n
}

// CloseConnection asks for the connection to be closed after this response.
func (r *Response) CloseConnection() { r.forceClose = true }

func (r *Response) Committed() bool { return r.committed }

// KeepAlive reports the keep-alive decision taken at commit.
func (r *Response) KeepAlive() bool { return r.keepAlive }

// Encoding returns the content coding applied at commit, if any.
func (r *Response) Encoding() string { return r.encoding }

// AddTransferListener registers l for this response.
func (r *Response) AddTransferListener(l TransferListener) {
	r.listeners = append(r.listeners, l)
}

// ResetBody drops every body part, closing streams.
func (r *Response) ResetBody() {
	r.closeParts()
	r.parts = nil
}

func (r *Response) closeParts() {
	for _, p := range r.parts {
		if c, ok := p.r.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// SendError replaces the body with an HTML error page carrying the status,
// its phrase, the escaped request URL and msg.
func (r *Response) SendError(code int, msg string) error {
	return r.sendError(code, msg, nil)
}

func (r *Response) sendError(code int, msg string, stack []byte) error {
	if r.committed {
		return ErrCommitted
	}
	r.ResetBody()
	r.Header.Del("Content-Type")
	r.Status = code
	r.MimeType = "text/html; charset=utf-8"
	phrase := html.EscapeString(r.statuses().Phrase(code))
	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%d %s</title></head>\n<body>\n<h1>%d %s</h1>\n", code, phrase, code, phrase)
	if msg != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(msg))
	}
	if r.req != nil && r.req.Path != "" {
		fmt.Fprintf(&b, "<p>URL: <code>%s</code></p>\n", html.EscapeString(r.req.URL()))
	}
	if len(stack) > 0 && r.srv != nil && r.srv.ErrorStackTraces {
		fmt.Fprintf(&b, "<pre>%s</pre>\n", html.EscapeString(string(stack)))
	}
	b.WriteString("</body></html>\n")
	_, err := r.WriteString(b.String())
	return err
}

// Redirect sends a 3xx pointing at location.
func (r *Response) Redirect(code int, location string) error {
	if r.committed {
		return ErrCommitted
	}
	if code < 300 || code > 399 {
		code = 302
	}
	r.ResetBody()
	r.Status = code
	r.Header.Set("Location", location)
	r.MimeType = "text/html; charset=utf-8"
	loc := html.EscapeString(location)
	_, err := fmt.Fprintf(r, "<html><body>Moved to <a href=\"%s\">%s</a></body></html>\n", loc, loc)
	return err
}

// ServeContent serves size bytes of content modified at modtime. It
// answers If-Modified-Since with 304 and a single satisfiable
// "Range: bytes=a-b" with 206 and Content-Range; an unusable range serves
// the whole resource.
func (r *Response) ServeContent(content io.ReadSeeker, size int64, modtime time.Time) error {
	if r.committed {
		return ErrCommitted
	}
	if !modtime.IsZero() {
		r.Header.Set("Last-Modified", FormatTime(modtime))
		if ims := r.req.Header.Get("If-Modified-Since"); ims != "" {
			if t, err := ParseTime(ims); err == nil && !modtime.Truncate(time.Second).After(t) {
				r.Status = 304
				if c, ok := content.(io.Closer); ok {
					_ = c.Close()
				}
				return nil
			}
		}
	}
	r.Header.Set("Accept-Ranges", "bytes")
	start, end, ok := parseRange(r.req.Header.Get("Range"), size)
	if ok {
		r.Status = 206
		r.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		if _, err := content.Seek(start, io.SeekStart); err != nil {
			return err
		}
	} else {
		start, end = 0, size-1
	}
	return r.AddStream(content, end-start+1)
}

// parseRange accepts one "bytes=a-b", "bytes=a-" or "bytes=-n" range.
// The end is inclusive and clamped to size.
func parseRange(v string, size int64) (start, end int64, ok bool) {
	rng, found := strings.CutPrefix(strings.TrimSpace(v), "bytes=")
	if !found || size <= 0 || strings.Contains(rng, ",") {
		return 0, 0, false
	}
	a, b, found := strings.Cut(strings.TrimSpace(rng), "-")
	if !found {
		return 0, 0, false
	}
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" {
		n, err := strconv.ParseInt(b, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}
	start, err := strconv.ParseInt(a, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end = size - 1
	if b != "" {
		e, err := strconv.ParseInt(b, 10, 64)
		if err != nil || e < start {
			return 0, 0, false
		}
		if e < end {
			end = e
		}
	}
	return start, end, true
}

// bodyless reports the statuses that never carry a body or a length.
func bodyless(status int) bool {
	return (status >= 100 && status < 200) || status == 204 || status == 304
}

// negotiateEncoding picks gzip, x-gzip or deflate from Accept-Encoding by
// highest q-value, client order breaking ties.
func negotiateEncoding(h *Header) string {
	var (
		best  string
		bestQ = 0.0
	)
	for _, item := range h.ListOptions("Accept-Encoding") {
		if len(item) == 0 {
			continue
		}
		name := strings.ToLower(item[0].Name)
		if name != "gzip" && name != "x-gzip" && name != "deflate" {
			continue
		}
		q := 1.0
		for _, o := range item[1:] {
			if strings.EqualFold(o.Name, "q") {
				if f, err := strconv.ParseFloat(o.Value, 64); err == nil {
					q = f
				}
			}
		}
		if q > bestQ {
			best, bestQ = name, q
		}
	}
	return best
}

// Commit decides framing and keep-alive, writes the status line and
// headers, then transfers the body. A response is committed once.
func (r *Response) Commit() (err error) {
	if r.committed {
		return ErrCommitted
	}
	r.committed = true
	defer r.closeParts()

	for _, l := range r.listeners {
		l.StartTransfer(r.req, r)
	}
	defer func() {
		for _, l := range r.listeners {
			l.EndTransfer(r.req, r, r.sent, err)
		}
	}()

	noBody := bodyless(r.Status)
	length := r.ContentLength()
	if !noBody && length != 0 && r.Status != 206 && (r.srv == nil || !r.srv.DisableCompression) {
		r.encoding = negotiateEncoding(&r.req.Header)
	}

	fields := []http1.Field{
		{Key: "Date", Value: FormatTime(time.Now())},
		{Key: "Server", Value: r.serverName()},
	}
	if !noBody {
		ct := r.Header.Get("Content-Type")
		if ct == "" {
			ct = r.MimeType
		}
		if ct != "" {
			fields = append(fields, http1.Field{Key: "Content-Type", Value: ct})
		}
	}
	chunked := false
	switch {
	case noBody:
	case r.encoding == "" && length >= 0:
		fields = append(fields, http1.Field{Key: "Content-Length", Value: strconv.FormatInt(length, 10)})
	case r.req.AtLeast(1, 1):
		chunked = true
		fields = append(fields, http1.Field{Key: "Transfer-Encoding", Value: "chunked"})
	default:
		r.forceClose = true
	}
	if r.encoding != "" {
		fields = append(fields, http1.Field{Key: "Content-Encoding", Value: r.encoding})
	}
	r.keepAlive = !r.forceClose && r.req.WantsKeepAlive()
	if r.keepAlive {
		fields = append(fields, http1.Field{Key: "Connection", Value: "Keep-Alive"})
	} else {
		fields = append(fields, http1.Field{Key: "Connection", Value: "close"})
	}
	for _, f := range r.Header.fields {
		switch f.Key {
		case "Content-Type", "Content-Length", "Transfer-Encoding", "Connection", "Content-Encoding", "Date", "Server":
			continue
		}
		fields = append(fields, f)
	}

	proto := r.req.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if err := http1.WriteStatusLine(r.out, proto, r.Status, r.statuses().Phrase(r.Status)); err != nil {
		return err
	}
	if err := http1.WriteHeader(r.out, fields); err != nil {
		return err
	}
	if !noBody && r.req.Method != "HEAD" {
		if err := r.transfer(chunked); err != nil {
			return err
		}
	}
	return r.out.Flush()
}

func (r *Response) transfer(chunked bool) error {
	cw := &countingWriter{w: r.out, n: &r.sent}
	var (
		w       io.Writer = cw
		chunker *http1.ChunkedWriter
		encoder io.WriteCloser
	)
	if chunked {
		chunker = http1.NewChunkedWriter(cw, http1.DefaultChunkSize)
		w = chunker
	}
	switch r.encoding {
	case "gzip", "x-gzip":
		encoder = gzip.NewWriter(w)
		w = encoder
	case "deflate":
		encoder = zlib.NewWriter(w)
		w = encoder
	}
	for _, p := range r.parts {
		if p.r == nil {
			if _, err := w.Write(p.data); err != nil {
				return err
			}
			continue
		}
		if p.size < 0 {
			if _, err := io.Copy(w, p.r); err != nil {
				return err
			}
			continue
		}
		n, err := io.Copy(w, io.LimitReader(p.r, p.size))
		if err != nil {
			return err
		}
		if n < p.size {
			return fmt.Errorf("httpx: body stream ended after %d of %d bytes: %w", n, p.size, io.ErrUnexpectedEOF)
		}
	}
	if encoder != nil {
		if err := encoder.Close(); err != nil {
			return err
		}
	}
	if chunker != nil {
		return chunker.Close()
	}
	return nil
}

func (r *Response) statuses() *StatusTable {
	if r.srv != nil && r.srv.Statuses != nil {
		return r.srv.Statuses
	}
	return DefaultStatusTable()
}

func (r *Response) serverName() string {
	if r.srv != nil && r.srv.Name != "" {
		return r.srv.Name
	}
	return DefaultServerName
}

type countingWriter struct {
	w io.Writer
	n *int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	*c.n += int64(n)
	return n, err
}
