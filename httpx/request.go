package httpx

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"dqx0.com/go/burrow/httpx/internal/http1"
)

// Request represents a parsed HTTP request.
//
// A Request is owned by the worker serving its connection and must not be
// retained by handlers after Handle returns.
type Request struct {
	Method     string
	RequestURI string
	Path       string
	RawQuery   string
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Header     Header
	Body       []byte
	// ContentLength is the declared body length, -1 for a chunked body and
	// 0 when absent.
	ContentLength int64

	// ID increases monotonically across the process.
	ID      uint64
	Created time.Time
	// Match is set once the request has been routed.
	Match *URLMatch

	RemoteAddr string
	// RemoteHost is the reverse-DNS name of the peer when lookups are on.
	RemoteHost string
	TLS        *tls.ConnectionState
	// Internal marks a request re-dispatched by a handler.
	Internal bool

	// CorrelationID is a propagated ID from the peer (X-Request-ID).
	CorrelationID string
	// Trace is the parsed traceparent, if any.
	Trace Trace

	truncated bool
	hops      int
	params    map[string]string
	props     map[string]any
	ctx       context.Context
}

func newRequest(pr *http1.ParsedRequest) *Request {
	r := &Request{
		Method:        pr.Method,
		RequestURI:    pr.RequestURI,
		Path:          pr.Path,
		RawQuery:      pr.RawQuery,
		Proto:         pr.Proto,
		ProtoMajor:    pr.Major,
		ProtoMinor:    pr.Minor,
		Header:        headerFromFields(pr.Header),
		Body:          pr.Body,
		ContentLength: pr.ContentLength,
		ID:            nextRequestID(),
		Created:       time.Now(),
		truncated:     pr.Truncated,
	}
	r.CorrelationID = r.Header.Get("X-Request-Id")
	if tid, sid, fl, ok := parseTraceparent(r.Header.Get("Traceparent")); ok {
		r.Trace = Trace{TraceID: tid, SpanID: genSpanID(), ParentSpanID: sid, Flags: fl}
	}
	return r
}

// Context returns the request's context. If nil, returns Background.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func WithContext(r *Request, ctx context.Context) *Request {
	if r == nil {
		return nil
	}
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// Scheme returns "https" for requests that arrived over TLS.
func (r *Request) Scheme() string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// AtLeast reports whether the request protocol is major.minor or newer.
func (r *Request) AtLeast(major, minor int) bool {
	return r.ProtoMajor > major || (r.ProtoMajor == major && r.ProtoMinor >= minor)
}

// WantsKeepAlive reports whether the client asked to keep the connection:
// HTTP/1.1 without a "close" token, or HTTP/1.0 with a "Keep-Alive" token.
func (r *Request) WantsKeepAlive() bool {
	conn := r.Header.Values("Connection")
	if r.AtLeast(1, 1) {
		return !httpguts.HeaderValuesContainsToken(conn, "close")
	}
	return httpguts.HeaderValuesContainsToken(conn, "keep-alive")
}

// Truncated reports whether the peer closed before the declared body
// arrived. Body then holds what was read.
func (r *Request) Truncated() bool { return r.truncated }

// SetProperty stores a value in the per-request property bag.
func (r *Request) SetProperty(key string, v any) {
	if r.props == nil {
		r.props = make(map[string]any)
	}
	r.props[key] = v
}

// Property returns a value from the property bag.
func (r *Request) Property(key string) (any, bool) {
	v, ok := r.props[key]
	return v, ok
}

// URL returns the request target as received, rebuilt from path and query.
func (r *Request) URL() string {
	if r.RawQuery == "" {
		return r.Path
	}
	return r.Path + "?" + r.RawQuery
}

// Redirected returns a copy of r aimed at target, a path with an optional
// query, and marked Internal. Pass it to Server.Dispatch to redirect
// without a round trip to the client.
func (r *Request) Redirected(target string) *Request {
	c := *r
	c.Path, c.RawQuery, _ = strings.Cut(target, "?")
	c.RequestURI = target
	c.Internal = true
	c.Match = nil
	c.params = nil
	return &c
}

func (r *Request) logValue() []any {
	return []any{"req", strconv.FormatUint(r.ID, 10), "method", r.Method, "path", r.Path}
}
