package httpx

import "strings"

// Handler is a unit of application logic bound to routes.
//
// Initialize is called once before the server starts serving, with the
// name the handler was registered under; returning false disables the
// handler and its routes. Handle returns true when it fully handled the
// request and false when the caller should continue elsewhere. A non-nil
// error is a handler fault and is answered with a 500 when possible.
// Shutdown is called once after in-flight requests have finished.
type Handler interface {
	Initialize(name string, srv *Server) bool
	Handle(req *Request, resp *Response) (bool, error)
	Shutdown(srv *Server) bool
}

// HandlerFunc adapts a function to Handler with no-op lifecycle hooks.
type HandlerFunc func(req *Request, resp *Response) (bool, error)

func (f HandlerFunc) Initialize(string, *Server) bool { return true }

func (f HandlerFunc) Handle(req *Request, resp *Response) (bool, error) { return f(req, resp) }

func (f HandlerFunc) Shutdown(*Server) bool { return true }

// WithPrefix wraps h so that requests whose path does not start with
// prefix are left unhandled without calling h.
func WithPrefix(prefix string, h Handler) Handler {
	if prefix == "" || prefix == "/" {
		return h
	}
	return &prefixFilter{prefix: prefix, next: h}
}

type prefixFilter struct {
	prefix string
	next   Handler
}

func (p *prefixFilter) Initialize(name string, srv *Server) bool { return p.next.Initialize(name, srv) }

func (p *prefixFilter) Handle(req *Request, resp *Response) (bool, error) {
	if !strings.HasPrefix(req.Path, p.prefix) {
		return false, nil
	}
	return p.next.Handle(req, resp)
}

func (p *prefixFilter) Shutdown(srv *Server) bool { return p.next.Shutdown(srv) }

// Unwrap returns the filtered handler.
func (p *prefixFilter) Unwrap() Handler { return p.next }
