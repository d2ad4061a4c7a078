package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"dqx0.com/go/burrow/internal/obs"
)

// DefaultServerName is sent in the Server header when Server.Name is empty.
const DefaultServerName = "burrow"

const (
	defaultWorkers = 16
	maxHops        = 8
)

const (
	serverNew int32 = iota
	serverRunning
	serverClosed
)

// Server composes endpoints, a worker pool and the router. It is the root
// every request is dispatched from.
//
// Exported fields must be set before Start.
type Server struct {
	// Name is sent in the Server header.
	Name string
	// Workers is the number of connections served concurrently.
	Workers int
	// QueueLimit bounds the connections waiting for a worker; 0 is
	// unbounded. Connections beyond it get a 503.
	QueueLimit int

	MaxHeaderBytes      int
	MaxTotalHeaderBytes int
	MaxBodyBytes        int64

	DisableCompression bool
	// ErrorStackTraces includes handler fault details in 500 pages.
	ErrorStackTraces bool

	// Logger receives structured logs; nil discards them.
	Logger *slog.Logger
	// Meter receives counters; nil discards them.
	Meter obs.Meter

	Statuses *StatusTable
	Mimes    *MimeTable
	// Options is the configuration handlers may consult at Initialize.
	Options Options

	router    Router
	handlers  *xsync.MapOf[string, Handler]
	sessions  *xsync.MapOf[string, *session]
	initOnce  sync.Once
	mu        sync.Mutex
	names     []string
	endpoints []EndPoint
	live      []EndPoint
	faults    []error
	pool      *WorkerPool
	state     atomic.Int32
	downOnce  sync.Once
	logger    *slog.Logger
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		s.handlers = xsync.NewMapOf[string, Handler]()
		s.sessions = xsync.NewMapOf[string, *session]()
		s.logger = obs.OrDiscard(s.Logger)
	})
}

func (s *Server) log() *slog.Logger {
	s.init()
	return s.logger
}

func (s *Server) meter() obs.Meter {
	if s.Meter == nil {
		return obs.NopMeter{}
	}
	return s.Meter
}

func (s *Server) closing() bool { return s.state.Load() == serverClosed }

// MimeTypes returns the server's mime table.
func (s *Server) MimeTypes() *MimeTable {
	if s.Mimes != nil {
		return s.Mimes
	}
	return DefaultMimeTable()
}

// Router exposes the route list.
func (s *Server) Router() *Router { return &s.router }

// Handle registers h under name and, when rule is non-nil, routes rule to
// it. Names are unique; use AddRule to bind more rules to a registered
// handler. Handlers added after Start are initialized immediately.
func (s *Server) Handle(rule *URLRule, name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("httpx: handler %q is nil", name)
	}
	if rule != nil {
		if err := rule.Compile(); err != nil {
			return err
		}
	}
	s.init()
	s.mu.Lock()
	if _, loaded := s.handlers.LoadOrStore(name, h); loaded {
		s.mu.Unlock()
		return fmt.Errorf("httpx: handler name %q already registered", name)
	}
	s.names = append(s.names, name)
	running := s.state.Load() == serverRunning
	s.mu.Unlock()

	if running && !s.initHandler(name, h) {
		return &ConfigError{Component: name, Err: errors.New("initialize failed")}
	}
	if rule == nil {
		return nil
	}
	return s.router.Add(rule, name, h)
}

// AddRule routes rule to the handler registered under name.
func (s *Server) AddRule(rule *URLRule, name string) error {
	h, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("httpx: no handler named %q", name)
	}
	return s.router.Add(rule, name, h)
}

// HandleFunc routes template to fn, using the template as handler name.
func (s *Server) HandleFunc(template string, fn HandlerFunc) error {
	return s.Handle(NewRule(template), template, fn)
}

// Lookup returns the handler registered under name.
func (s *Server) Lookup(name string) (Handler, bool) {
	s.init()
	return s.handlers.Load(name)
}

// AddEndPoint adds ep. It is started immediately when the server runs.
func (s *Server) AddEndPoint(ep EndPoint) error {
	s.mu.Lock()
	s.endpoints = append(s.endpoints, ep)
	running := s.state.Load() == serverRunning
	s.mu.Unlock()
	if !running {
		return nil
	}
	if err := ep.Start(s); err != nil {
		return &ConfigError{Component: endpointName(ep), Err: err}
	}
	s.mu.Lock()
	s.live = append(s.live, ep)
	s.mu.Unlock()
	return nil
}

// Faults returns the configuration faults seen so far.
func (s *Server) Faults() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.faults...)
}

func (s *Server) fault(err error) {
	s.log().Error("component disabled", "err", err)
	s.mu.Lock()
	s.faults = append(s.faults, err)
	s.mu.Unlock()
}

// Start initializes handlers, starts the worker pool and brings up every
// endpoint. A failing handler or endpoint is logged and skipped; Start
// fails only when endpoints were configured and none came up.
func (s *Server) Start() error {
	s.init()
	if !s.state.CompareAndSwap(serverNew, serverRunning) {
		return ErrServerClosed
	}
	workers := s.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	s.pool = NewWorkerPool(workers, s.QueueLimit, s.logger)

	s.mu.Lock()
	names := append([]string(nil), s.names...)
	eps := append([]EndPoint(nil), s.endpoints...)
	s.mu.Unlock()

	for _, name := range names {
		h, _ := s.handlers.Load(name)
		s.initHandler(name, h)
	}
	for _, ep := range eps {
		if err := ep.Start(s); err != nil {
			s.fault(&ConfigError{Component: endpointName(ep), Err: err})
			continue
		}
		s.mu.Lock()
		s.live = append(s.live, ep)
		s.mu.Unlock()
	}
	s.mu.Lock()
	live := len(s.live)
	s.mu.Unlock()
	s.logger.Info("server started", "workers", workers, "endpoints", live, "handlers", len(names))
	if len(eps) > 0 && live == 0 {
		return ErrNoEndPoints
	}
	return nil
}

// initHandler runs Initialize and disables the handler's routes when it
// fails or panics.
func (s *Server) initHandler(name string, h Handler) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			s.log().Debug("initialize panic stack", "handler", name, "stack", string(debug.Stack()))
			ok = false
			s.disable(name, fmt.Errorf("initialize panicked: %v", v))
		}
	}()
	if h.Initialize(name, s) {
		return true
	}
	s.disable(name, errors.New("initialize failed"))
	return false
}

func (s *Server) disable(name string, err error) {
	s.router.Remove(name)
	s.handlers.Delete(name)
	s.mu.Lock()
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.fault(&ConfigError{Component: name, Err: err})
}

// Serve starts the server if needed, serves ln and blocks until ln is
// closed by Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	ep := &PlainEndPoint{Listener: ln, Name: ln.Addr().String()}
	if s.state.Load() == serverNew {
		s.mu.Lock()
		s.endpoints = append(s.endpoints, ep)
		s.mu.Unlock()
		if err := s.Start(); err != nil {
			return err
		}
	} else if err := s.AddEndPoint(ep); err != nil {
		return err
	}
	if done := ep.Done(); done != nil {
		<-done
	}
	return ErrServerClosed
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) submit(t Task) error {
	if s.closing() || s.pool == nil {
		return ErrServerClosed
	}
	return s.pool.Submit(t)
}

func (s *Server) track(sess *session, on bool) {
	if on {
		s.sessions.Store(sess.id, sess)
		return
	}
	s.sessions.Delete(sess.id)
}

// Dispatch routes req to the first matching rule and runs its handler.
// Handlers may call it again with a rewritten Path to redirect
// internally.
func (s *Server) Dispatch(req *Request, resp *Response) error {
	if req.hops >= maxHops {
		return ErrTooManyHops
	}
	req.hops++
	route, m := s.router.Match(req.Path)
	if route == nil {
		return resp.SendError(404, "No rule matches the requested URL.")
	}
	req.Match = m
	handled, err := route.Handler.Handle(req, resp)
	if err != nil {
		return fmt.Errorf("handler %s: %w", route.Name, err)
	}
	if !handled && !resp.Committed() {
		return resp.SendError(404, "The requested URL was not handled.")
	}
	return nil
}

// Shutdown closes every endpoint, stops the worker pool and waits for
// in-flight connections to finish. Running handlers are never
// interrupted: if ctx ends first, Shutdown returns its error and handler
// shutdown runs once the last connection is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.init()
	prev := s.state.Swap(serverClosed)
	if prev == serverClosed {
		return nil
	}
	s.mu.Lock()
	live := append([]EndPoint(nil), s.live...)
	s.mu.Unlock()

	var g errgroup.Group
	for _, ep := range live {
		g.Go(func() error { return ep.Shutdown(s) })
	}
	epErr := g.Wait()
	if prev == serverNew {
		return epErr
	}

	s.pool.Shutdown()
	s.sessions.Range(func(_ string, sess *session) bool {
		sess.closeIdle()
		return true
	})
	if err := s.pool.Wait(ctx); err != nil {
		s.logger.Warn("shutdown deadline reached with connections in flight", "active", s.pool.Active(), "queued", s.pool.Pending())
		go func() {
			_ = s.pool.Wait(context.Background())
			s.shutdownHandlers()
		}()
		return err
	}
	s.shutdownHandlers()
	s.logger.Info("server stopped")
	return epErr
}

func (s *Server) shutdownHandlers() {
	s.downOnce.Do(func() {
		s.mu.Lock()
		names := append([]string(nil), s.names...)
		s.mu.Unlock()
		for i := len(names) - 1; i >= 0; i-- {
			h, ok := s.handlers.Load(names[i])
			if !ok {
				continue
			}
			if !s.shutdownHandler(names[i], h) {
				s.logger.Warn("handler shutdown failed", "handler", names[i])
			}
		}
	})
}

func (s *Server) shutdownHandler(name string, h Handler) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			s.logger.Error("handler shutdown panicked", "handler", name, "panic", v)
			ok = false
		}
	}()
	return h.Shutdown(s)
}

func endpointName(ep EndPoint) string {
	switch e := ep.(type) {
	case *PlainEndPoint:
		return "endpoint " + e.label()
	case *TLSEndPoint:
		return "endpoint " + e.label()
	}
	return fmt.Sprintf("endpoint %T", ep)
}
