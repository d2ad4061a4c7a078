package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EndPoint is a listening entry point that feeds connections to a server.
type EndPoint interface {
	Start(srv *Server) error
	Shutdown(srv *Server) error
	// Addr is the bound address, nil before Start.
	Addr() net.Addr
}

const defaultResolveTimeout = 2 * time.Second

// PlainEndPoint accepts plain TCP connections.
type PlainEndPoint struct {
	Name string
	Host string
	Port int
	// Backlog is kept for configuration compatibility; the Go runtime
	// sizes the listen queue itself.
	Backlog int
	// ReadTimeout bounds the wait for each request on a connection.
	ReadTimeout time.Duration
	// ResolveHosts looks up the peer's reverse-DNS name before the
	// connection is queued, bounded by ResolveTimeout.
	ResolveHosts   bool
	ResolveTimeout time.Duration
	// Listener, when set, is served instead of listening on Host:Port.
	Listener net.Listener

	mu  sync.Mutex
	acc *acceptor
}

// NewPlainEndPointFromOptions reads host, port, backlog, read-timeout
// (milliseconds) and resolve-hosts.
func NewPlainEndPointFromOptions(name string, opts Options) (EndPoint, error) {
	ep := &PlainEndPoint{Name: name}
	if err := ep.configure(opts); err != nil {
		return nil, err
	}
	return ep, nil
}

func (e *PlainEndPoint) configure(opts Options) error {
	e.Host = opts.String("host", "")
	e.Port = opts.Int("port", 8080)
	if e.Port < 0 || e.Port > 65535 {
		return fmt.Errorf("port %d out of range", e.Port)
	}
	e.Backlog = opts.Int("backlog", 0)
	e.ReadTimeout = time.Duration(opts.Int("read-timeout", 0)) * time.Millisecond
	e.ResolveHosts = opts.Bool("resolve-hosts", false)
	e.ResolveTimeout = time.Duration(opts.Int("resolve-timeout", 0)) * time.Millisecond
	return nil
}

func (e *PlainEndPoint) Start(srv *Server) error {
	return e.start(srv, nil)
}

func (e *PlainEndPoint) start(srv *Server, wrap func(net.Conn) net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acc != nil {
		return fmt.Errorf("endpoint %s already started", e.label())
	}
	ln := e.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
		if err != nil {
			return err
		}
	}
	timeout := e.ResolveTimeout
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	e.acc = &acceptor{
		srv:            srv,
		ln:             ln,
		name:           e.label(),
		readTimeout:    e.ReadTimeout,
		resolve:        e.ResolveHosts,
		resolveTimeout: timeout,
		wrap:           wrap,
		done:           make(chan struct{}),
	}
	srv.log().Info("endpoint listening", "endpoint", e.acc.name, "addr", ln.Addr().String())
	go e.acc.loop()
	return nil
}

// Shutdown closes the listener and waits for the accept loop to exit.
func (e *PlainEndPoint) Shutdown(srv *Server) error {
	e.mu.Lock()
	acc := e.acc
	e.mu.Unlock()
	if acc == nil {
		return nil
	}
	return acc.close()
}

func (e *PlainEndPoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acc == nil {
		return nil
	}
	return e.acc.ln.Addr()
}

// Done is closed when the accept loop has exited.
func (e *PlainEndPoint) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.acc == nil {
		return nil
	}
	return e.acc.done
}

func (e *PlainEndPoint) label() string {
	if e.Name != "" {
		return e.Name
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// acceptor owns one listener. It only accepts, optionally resolves the
// peer name, and queues a session; connection work happens on workers.
type acceptor struct {
	srv            *Server
	ln             net.Listener
	name           string
	readTimeout    time.Duration
	resolve        bool
	resolveTimeout time.Duration
	wrap           func(net.Conn) net.Conn
	done           chan struct{}
	closed         atomic.Bool
}

func (a *acceptor) loop() {
	defer close(a.done)
	var delay time.Duration
	for {
		c, err := a.ln.Accept()
		if err != nil {
			if a.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			a.srv.log().Warn("accept failed", "endpoint", a.name, "err", err, "retry", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		a.dispatch(c)
	}
}

func (a *acceptor) dispatch(c net.Conn) {
	a.srv.meter().Counter("burrow.conn.accepted", 1)
	var host string
	if a.resolve {
		host = resolveHost(c.RemoteAddr(), a.resolveTimeout)
	}
	conn := c
	if a.wrap != nil {
		conn = a.wrap(c)
	}
	sess := newSession(a.srv, conn, host, a.readTimeout)
	if err := a.srv.submit(sess); err != nil {
		a.srv.meter().Counter("burrow.conn.rejected", 1)
		a.srv.log().Warn("connection rejected", "endpoint", a.name, "remote", c.RemoteAddr().String(), "err", err)
		if errors.Is(err, ErrQueueFull) && a.wrap == nil {
			rejectBusy(c)
		}
		_ = c.Close()
	}
}

func (a *acceptor) close() error {
	a.closed.Store(true)
	err := a.ln.Close()
	<-a.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

const busyResponse = "HTTP/1.1 503 Service Unavailable\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"

func rejectBusy(c net.Conn) {
	_ = c.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = c.Write([]byte(busyResponse))
}

func resolveHost(addr net.Addr, timeout time.Duration) string {
	ip, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
