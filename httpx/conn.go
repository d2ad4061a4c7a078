package httpx

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dqx0.com/go/burrow/httpx/internal/http1"
)

type sessionState int32

const (
	stateAwaitRequest sessionState = iota
	stateParsing
	stateDispatching
	stateResponding
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitRequest:
		return "await-request"
	case stateParsing:
		return "parsing"
	case stateDispatching:
		return "dispatching"
	case stateResponding:
		return "responding"
	default:
		return "closed"
	}
}

const defaultHandshakeTimeout = 10 * time.Second

// session serves the sequential request/response exchanges of one
// connection. It runs on a single worker and always ends closed.
type session struct {
	srv         *Server
	conn        net.Conn
	id          string
	remoteHost  string
	readTimeout time.Duration
	log         *slog.Logger

	state     atomic.Int32
	closeOnce sync.Once
	br        *bufio.Reader
	bw        *bufio.Writer
	tls       *tls.ConnectionState
}

func newSession(srv *Server, c net.Conn, remoteHost string, readTimeout time.Duration) *session {
	id := newConnID()
	return &session{
		srv:         srv,
		conn:        c,
		id:          id,
		remoteHost:  remoteHost,
		readTimeout: readTimeout,
		log:         srv.log().With("conn", id, "remote", c.RemoteAddr().String()),
	}
}

func (s *session) getState() sessionState { return sessionState(s.state.Load()) }

func (s *session) setState(st sessionState) { s.state.Store(int32(st)) }

// Close ends the session. It is safe to call from any goroutine and more
// than once.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setState(stateClosed)
		err = s.conn.Close()
	})
	return err
}

// closeIdle closes the session only while it waits for a new request.
func (s *session) closeIdle() bool {
	if !s.state.CompareAndSwap(int32(stateAwaitRequest), int32(stateClosed)) {
		return false
	}
	_ = s.conn.Close()
	return true
}

func (s *session) Run() {
	s.srv.track(s, true)
	defer s.srv.track(s, false)
	defer s.Close()

	if tc, ok := s.conn.(*tls.Conn); ok {
		if !s.handshake(tc) {
			return
		}
	}
	s.br = bufio.NewReader(s.conn)
	s.bw = bufio.NewWriter(s.conn)
	s.log.Debug("session started")
	for s.serveOne() {
	}
	s.log.Debug("session closed")
}

func (s *session) handshake(tc *tls.Conn) bool {
	timeout := s.readTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := tc.HandshakeContext(ctx); err != nil {
		s.log.Debug("tls handshake failed", "err", err)
		return false
	}
	st := tc.ConnectionState()
	s.tls = &st
	return true
}

// serveOne runs one exchange and reports whether the connection stays
// open for another.
func (s *session) serveOne() bool {
	if s.srv.closing() {
		return false
	}
	s.setState(stateAwaitRequest)
	if s.srv.closing() {
		return false
	}
	if s.readTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	if _, err := s.br.Peek(1); err != nil {
		s.transportError("await request", err)
		return false
	}
	if !s.state.CompareAndSwap(int32(stateAwaitRequest), int32(stateParsing)) {
		return false
	}

	rd := &http1.Reader{
		BR:                  s.br,
		MaxHeaderBytes:      s.srv.MaxHeaderBytes,
		MaxTotalHeaderBytes: s.srv.MaxTotalHeaderBytes,
		MaxBodyBytes:        s.srv.MaxBodyBytes,
	}
	pr, err := rd.ReadRequest()
	if err != nil {
		var pe *ProtocolError
		switch {
		case errors.Is(err, http1.ErrNoRequest):
			s.log.Debug("peer closed before request")
		case errors.As(err, &pe):
			s.log.Info("protocol error", "status", pe.Status, "err", pe.Msg)
			s.srv.meter().Counter("burrow.request.protocol_errors", 1)
			s.sendProtocolError(pe)
		default:
			s.transportError("read request", err)
		}
		return false
	}
	// Dispatch has no deadline.
	_ = s.conn.SetReadDeadline(time.Time{})

	req := newRequest(pr)
	req.RemoteAddr = s.conn.RemoteAddr().String()
	req.RemoteHost = s.remoteHost
	req.TLS = s.tls
	ctx := WithConnID(context.Background(), s.id)
	ctx = WithRequestID(ctx, strconv.FormatUint(req.ID, 10))
	if req.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, req.CorrelationID)
	}
	if req.Trace.TraceID != "" {
		ctx = WithTrace(ctx, req.Trace)
	}
	req.ctx = ctx
	resp := newResponse(s.srv, req, s.bw)
	if req.Truncated() {
		resp.CloseConnection()
	}
	log := s.log.With(req.logValue()...)

	s.setState(stateDispatching)
	if err := s.dispatch(req, resp); err != nil {
		if !s.handlerFault(log, resp, err) {
			return false
		}
	}

	s.setState(stateResponding)
	if s.srv.closing() {
		resp.CloseConnection()
	}
	if !resp.Committed() {
		if err := resp.Commit(); err != nil {
			s.transportError("write response", err)
			return false
		}
	} else if err := s.bw.Flush(); err != nil {
		s.transportError("flush response", err)
		return false
	}
	s.srv.meter().Counter("burrow.requests", 1)
	s.srv.meter().Histogram("burrow.response.bytes", float64(resp.sent))
	log.Debug("request served", "status", resp.Status, "bytes", resp.sent, "keep_alive", resp.KeepAlive(),
		"elapsed", time.Since(req.Created))
	return resp.KeepAlive()
}

func (s *session) dispatch(req *Request, resp *Response) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &HandlerPanic{Value: v, Stack: debug.Stack()}
		}
	}()
	return s.srv.Dispatch(req, resp)
}

// handlerFault answers a failed dispatch with a 500 when nothing has been
// sent yet. It reports whether a response is still pending.
func (s *session) handlerFault(log *slog.Logger, resp *Response, err error) bool {
	s.srv.meter().Counter("burrow.request.handler_faults", 1)
	var hp *HandlerPanic
	var stack []byte
	if errors.As(err, &hp) {
		stack = hp.Stack
		log.Error("handler panicked", "err", err)
		log.Debug("handler panic stack", "stack", string(stack))
	} else {
		log.Error("handler failed", "err", err)
	}
	if resp.Committed() {
		return false
	}
	resp.Header = Header{}
	resp.CloseConnection()
	if stack == nil {
		stack = []byte(err.Error())
	}
	_ = resp.sendError(500, "The server encountered an internal error.", stack)
	return true
}

func (s *session) sendProtocolError(pe *ProtocolError) {
	req := &Request{Method: "GET", Proto: "HTTP/1.1", ProtoMajor: 1, ProtoMinor: 1}
	resp := newResponse(s.srv, req, s.bw)
	resp.CloseConnection()
	_ = resp.SendError(pe.Status, pe.Msg)
	if s.readTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.readTimeout))
	}
	if err := resp.Commit(); err != nil {
		s.transportError("write error response", err)
	}
}

func (s *session) transportError(op string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		s.log.Debug("connection closed", "op", op)
		return
	}
	s.log.Debug("transport error", "op", op, "err", err)
}
