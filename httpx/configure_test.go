package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

func TestScopedOptions_FallBack(t *testing.T) {
	opts := MapOptions{
		"port":       "80",
		"admin.port": "9090",
		"realm":      "global",
		"tls.flag":   "maybe",
		"blank":      " ",
		"flag":       "true",
		"list":       " a, b ,,c ",
	}
	admin := opts.Sub("admin")
	if admin.Int("port", 0) != 9090 {
		t.Fatalf("scoped port = %d", admin.Int("port", 0))
	}
	if admin.String("realm", "") != "global" {
		t.Fatal("scope did not fall back to the global key")
	}
	if opts.Sub("web").Int("port", 0) != 80 {
		t.Fatal("unscoped lookup failed")
	}
	// An unparsable scoped value yields the default, not the global one.
	if opts.Sub("tls").Bool("flag", false) {
		t.Fatal("unparsable bool did not yield the default")
	}
	if opts.Int("blank", 7) != 7 || !opts.Bool("blank", true) || opts.Int("realm", 3) != 3 {
		t.Fatal("blank or unparsable values did not yield the default")
	}
	if opts.Sub("admin").Int("port", 0) != 9090 || !opts.Bool("flag", false) {
		t.Fatal("typed accessors")
	}
	if got := opts.Strings("list"); strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("Strings = %q", got)
	}
	if admin.Has("missing") || !admin.Has("port") {
		t.Fatal("Has")
	}
	if nested := opts.Sub("admin").Sub("api"); nested.Int("port", 0) != 9090 {
		t.Fatalf("nested scope port = %d", nested.Int("port", 0))
	}
}

func TestRegistry_Unknown(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.NewHandler("nope", "x", MapOptions{}); !errors.Is(err, ErrUnknownFactory) {
		t.Fatalf("err = %v", err)
	}
	if _, err := reg.NewEndPoint("gopher", "x", MapOptions{}); !errors.Is(err, ErrUnknownFactory) {
		t.Fatalf("err = %v", err)
	}
	reg.RegisterHandler("b", func(string, Options) (Handler, error) { return HandlerFunc(hello), nil })
	reg.RegisterHandler("a", func(string, Options) (Handler, error) { return HandlerFunc(hello), nil })
	if got := reg.HandlerTypes(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("HandlerTypes = %v", got)
	}
}

func TestNewPlainEndPointFromOptions(t *testing.T) {
	ep, err := NewPlainEndPointFromOptions("web", MapOptions{"port": "8081", "read-timeout": "1500"})
	if err != nil {
		t.Fatal(err)
	}
	pe := ep.(*PlainEndPoint)
	if pe.Port != 8081 || pe.ReadTimeout.Milliseconds() != 1500 {
		t.Fatalf("endpoint = %+v", pe)
	}
	if _, err := NewPlainEndPointFromOptions("web", MapOptions{"port": "70000"}); err == nil {
		t.Fatal("out of range port accepted")
	}
}

// greeter answers with its configured greeting and the "who" variable.
type greeter struct {
	greeting string
}

func (g *greeter) Initialize(string, *Server) bool { return g.greeting != "" }

func (g *greeter) Handle(req *Request, resp *Response) (bool, error) {
	_, err := fmt.Fprintf(resp, "%s %s", g.greeting, req.Param("who"))
	return true, err
}

func (g *greeter) Shutdown(*Server) bool { return true }

func TestServer_Configure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	reg := NewRegistry()
	reg.RegisterHandler("greeter", func(name string, opts Options) (Handler, error) {
		return &greeter{greeting: opts.String("greeting", "")}, nil
	})
	opts := MapOptions{
		"workers":          "3",
		"compression":      "false",
		"endpoints":        "web, bogus",
		"web.host":         "127.0.0.1",
		"web.port":         fmt.Sprint(port),
		"bogus.type":       "gopher",
		"handlers":         "hi, silent, broken, plain",
		"hi.type":          "greeter",
		"hi.rule":          "/hi/${who}",
		"hi.validate.who":  "[a-z]+",
		"hi.default.who":   "world",
		"hi.greeting":      "hello",
		"silent.type":      "greeter",
		"silent.rule":      "/silent",
		"broken.type":      "missing",
		"plain.type":       "greeter",
		"plain.rule":       "/",
		"plain.url-prefix": "/greet",
		"plain.greeting":   "hey",
	}
	s := &Server{}
	errs := s.Configure(opts, reg)
	if len(errs) != 2 {
		t.Fatalf("configure errors = %v", errs)
	}
	if s.Workers != 3 || !s.DisableCompression {
		t.Fatalf("server options not applied: workers=%d compression disabled=%v", s.Workers, s.DisableCompression)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})

	// silent has no greeting and fails Initialize.
	if n := len(s.Faults()); n != 3 {
		t.Fatalf("faults = %v", s.Faults())
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	c, br := dial(t, addr)
	cases := []struct{ path, body string }{
		{"/hi/", "hello world"},
		{"/hi/bob", "hello bob"},
		// An invalid value is left to the trailing suffix.
		{"/hi/B0B", "hello world"},
		{"/greet/x", "hey "},
	}
	for _, tc := range cases {
		if _, body := roundTrip(t, c, br, "GET "+tc.path+" HTTP/1.1\r\n\r\n", "GET"); body != tc.body {
			t.Fatalf("%s = %q, want %q", tc.path, body, tc.body)
		}
	}
	for _, path := range []string{"/silent", "/elsewhere"} {
		if res, _ := roundTrip(t, c, br, "GET "+path+" HTTP/1.1\r\n\r\n", "GET"); res.StatusCode != 404 {
			t.Fatalf("%s status = %d", path, res.StatusCode)
		}
	}
}
