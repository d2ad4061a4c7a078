package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"dqx0.com/go/burrow/httpx"
	"dqx0.com/go/burrow/internal/obs"
)

// Redirect rewrites URLs matching Pattern into Subst. ${n} in Subst is
// replaced with capture group n; any other ${key} with the server option
// key. The result is sent as a Code redirect, or dispatched again on the
// server when Internal is set. Internally redirected requests are never
// matched again.
type Redirect struct {
	Pattern  *regexp.Regexp
	Subst    string
	Internal bool
	// Code is the redirect status; default 302.
	Code int

	srv *httpx.Server
	log *slog.Logger
}

// NewRedirect reads pattern (matched case-insensitively against the
// request URL), subst, internal and code.
func NewRedirect(name string, opts httpx.Options) (httpx.Handler, error) {
	expr := opts.String("pattern", "")
	if expr == "" {
		return nil, errors.New("pattern not set")
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	if !opts.Has("subst") {
		return nil, errors.New("subst not set")
	}
	return &Redirect{
		Pattern:  re,
		Subst:    opts.String("subst", ""),
		Internal: opts.Bool("internal", false),
		Code:     opts.Int("code", 302),
	}, nil
}

func (r *Redirect) Initialize(name string, srv *httpx.Server) bool {
	r.srv = srv
	r.log = obs.OrDiscard(srv.Logger).With("handler", name)
	if r.Pattern == nil {
		r.log.Error("no pattern")
		return false
	}
	if r.Code == 0 {
		r.Code = 302
	}
	if r.Code < 300 || r.Code > 399 {
		r.log.Warn("code is not a redirect, using 302", "code", r.Code)
		r.Code = 302
	}
	return true
}

func (r *Redirect) Handle(req *httpx.Request, resp *httpx.Response) (bool, error) {
	if req.Internal {
		return false, nil
	}
	src := req.URL()
	m := r.Pattern.FindStringSubmatchIndex(src)
	if m == nil {
		return false, nil
	}
	target := r.expand(src, m)
	r.log.Debug("redirect", "from", src, "to", target, "internal", r.Internal)
	if r.Internal {
		return true, r.srv.Dispatch(req.Redirected(target), resp)
	}
	return true, resp.Redirect(r.Code, target)
}

func (r *Redirect) expand(src string, m []int) string {
	var b strings.Builder
	rest := r.Subst
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			b.WriteString(rest)
			return b.String()
		}
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:i])
		ref := rest[i+2 : i+j]
		rest = rest[i+j+1:]
		if n, err := strconv.Atoi(ref); err == nil {
			if 2*n+1 < len(m) && m[2*n] >= 0 {
				b.WriteString(src[m[2*n]:m[2*n+1]])
			}
			continue
		}
		if opts := r.srv.Options; opts != nil && opts.Has(ref) {
			b.WriteString(opts.String(ref, ""))
			continue
		}
		b.WriteString("${" + ref + "}")
	}
}

func (r *Redirect) Shutdown(*httpx.Server) bool { return true }
