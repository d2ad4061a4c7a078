package httpx

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

const defaultVarPattern = `\w+`

// URLRule is a path template with ${name} placeholders. Each placeholder
// may carry a validation pattern (default \w+) and a default value; a
// placeholder with a default may be omitted from the path. Anything past
// the template is captured as the trailing suffix.
//
// Validate and Default must be called before the rule is compiled. The
// rule is compiled on first use and is immutable afterwards.
type URLRule struct {
	template string
	patterns map[string]string
	defaults map[string]string

	once     sync.Once
	compiled atomic.Bool
	re       *regexp.Regexp
	vars     []ruleVar
	tail     int
	err      error
}

type ruleVar struct {
	name  string
	group int
}

// NewRule returns an uncompiled rule for template.
func NewRule(template string) *URLRule {
	return &URLRule{template: template, patterns: map[string]string{}, defaults: map[string]string{}}
}

// MustRule compiles a rule and panics on error.
func MustRule(template string) *URLRule {
	r := NewRule(template)
	if err := r.Compile(); err != nil {
		panic(err)
	}
	return r
}

// Validate restricts placeholder name to pattern.
func (r *URLRule) Validate(name, pattern string) *URLRule {
	r.mutable()
	r.patterns[name] = pattern
	return r
}

// Default makes placeholder name optional with the given value.
func (r *URLRule) Default(name, value string) *URLRule {
	r.mutable()
	r.defaults[name] = value
	return r
}

func (r *URLRule) mutable() {
	if r.compiled.Load() {
		panic(fmt.Errorf("%w: %s", ErrRuleCompiled, r.template))
	}
}

func (r *URLRule) Template() string { return r.template }

func (r *URLRule) String() string { return r.template }

// Variables lists the placeholder names in template order.
func (r *URLRule) Variables() []string {
	if err := r.Compile(); err != nil {
		return nil
	}
	out := make([]string, len(r.vars))
	for i, v := range r.vars {
		out[i] = v.name
	}
	return out
}

// placeholders lists the placeholder names of template in order without
// compiling. Malformed placeholders end the scan.
func placeholders(template string) []string {
	var names []string
	for rest := template; ; {
		i := strings.Index(rest, "${")
		if i < 0 {
			return names
		}
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			return names
		}
		if name := rest[i+2 : i+j]; name != "" {
			names = append(names, name)
		}
		rest = rest[i+j+1:]
	}
}

// Compile builds the matcher. It is safe to call more than once.
func (r *URLRule) Compile() error {
	r.once.Do(func() {
		r.compiled.Store(true)
		r.err = r.compile()
	})
	return r.err
}

func (r *URLRule) compile() error {
	var (
		b     strings.Builder
		names []string
	)
	b.WriteString(`^`)
	rest := r.template
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			b.WriteString(regexp.QuoteMeta(rest))
			break
		}
		b.WriteString(regexp.QuoteMeta(rest[:i]))
		j := strings.IndexByte(rest[i:], '}')
		if j < 0 {
			return fmt.Errorf("httpx: rule %q: unclosed placeholder", r.template)
		}
		name := rest[i+2 : i+j]
		if name == "" {
			return fmt.Errorf("httpx: rule %q: empty placeholder", r.template)
		}
		pat, ok := r.patterns[name]
		if !ok {
			pat = defaultVarPattern
		}
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("httpx: rule %q: pattern for %s: %w", r.template, name, err)
		}
		fmt.Fprintf(&b, `(?P<_v%d>%s)`, len(names), pat)
		if _, ok := r.defaults[name]; ok {
			b.WriteString(`?`)
		}
		names = append(names, name)
		rest = rest[i+j+1:]
	}
	b.WriteString(`(?P<_tail>.*)$`)

	re, err := regexp.Compile(`(?s)` + b.String())
	if err != nil {
		return fmt.Errorf("httpx: rule %q: %w", r.template, err)
	}
	r.re = re
	r.vars = make([]ruleVar, len(names))
	for k, name := range names {
		r.vars[k] = ruleVar{name: name, group: re.SubexpIndex("_v" + strconv.Itoa(k))}
	}
	r.tail = re.SubexpIndex("_tail")
	return nil
}

// Match reports whether path matches the whole rule and returns the
// extracted variables.
func (r *URLRule) Match(path string) (*URLMatch, bool) {
	if r.Compile() != nil {
		return nil, false
	}
	loc := r.re.FindStringSubmatchIndex(path)
	if loc == nil {
		return nil, false
	}
	m := &URLMatch{Rule: r, Vars: make(map[string]string, len(r.vars))}
	for _, v := range r.vars {
		s, e := loc[2*v.group], loc[2*v.group+1]
		if s < 0 {
			m.Vars[v.name] = r.defaults[v.name]
			continue
		}
		m.Vars[v.name] = path[s:e]
	}
	if s := loc[2*r.tail]; s >= 0 {
		m.Trailing = path[s:loc[2*r.tail+1]]
	}
	return m, true
}

// URLMatch is the result of matching one path against a rule.
type URLMatch struct {
	Rule     *URLRule
	Vars     map[string]string
	Trailing string
}

// Get returns the value bound to name.
func (m *URLMatch) Get(name string) string {
	if m == nil {
		return ""
	}
	return m.Vars[name]
}

// Route binds a rule to a named handler.
type Route struct {
	Rule    *URLRule
	Name    string
	Handler Handler
}

// Router holds routes in registration order. Reads are lock-free; Add and
// Remove copy the route list.
type Router struct {
	mu     sync.Mutex
	routes atomic.Pointer[[]Route]
}

// Add compiles rule and appends the route.
func (rt *Router) Add(rule *URLRule, name string, h Handler) error {
	if rule == nil || h == nil {
		return fmt.Errorf("httpx: route %q: nil rule or handler", name)
	}
	if err := rule.Compile(); err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	next := append(rt.snapshot(), Route{Rule: rule, Name: name, Handler: h})
	rt.routes.Store(&next)
	return nil
}

// Remove drops every route bound to name.
func (rt *Router) Remove(name string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var next []Route
	for _, r := range rt.snapshot() {
		if r.Name != name {
			next = append(next, r)
		}
	}
	rt.routes.Store(&next)
}

// Match returns the first route whose rule matches path.
func (rt *Router) Match(path string) (*Route, *URLMatch) {
	p := rt.routes.Load()
	if p == nil {
		return nil, nil
	}
	for i := range *p {
		r := &(*p)[i]
		if m, ok := r.Rule.Match(path); ok {
			return r, m
		}
	}
	return nil, nil
}

// Routes returns a copy of the route list.
func (rt *Router) Routes() []Route {
	return rt.snapshot()
}

func (rt *Router) snapshot() []Route {
	p := rt.routes.Load()
	if p == nil {
		return nil
	}
	return append([]Route(nil), (*p)...)
}
