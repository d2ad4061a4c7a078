package httpx

import (
	"strings"

	"github.com/spf13/cast"
)

// Options is the named-option view a component is configured from.
// Accessors never fail: missing or unparsable values yield def.
type Options interface {
	String(key, def string) string
	Int(key string, def int) int
	Bool(key string, def bool) bool
	// Strings returns a list value; a scalar is split on commas.
	Strings(key string) []string
	Has(key string) bool
	// Sub scopes lookups to name. Keys missing from the scope fall back
	// to the enclosing options.
	Sub(name string) Options
}

// MapOptions is an in-memory Options keyed by dotted names such as
// "files.root".
type MapOptions map[string]string

func (m MapOptions) String(key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

func (m MapOptions) Int(key string, def int) int {
	v := strings.TrimSpace(m[key])
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

func (m MapOptions) Bool(key string, def bool) bool {
	v := strings.TrimSpace(m[key])
	if v == "" {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

func (m MapOptions) Strings(key string) []string {
	return SplitList(m[key])
}

func (m MapOptions) Has(key string) bool {
	_, ok := m[key]
	return ok
}

func (m MapOptions) Sub(name string) Options { return ScopedOptions(m, name) }

// SplitList splits a comma separated value and trims the elements.
func SplitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ScopedOptions looks keys up as "<name>.<key>" in parent and falls back to
// "<key>".
func ScopedOptions(parent Options, name string) Options {
	return &scoped{parent: parent, prefix: name + "."}
}

type scoped struct {
	parent Options
	prefix string
}

func (s *scoped) key(k string) string {
	if s.parent.Has(s.prefix + k) {
		return s.prefix + k
	}
	return k
}

func (s *scoped) String(k, def string) string { return s.parent.String(s.key(k), def) }

func (s *scoped) Int(k string, def int) int { return s.parent.Int(s.key(k), def) }

func (s *scoped) Bool(k string, def bool) bool { return s.parent.Bool(s.key(k), def) }

func (s *scoped) Strings(k string) []string { return s.parent.Strings(s.key(k)) }

func (s *scoped) Has(k string) bool { return s.parent.Has(s.prefix+k) || s.parent.Has(k) }

func (s *scoped) Sub(name string) Options { return ScopedOptions(s, name) }
