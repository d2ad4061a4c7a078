package httpx

import (
	"net/textproto"
	"strings"

	"dqx0.com/go/burrow/httpx/internal/http1"
)

// Header is an ordered list of header fields. Keys are compared in their
// canonical MIME form; insertion order is preserved on the wire.
type Header struct {
	fields []http1.Field
}

func canonical(key string) string { return textproto.CanonicalMIMEHeaderKey(key) }

func headerFromFields(fields []http1.Field) Header {
	h := Header{fields: make([]http1.Field, len(fields))}
	for i, f := range fields {
		h.fields[i] = http1.Field{Key: canonical(f.Key), Value: f.Value}
	}
	return h
}

// Get returns the first value for key, or "".
func (h *Header) Get(key string) string {
	k := canonical(key)
	for _, f := range h.fields {
		if f.Key == k {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for key in arrival order.
func (h *Header) Values(key string) []string {
	k := canonical(key)
	var out []string
	for _, f := range h.fields {
		if f.Key == k {
			out = append(out, f.Value)
		}
	}
	return out
}

func (h *Header) Has(key string) bool {
	k := canonical(key)
	for _, f := range h.fields {
		if f.Key == k {
			return true
		}
	}
	return false
}

// Set replaces all values of key with value, keeping the position of the
// first existing field.
func (h *Header) Set(key, value string) {
	k := canonical(key)
	for i, f := range h.fields {
		if f.Key == k {
			h.fields[i].Value = value
			h.delFrom(k, i+1)
			return
		}
	}
	h.fields = append(h.fields, http1.Field{Key: k, Value: value})
}

func (h *Header) Add(key, value string) {
	h.fields = append(h.fields, http1.Field{Key: canonical(key), Value: value})
}

func (h *Header) Del(key string) {
	h.delFrom(canonical(key), 0)
}

func (h *Header) delFrom(k string, start int) {
	out := h.fields[:start]
	for _, f := range h.fields[start:] {
		if f.Key != k {
			out = append(out, f)
		}
	}
	h.fields = out
}

// Len reports the number of fields.
func (h *Header) Len() int { return len(h.fields) }

// Each calls fn for every field in order.
func (h *Header) Each(fn func(key, value string)) {
	for _, f := range h.fields {
		fn(f.Key, f.Value)
	}
}

func (h *Header) Clone() Header {
	return Header{fields: append([]http1.Field(nil), h.fields...)}
}

// Option is one element of a structured header value such as
// `text/html; charset="utf-8"`. The leading token has an empty Value.
type Option struct {
	Name  string
	Value string
}

// Options splits the first value of key on ';' and '=' and unquotes
// quoted values.
func (h *Header) Options(key string) []Option {
	v := h.Get(key)
	if v == "" {
		return nil
	}
	return parseOptions(v)
}

// ListOptions splits every value of key on ',' and parses each element
// like Options. It is the view used for Accept-Encoding and similar lists.
func (h *Header) ListOptions(key string) [][]Option {
	var out [][]Option
	for _, v := range h.Values(key) {
		for _, item := range splitQuoted(v, ',') {
			if opts := parseOptions(item); len(opts) > 0 {
				out = append(out, opts)
			}
		}
	}
	return out
}

// Param returns the value of the named option in the first value of key.
func (h *Header) Param(key, name string) string {
	for _, o := range h.Options(key) {
		if strings.EqualFold(o.Name, name) {
			return o.Value
		}
	}
	return ""
}

func parseOptions(v string) []Option {
	var out []Option
	for _, part := range splitQuoted(v, ';') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, val, ok := strings.Cut(part, "=")
		if !ok {
			out = append(out, Option{Name: part})
			continue
		}
		out = append(out, Option{Name: strings.TrimSpace(name), Value: unquote(strings.TrimSpace(val))})
	}
	return out
}

// splitQuoted splits s on sep outside of double quotes.
func splitQuoted(s string, sep byte) []string {
	var (
		parts  []string
		quoted bool
		start  int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && quoted:
			i++
		case c == '"':
			quoted = !quoted
		case c == sep && !quoted:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	v = v[1 : len(v)-1]
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
		}
		b.WriteByte(v[i])
	}
	return b.String()
}
