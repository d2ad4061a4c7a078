package httpx

import (
	"net/url"
	"strings"
)

// Params returns the query and url-encoded form parameters. Duplicate keys
// keep their last occurrence and form values override query values. The
// map is parsed on first use and shared by later calls.
func (r *Request) Params() map[string]string {
	if r.params != nil {
		return r.params
	}
	r.params = make(map[string]string)
	parseParams(r.params, r.RawQuery)
	if r.hasFormBody() {
		parseParams(r.params, string(r.Body))
	}
	return r.params
}

// Param returns a routed variable if the matched rule bound name, else the
// request parameter.
func (r *Request) Param(name string) string {
	if r.Match != nil {
		if v, ok := r.Match.Vars[name]; ok {
			return v
		}
	}
	return r.Params()[name]
}

// A POST without a Content-Type is treated as a form.
func (r *Request) hasFormBody() bool {
	if r.Method != "POST" || len(r.Body) == 0 {
		return false
	}
	opts := r.Header.Options("Content-Type")
	if len(opts) == 0 {
		return true
	}
	return strings.EqualFold(opts[0].Name, "application/x-www-form-urlencoded")
}

func parseParams(dst map[string]string, s string) {
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		dst[decodeParam(k)] = decodeParam(v)
	}
}

// decodeParam percent-decodes with '+' as space. An invalid escape is
// kept as raw text while the rest of s is still decoded.
func decodeParam(s string) string {
	if d, err := url.QueryUnescape(s); err == nil {
		return d
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c >= 'a':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
