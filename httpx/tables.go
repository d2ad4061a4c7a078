package httpx

import (
	"path"
	"strings"
	"sync"
	"time"
)

// StatusTable maps status codes to reason phrases. It is immutable.
type StatusTable struct {
	phrases map[int]string
}

var statusPhrases = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	305: "Use Proxy",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	402: "Payment Required",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Content Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	417: "Expectation Failed",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}

// NewStatusTable returns the standard phrases with overrides applied.
func NewStatusTable(overrides map[int]string) *StatusTable {
	t := &StatusTable{phrases: make(map[int]string, len(statusPhrases)+len(overrides))}
	for k, v := range statusPhrases {
		t.phrases[k] = v
	}
	for k, v := range overrides {
		t.phrases[k] = v
	}
	return t
}

var defaultStatuses = sync.OnceValue(func() *StatusTable { return NewStatusTable(nil) })

// DefaultStatusTable is shared by servers that do not set their own.
func DefaultStatusTable() *StatusTable { return defaultStatuses() }

// Phrase returns the reason phrase for code. Unknown codes get the phrase
// of their class.
func (t *StatusTable) Phrase(code int) string {
	if p, ok := t.phrases[code]; ok {
		return p
	}
	switch code / 100 {
	case 1:
		return "Informational"
	case 2:
		return "Success"
	case 3:
		return "Redirection"
	case 4:
		return "Client Error"
	default:
		return "Server Error"
	}
}

// MimeTable maps lower-case file extensions (without the dot) to media types.
type MimeTable struct {
	types    map[string]string
	fallback string
}

var mimeTypes = map[string]string{
	"html":  "text/html",
	"htm":   "text/html",
	"txt":   "text/plain",
	"text":  "text/plain",
	"css":   "text/css",
	"csv":   "text/csv",
	"xml":   "text/xml",
	"js":    "application/javascript",
	"mjs":   "application/javascript",
	"json":  "application/json",
	"pdf":   "application/pdf",
	"zip":   "application/zip",
	"gz":    "application/gzip",
	"tar":   "application/x-tar",
	"wasm":  "application/wasm",
	"jar":   "application/java-archive",
	"gif":   "image/gif",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"svg":   "image/svg+xml",
	"ico":   "image/x-icon",
	"webp":  "image/webp",
	"mp3":   "audio/mpeg",
	"wav":   "audio/wav",
	"mp4":   "video/mp4",
	"webm":  "video/webm",
	"woff":  "font/woff",
	"woff2": "font/woff2",
}

// NewMimeTable returns the built-in types with overrides applied. Override
// keys may carry a leading dot.
func NewMimeTable(overrides map[string]string) *MimeTable {
	t := &MimeTable{types: make(map[string]string, len(mimeTypes)+len(overrides)), fallback: "application/octet-stream"}
	for k, v := range mimeTypes {
		t.types[k] = v
	}
	for k, v := range overrides {
		t.types[strings.ToLower(strings.TrimPrefix(k, "."))] = v
	}
	return t
}

var defaultMimes = sync.OnceValue(func() *MimeTable { return NewMimeTable(nil) })

// DefaultMimeTable is shared by servers that do not set their own.
func DefaultMimeTable() *MimeTable { return defaultMimes() }

// TypeByName returns the media type for a file name by its extension.
func (t *MimeTable) TypeByName(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if v, ok := t.types[ext]; ok {
		return v
	}
	return t.fallback
}

// TimeFormat is the IMF-fixdate layout used in Date and Last-Modified.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// FormatTime renders t as an HTTP date.
func FormatTime(t time.Time) string { return t.UTC().Format(TimeFormat) }

// ParseTime accepts IMF-fixdate, RFC 850 and asctime dates.
func ParseTime(v string) (time.Time, error) {
	var (
		t   time.Time
		err error
	)
	for _, layout := range []string{TimeFormat, time.RFC850, time.ANSIC} {
		if t, err = time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return t, err
}
