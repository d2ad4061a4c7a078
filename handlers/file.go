package handlers

import (
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"dqx0.com/go/burrow/httpx"
	"dqx0.com/go/burrow/internal/obs"
)

// File serves files below a root directory. The path used is the
// trailing part of the routed URL, so a rule of "/static" serves
// "/static/css/site.css" from <root>/css/site.css.
type File struct {
	// Root is the directory served. Ignored when FS is set.
	Root string
	// FS, when set, is served instead of Root.
	FS fs.FS
	// DefaultFile is served for a directory; default index.html.
	DefaultFile string
	// Listing renders an index for directories without DefaultFile.
	Listing bool

	root  *os.Root
	mimes *httpx.MimeTable
	log   *slog.Logger
}

// NewFile reads root, default-file and listing.
func NewFile(name string, opts httpx.Options) (httpx.Handler, error) {
	f := &File{
		Root:        opts.String("root", ""),
		DefaultFile: opts.String("default-file", "index.html"),
		Listing:     opts.Bool("listing", false),
	}
	if f.Root == "" {
		return nil, errors.New("root not set")
	}
	return f, nil
}

func (f *File) Initialize(name string, srv *httpx.Server) bool {
	f.log = obs.OrDiscard(srv.Logger).With("handler", name)
	f.mimes = srv.MimeTypes()
	if f.DefaultFile == "" {
		f.DefaultFile = "index.html"
	}
	if f.FS != nil {
		return true
	}
	root, err := os.OpenRoot(f.Root)
	if err != nil {
		f.log.Error("cannot open root", "root", f.Root, "err", err)
		return false
	}
	f.root = root
	f.FS = root.FS()
	return true
}

func (f *File) Handle(req *httpx.Request, resp *httpx.Response) (bool, error) {
	if req.Method != "GET" && req.Method != "HEAD" {
		return false, nil
	}
	rel := req.Path
	if req.Match != nil {
		rel = req.Match.Trailing
	}
	if un, err := url.PathUnescape(rel); err == nil {
		rel = un
	}
	// Cleaning a rooted path drops every "..".
	name := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		f.log.Warn("access denied", "path", rel)
		return false, nil
	}
	req.SetProperty("file-path", name)

	info, err := fs.Stat(f.FS, name)
	if err != nil {
		return f.statError(resp, name, err)
	}
	if info.IsDir() {
		index := path.Join(name, f.DefaultFile)
		if ii, err := fs.Stat(f.FS, index); err == nil && !ii.IsDir() {
			return true, f.send(req, resp, index, ii)
		}
		if f.Listing {
			return true, f.list(req, resp, name)
		}
		f.log.Debug("directory without default file", "path", name)
		return false, nil
	}
	if !info.Mode().IsRegular() {
		return true, resp.SendError(404, "Not a regular file.")
	}
	return true, f.send(req, resp, name, info)
}

func (f *File) statError(resp *httpx.Response, name string, err error) (bool, error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f.log.Debug("file not found", "path", name)
		return false, nil
	case errors.Is(err, fs.ErrPermission):
		return true, resp.SendError(403, "Permission denied.")
	default:
		// Paths escaping the root through a symlink land here.
		f.log.Warn("access denied", "path", name, "err", err)
		return false, nil
	}
}

func (f *File) send(req *httpx.Request, resp *httpx.Response, name string, info fs.FileInfo) error {
	fh, err := f.FS.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return resp.SendError(403, "Permission denied.")
		}
		return err
	}
	resp.MimeType = f.mimes.TypeByName(name)
	rs, ok := fh.(io.ReadSeeker)
	if !ok {
		resp.Header.Set("Last-Modified", httpx.FormatTime(info.ModTime()))
		return resp.AddStream(fh, info.Size())
	}
	return resp.ServeContent(rs, info.Size(), info.ModTime())
}

func (f *File) list(req *httpx.Request, resp *httpx.Response, name string) error {
	entries, err := fs.ReadDir(f.FS, name)
	if err != nil {
		return err
	}
	base := req.Path
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	title := html.EscapeString(base)
	resp.MimeType = "text/html; charset=utf-8"
	fmt.Fprintf(resp, "<html><head><title>Index of %s</title></head>\n<body>\n<h1>Index of %s</h1>\n<table>\n", title, title)
	if name != "." {
		fmt.Fprint(resp, "<tr><td><a href=\"../\">../</a></td><td></td><td></td></tr>\n")
	}
	for _, e := range entries {
		n := e.Name()
		size, mod := "-", ""
		if e.IsDir() {
			n += "/"
		} else if info, err := e.Info(); err == nil {
			size = fmt.Sprint(info.Size())
			mod = httpx.FormatTime(info.ModTime())
		}
		href := url.PathEscape(e.Name())
		if e.IsDir() {
			href += "/"
		}
		fmt.Fprintf(resp, "<tr><td><a href=\"%s\">%s</a></td><td>%s</td><td>%s</td></tr>\n",
			html.EscapeString(href), html.EscapeString(n), size, mod)
	}
	fmt.Fprint(resp, "</table>\n</body></html>\n")
	return nil
}

func (f *File) Shutdown(*httpx.Server) bool {
	if f.root != nil {
		return f.root.Close() == nil
	}
	return true
}
