package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/puzpuzpuz/xsync/v3"

	"dqx0.com/go/burrow/httpx"
	"dqx0.com/go/burrow/internal/obs"
)

// Stats counts requests per URL path and keeps the first and last hit
// times. It never handles a request, so it belongs at the head of a
// Chain. The counters are written to File after every hit and at
// shutdown, and read back at Initialize.
type Stats struct {
	// File is the TOML file the counters persist to; default stats.toml.
	File string

	urls  *xsync.MapOf[string, *urlStats]
	saveM sync.Mutex
	meter obs.Meter
	log   *slog.Logger
}

type urlStats struct {
	count atomic.Int64
	first int64
	last  atomic.Int64
}

// StatEntry is the persisted form of one URL's counters.
type StatEntry struct {
	Path  string    `toml:"path"`
	Count int64     `toml:"count"`
	First time.Time `toml:"first"`
	Last  time.Time `toml:"last"`
}

type statsFile struct {
	URL []StatEntry `toml:"url"`
}

// NewStats reads file.
func NewStats(name string, opts httpx.Options) (httpx.Handler, error) {
	return &Stats{File: opts.String("file", "stats.toml")}, nil
}

func (s *Stats) Initialize(name string, srv *httpx.Server) bool {
	s.log = obs.OrDiscard(srv.Logger).With("handler", name)
	s.meter = srv.Meter
	if s.meter == nil {
		s.meter = obs.NopMeter{}
	}
	s.urls = xsync.NewMapOf[string, *urlStats]()
	if s.File == "" {
		s.File = "stats.toml"
	}
	var f statsFile
	if _, err := toml.DecodeFile(s.File, &f); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Error("cannot read stats", "file", s.File, "err", err)
			return false
		}
	}
	for _, e := range f.URL {
		st := &urlStats{first: e.First.UnixMilli()}
		st.count.Store(e.Count)
		st.last.Store(e.Last.UnixMilli())
		s.urls.Store(e.Path, st)
	}
	return true
}

func (s *Stats) Handle(req *httpx.Request, resp *httpx.Response) (bool, error) {
	now := time.Now().UnixMilli()
	st, _ := s.urls.LoadOrCompute(req.Path, func() *urlStats {
		return &urlStats{first: now}
	})
	st.count.Add(1)
	st.last.Store(now)
	s.meter.Counter("burrow.stats.hits", 1)
	if err := s.save(); err != nil {
		s.log.Warn("cannot save stats", "file", s.File, "err", err)
	}
	return false, nil
}

// Snapshot returns the counters sorted by path.
func (s *Stats) Snapshot() []StatEntry {
	var out []StatEntry
	s.urls.Range(func(p string, st *urlStats) bool {
		out = append(out, StatEntry{
			Path:  p,
			Count: st.count.Load(),
			First: time.UnixMilli(st.first).UTC(),
			Last:  time.UnixMilli(st.last.Load()).UTC(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (s *Stats) save() error {
	s.saveM.Lock()
	defer s.saveM.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(s.File), ".stats-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := toml.NewEncoder(tmp).Encode(statsFile{URL: s.Snapshot()}); err != nil {
		tmp.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.File)
}

func (s *Stats) Shutdown(*httpx.Server) bool {
	if s.urls == nil {
		return true
	}
	if err := s.save(); err != nil {
		s.log.Error("cannot save stats", "file", s.File, "err", err)
		return false
	}
	return true
}
