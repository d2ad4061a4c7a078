package handlers

import (
	"errors"

	"dqx0.com/go/burrow/httpx"
	"dqx0.com/go/burrow/internal/obs"
)

// Chain runs handlers in order until one handles the request.
//
// Links built in code are owned by the chain, which runs their
// Initialize and Shutdown. Names refer to handlers registered on the
// server, whose lifecycle the server runs; a missing name is logged and
// skipped.
type Chain struct {
	Names []string

	owned []httpx.Handler
	links []httpx.Handler
}

// NewChain returns a chain owning hs.
func NewChain(hs ...httpx.Handler) *Chain {
	return &Chain{owned: hs}
}

// NewChainFromOptions reads chain, a list of handler names.
func NewChainFromOptions(name string, opts httpx.Options) (httpx.Handler, error) {
	names := opts.Strings("chain")
	if len(names) == 0 {
		return nil, errors.New("chain is empty")
	}
	return &Chain{Names: names}, nil
}

func (c *Chain) Initialize(name string, srv *httpx.Server) bool {
	log := obs.OrDiscard(srv.Logger).With("handler", name)
	c.links = c.links[:0]
	for i, h := range c.owned {
		if !h.Initialize(name, srv) {
			log.Error("link was not initialized", "link", i)
			continue
		}
		c.links = append(c.links, h)
	}
	for _, n := range c.Names {
		h, ok := srv.Lookup(n)
		if !ok {
			log.Error("link was not initialized", "link", n)
			continue
		}
		c.links = append(c.links, h)
	}
	return len(c.links) > 0
}

func (c *Chain) Handle(req *httpx.Request, resp *httpx.Response) (bool, error) {
	for _, h := range c.links {
		handled, err := h.Handle(req, resp)
		if handled || err != nil {
			return handled, err
		}
	}
	return false, nil
}

func (c *Chain) Shutdown(srv *httpx.Server) bool {
	ok := true
	for _, h := range c.owned {
		ok = h.Shutdown(srv) && ok
	}
	return ok
}
