package httpx

import (
	"fmt"
	"sort"
	"sync"
)

// HandlerFactory builds a handler from its scoped options.
type HandlerFactory func(name string, opts Options) (Handler, error)

// EndPointFactory builds an endpoint from its scoped options.
type EndPointFactory func(name string, opts Options) (EndPoint, error)

// Registry maps type identifiers used in configuration to factories.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string]HandlerFactory
	endpoints map[string]EndPointFactory
}

// NewRegistry returns a registry with the "http" and "https" endpoint
// types registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: map[string]HandlerFactory{}, endpoints: map[string]EndPointFactory{}}
	r.RegisterEndPoint("http", NewPlainEndPointFromOptions)
	r.RegisterEndPoint("https", NewTLSEndPointFromOptions)
	return r
}

func (r *Registry) RegisterHandler(id string, f HandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[id] = f
}

func (r *Registry) RegisterEndPoint(id string, f EndPointFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[id] = f
}

// NewHandler builds a handler of type id.
func (r *Registry) NewHandler(id, name string, opts Options) (Handler, error) {
	r.mu.RLock()
	f, ok := r.handlers[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: handler type %q", ErrUnknownFactory, id)
	}
	return f(name, opts)
}

// NewEndPoint builds an endpoint of type id.
func (r *Registry) NewEndPoint(id, name string, opts Options) (EndPoint, error) {
	r.mu.RLock()
	f, ok := r.endpoints[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: endpoint type %q", ErrUnknownFactory, id)
	}
	return f(name, opts)
}

// HandlerTypes lists the registered handler identifiers, sorted.
func (r *Registry) HandlerTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
