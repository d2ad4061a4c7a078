package httpx

import (
	"errors"
	"fmt"
)

// Configure applies server options and builds the endpoints and handlers
// they name through reg. It must be called before Start.
//
// Server keys: name, workers, queue-limit, max-header-bytes,
// max-total-header-bytes, max-body-bytes, compression, stack-traces.
//
// "endpoints" lists endpoint names; each is built from its scope with
// type (default "http"). "handlers" lists handler names in routing order;
// each scope carries type, rule (a URL template, optional), url-prefix,
// and per-placeholder validate.<var> and default.<var>. A handler without
// a rule is registered by name only, for use by composite handlers.
//
// A component that fails is skipped and recorded as a fault; the
// returned slice holds every fault seen.
func (s *Server) Configure(opts Options, reg *Registry) []error {
	if reg == nil {
		reg = NewRegistry()
	}
	s.Options = opts
	s.Name = opts.String("name", s.Name)
	s.Workers = opts.Int("workers", s.Workers)
	s.QueueLimit = opts.Int("queue-limit", s.QueueLimit)
	s.MaxHeaderBytes = opts.Int("max-header-bytes", s.MaxHeaderBytes)
	s.MaxTotalHeaderBytes = opts.Int("max-total-header-bytes", s.MaxTotalHeaderBytes)
	s.MaxBodyBytes = int64(opts.Int("max-body-bytes", int(s.MaxBodyBytes)))
	s.DisableCompression = !opts.Bool("compression", !s.DisableCompression)
	s.ErrorStackTraces = opts.Bool("stack-traces", s.ErrorStackTraces)

	var errs []error
	fail := func(component string, err error) {
		ce := &ConfigError{Component: component, Err: err}
		s.fault(ce)
		errs = append(errs, ce)
	}

	for _, name := range opts.Strings("endpoints") {
		sub := opts.Sub(name)
		ep, err := reg.NewEndPoint(sub.String("type", "http"), name, sub)
		if err != nil {
			fail("endpoint "+name, err)
			continue
		}
		if err := s.AddEndPoint(ep); err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				s.fault(ce)
				errs = append(errs, ce)
				continue
			}
			fail("endpoint "+name, err)
		}
	}

	for _, name := range opts.Strings("handlers") {
		sub := opts.Sub(name)
		typ := sub.String("type", "")
		if typ == "" {
			fail(name, errors.New("type not set"))
			continue
		}
		h, err := reg.NewHandler(typ, name, sub)
		if err != nil {
			fail(name, err)
			continue
		}
		h = WithPrefix(sub.String("url-prefix", ""), h)
		rule, err := ruleFromOptions(sub)
		if err != nil {
			fail(name, err)
			continue
		}
		if err := s.Handle(rule, name, h); err != nil {
			var ce *ConfigError
			if !errors.As(err, &ce) {
				fail(name, err)
			} else {
				errs = append(errs, ce)
			}
		}
	}
	return errs
}

func ruleFromOptions(opts Options) (*URLRule, error) {
	tmpl := opts.String("rule", "")
	if tmpl == "" {
		return nil, nil
	}
	rule := NewRule(tmpl)
	for _, v := range placeholders(tmpl) {
		if opts.Has("validate." + v) {
			rule.Validate(v, opts.String("validate."+v, ""))
		}
		if opts.Has("default." + v) {
			rule.Default(v, opts.String("default."+v, ""))
		}
	}
	if err := rule.Compile(); err != nil {
		return nil, fmt.Errorf("rule: %w", err)
	}
	return rule, nil
}
