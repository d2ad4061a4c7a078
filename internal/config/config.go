// Package config loads server configuration with viper and exposes it as
// httpx.Options.
//
// Keys are dotted paths. A TOML file such as
//
//	endpoints = ["web"]
//	handlers  = ["files"]
//
//	[web]
//	port = 8080
//
//	[files]
//	type = "file"
//	rule = "/"
//	root = "/srv/www"
//
// yields the keys "endpoints", "web.port", "files.root" and so on.
// Environment variables prefixed with BURROW_ override the file, with dots
// and dashes mapped to underscores (BURROW_WEB_PORT).
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"dqx0.com/go/burrow/httpx"
)

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "BURROW"

// Options is an httpx.Options backed by a viper instance.
type Options struct {
	v *viper.Viper
}

var _ httpx.Options = (*Options)(nil)

// New wraps v. Keys are looked up as given; v's own defaults apply.
func New(v *viper.Viper) *Options {
	return &Options{v: v}
}

// Load reads path (TOML, YAML or JSON by extension) and binds the
// environment. An empty path loads the environment and defaults only.
func Load(path string) (*Options, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if path == "" {
		return New(v), nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) {
			return nil, fmt.Errorf("config %s: not found", path)
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return New(v), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log-level", "info")
	v.SetDefault("shutdown-timeout", 10000)
}

// Viper returns the underlying instance.
func (o *Options) Viper() *viper.Viper { return o.v }

// File is the configuration file in use, if any.
func (o *Options) File() string { return o.v.ConfigFileUsed() }

func (o *Options) String(key, def string) string {
	if !o.v.IsSet(key) {
		return def
	}
	s, err := cast.ToStringE(o.v.Get(key))
	if err != nil {
		return def
	}
	return s
}

func (o *Options) Int(key string, def int) int {
	if !o.v.IsSet(key) {
		return def
	}
	val := o.v.Get(key)
	if s, ok := val.(string); ok {
		val = strings.TrimSpace(s)
	}
	n, err := cast.ToIntE(val)
	if err != nil {
		return def
	}
	return n
}

func (o *Options) Bool(key string, def bool) bool {
	if !o.v.IsSet(key) {
		return def
	}
	b, err := cast.ToBoolE(o.v.Get(key))
	if err != nil {
		return def
	}
	return b
}

// Strings accepts a list value or a comma separated string.
func (o *Options) Strings(key string) []string {
	if !o.v.IsSet(key) {
		return nil
	}
	switch val := o.v.Get(key).(type) {
	case string:
		return httpx.SplitList(val)
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			if s, err := cast.ToStringE(e); err == nil && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (o *Options) Has(key string) bool { return o.v.IsSet(key) }

func (o *Options) Sub(name string) httpx.Options { return httpx.ScopedOptions(o, name) }
