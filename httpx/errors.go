package httpx

import (
	"errors"
	"fmt"

	"dqx0.com/go/burrow/httpx/internal/http1"
)

var (
	ErrServerClosed   = errors.New("httpx: server closed")
	ErrPoolClosed     = errors.New("httpx: worker pool closed")
	ErrQueueFull      = errors.New("httpx: worker queue full")
	ErrRuleCompiled   = errors.New("httpx: rule already compiled")
	ErrCommitted      = errors.New("httpx: response already committed")
	ErrTooManyHops    = errors.New("httpx: too many internal redirects")
	ErrNoEndPoints    = errors.New("httpx: no endpoint started")
	ErrUnknownFactory = errors.New("httpx: unknown factory")
)

// ProtocolError is a malformed or unsupported request. Status is the code
// sent back when the connection can still carry a response.
type ProtocolError = http1.ProtocolError

// ConfigError is a configuration fault confined to one component. The
// server logs it and keeps bringing up the rest.
type ConfigError struct {
	Component string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("httpx: configure %s: %v", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// HandlerPanic wraps a value recovered from a handler.
type HandlerPanic struct {
	Value any
	Stack []byte
}

func (e *HandlerPanic) Error() string { return fmt.Sprintf("httpx: handler panic: %v", e.Value) }
