// Package handlers provides the stock handlers: static files, Basic
// authentication, redirects, request statistics, an echo handler and
// chains of handlers.
package handlers

import "dqx0.com/go/burrow/httpx"

// Register adds the stock handler types to reg as "file", "auth",
// "redirect", "stats", "print" and "chain".
func Register(reg *httpx.Registry) {
	reg.RegisterHandler("file", NewFile)
	reg.RegisterHandler("auth", NewBasicAuth)
	reg.RegisterHandler("redirect", NewRedirect)
	reg.RegisterHandler("stats", NewStats)
	reg.RegisterHandler("print", NewPrint)
	reg.RegisterHandler("chain", NewChainFromOptions)
}
