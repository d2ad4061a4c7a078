package handlers

import (
	"fmt"

	"dqx0.com/go/burrow/httpx"
)

// Print echoes the request line, the headers and the body as plain text.
type Print struct{}

func NewPrint(string, httpx.Options) (httpx.Handler, error) { return Print{}, nil }

func (Print) Initialize(string, *httpx.Server) bool { return true }

func (Print) Handle(req *httpx.Request, resp *httpx.Response) (bool, error) {
	resp.MimeType = "text/plain; charset=utf-8"
	fmt.Fprintf(resp, "%s %s %s\r\n", req.Method, req.RequestURI, req.Proto)
	req.Header.Each(func(k, v string) {
		fmt.Fprintf(resp, "%s: %s\r\n", k, v)
	})
	resp.WriteString("\r\n")
	_, err := resp.Write(req.Body)
	return true, err
}

func (Print) Shutdown(*httpx.Server) bool { return true }
