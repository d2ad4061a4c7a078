// Package httpx is an embeddable HTTP/1.0 and HTTP/1.1 server engine.
//
// Highlights
//   - Endpoints: plain TCP and TLS listeners whose accept loops only queue
//     connections; a fixed WorkerPool serves them, one connection per
//     worker, with optional admission control (503 when the queue is full).
//   - Routing: URL rules with ${name} placeholders, per-variable
//     validation patterns and defaults; the first registered rule that
//     matches wins.
//   - Responses: bodies are assembled from parts and framed at commit with
//     Content-Length, chunked transfer or close-delimited bodies; gzip and
//     deflate, single byte ranges, HEAD, conditional GET and keep-alive.
//   - Handlers: a small lifecycle interface (Initialize, Handle, Shutdown),
//     prefix filters, and a Registry of factories for configuration-driven
//     servers.
//   - Observability: slog logging and a plug-in Meter.
//
// Quick start:
//
//	s := &httpx.Server{}
//	s.Handle(httpx.NewRule("/hello/${name}"), "hello", httpx.HandlerFunc(
//	    func(req *httpx.Request, resp *httpx.Response) (bool, error) {
//	        resp.MimeType = "text/plain; charset=utf-8"
//	        fmt.Fprintf(resp, "hello %s", req.Param("name"))
//	        return true, nil
//	    }))
//	s.AddEndPoint(&httpx.PlainEndPoint{Port: 8080})
//	if err := s.Start(); err != nil { log.Fatal(err) }
//	defer s.Shutdown(context.Background())
package httpx
