// Package server hosts the Fiber HTTP service: request-ID middleware, the
// optional host scope check, the shared upstream http.Client, and the
// diagnostics prefix (/-/) that bypasses the proxy handler. Keep exports
// narrow and accept explicit dependencies; main wires the proxy handler and
// lifecycle routes on top.
package server
