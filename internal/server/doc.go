// Package server hosts the transcoding API and the streaming proxy from a
// single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, rate
// limiting, security headers, CORS, metrics, and logging so handlers all
// share common protections and instrumentation.
package server
