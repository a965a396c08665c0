// Package httpmw holds the net/http middleware of the console: RoundTripper
// wrappers for the outbound API transport and handler middleware for the
// ops listener.
//
// The outbound chain is composed in cmd/consolectl as request ID, OTEL
// tracing, metrics, access log and rate limiting, innermost last. Query
// strings are never logged or used in span names because the API token
// travels as a query parameter; otelx masks it in url.full.
package httpmw
