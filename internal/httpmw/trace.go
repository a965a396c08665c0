package httpmw

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Trace wraps the transport with otelhttp client spans and propagates the
// trace context to the API. Spans are named "METHOD /path"; the query is
// left off because it carries the API token.
func Trace(opts ...otelhttp.Option) Transport {
	base := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithSpanOptions(trace.WithAttributes(attribute.String("peer.service", "content-api"))),
	}
	opts = append(base, opts...)
	return func(next http.RoundTripper) http.RoundTripper {
		return otelhttp.NewTransport(next, opts...)
	}
}
