package httpmw

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-console/internal/log"
)

// AccessLog logs every outbound exchange. The logger is taken from the
// request context when present, base otherwise. Successful exchanges are
// logged at debug so watch mode does not flood the output; transport
// failures are logged at warn.
func AccessLog(base log.Logger) Transport {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			ctx := r.Context()

			L, ok := log.Lookup(ctx)
			if !ok {
				L = base
			}

			reqID := RequestIDFromContext(ctx)
			if span := trace.SpanFromContext(ctx); span.IsRecording() && reqID != "" {
				span.SetAttributes(attribute.String("request_id", reqID))
			}

			fields := []any{
				"request_id", reqID,
				"http.request.method", r.Method,
				"server.address", r.URL.Host,
				"url.path", r.URL.Path,
				"url.scheme", r.URL.Scheme,
			}
			if r.ContentLength > 0 {
				fields = append(fields, "http.request.body.size", r.ContentLength)
			}

			resp, err := next.RoundTrip(r)
			duration := time.Since(start)
			fields = append(fields, "http.client.request.duration", duration.Seconds())

			if err != nil {
				L.Warn(ctx, "api request failed", append(fields, "error", err.Error())...)
				return resp, err
			}

			fields = append(fields, "http.response.status_code", resp.StatusCode)
			if resp.ContentLength >= 0 {
				fields = append(fields, "http.response.body.size", resp.ContentLength)
			}
			L.Debug(ctx, "api request", fields...)
			return resp, nil
		})
	}
}
