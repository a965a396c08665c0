package otelx

import (
	"context"
	"net/url"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// RedactQuery rewrites url.full on span start so the named query
// parameters read "REDACTED". otelhttp records the full request URL and
// the API token travels in the query.
type RedactQuery struct {
	Params []string
}

var _ sdktrace.SpanProcessor = RedactQuery{}

func (p RedactQuery) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	if len(p.Params) == 0 {
		return
	}
	for _, kv := range s.Attributes() {
		if kv.Key != semconv.URLFullKey {
			continue
		}
		if red, ok := p.redact(kv.Value.AsString()); ok {
			s.SetAttributes(attribute.String(string(semconv.URLFullKey), red))
		}
		return
	}
}

func (p RedactQuery) redact(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return "", false
	}
	q := u.Query()
	changed := false
	for _, name := range p.Params {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return "", false
	}
	u.RawQuery = q.Encode()
	return u.String(), true
}

func (RedactQuery) OnEnd(sdktrace.ReadOnlySpan)       {}
func (RedactQuery) Shutdown(context.Context) error   { return nil }
func (RedactQuery) ForceFlush(context.Context) error { return nil }
