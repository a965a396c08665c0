package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-console/internal/httpmw"
)

// Transport measures inflight, total, duration, and size of outbound round
// trips. Labels are method, host and status only.
func (m *ConsoleMetrics) Transport(next http.RoundTripper) http.RoundTripper {
	return httpmw.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		m.inflight.Inc()
		defer m.inflight.Dec()

		resp, err := next.RoundTrip(r)

		method := r.Method
		host := r.URL.Host
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		m.rtTotal.WithLabelValues(method, host, status).Inc()

		lat := time.Since(start).Seconds()
		obs := m.rtDur.WithLabelValues(method, host)
		if ex := traceExemplar(r.Context()); ex != nil {
			if eo, ok := obs.(prometheus.ExemplarObserver); ok {
				eo.ObserveWithExemplar(lat, ex)
			} else {
				obs.Observe(lat)
			}
		} else {
			obs.Observe(lat)
		}

		if err == nil && resp.ContentLength >= 0 {
			m.respBytes.WithLabelValues(method, host).Observe(float64(resp.ContentLength))
		}
		return resp, err
	})
}

// if a sampled trace is present attach its trace_id as an exemplar
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
