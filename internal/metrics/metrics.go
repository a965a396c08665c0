package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-console/internal/version"
)

// ConsoleMetrics owns the console's registry. It implements
// apiclient.Recorder for logical API calls and provides a RoundTripper
// middleware for the wire-level view.
type ConsoleMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// wire level, from Transport
	inflight  prometheus.Gauge
	rtTotal   *prometheus.CounterVec
	rtDur     *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec

	// pipeline level, from the Recorder methods
	callTotal      *prometheus.CounterVec
	callDur        *prometheus.HistogramVec
	transportErrs  *prometheus.CounterVec
	hookTotal      *prometheus.CounterVec
	sessionExpired prometheus.Counter

	ratelimitWaitTotal    prometheus.Counter
	ratelimitWaitDur      prometheus.Histogram
	ratelimitCapacityHits prometheus.Counter

	resolveTotal *prometheus.CounterVec
	resolveDur   *prometheus.HistogramVec

	tokenFetchTotal *prometheus.CounterVec
	archiveTotal    *prometheus.CounterVec

	httpPanicTotal  prometheus.Counter
	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + console metrics.
// Endpoint labels carry the catalog template (Endpoint.To), never a
// resolved URL, to keep cardinality bounded.
func New() *ConsoleMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ConsoleMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "api_inflight_requests",
			Help: "Current number of in-flight requests to the content API",
		}),
		rtTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_roundtrips_total",
			Help: "Total HTTP round trips by method, host, and status (status is \"error\" on transport failure)",
		}, []string{"method", "host", "status"}),
		rtDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_roundtrip_duration_seconds",
			Help:    "Round trip latency by method and host",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "host"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_response_size_bytes",
			Help:    "Declared response size by method and host",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "host"}),
		callTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_calls_total",
			Help: "Total settled pipeline calls by method, endpoint, and status",
		}, []string{"method", "endpoint", "status"}),
		callDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_call_duration_seconds",
			Help:    "Pipeline dispatch latency by method and endpoint",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "endpoint"}),
		transportErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_transport_errors_total",
			Help: "Total calls that produced no response, by method, endpoint, and kind (timeout|network)",
		}, []string{"method", "endpoint", "kind"}),
		hookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_hook_invocations_total",
			Help: "Status listener and error handler invocations by hook and status",
		}, []string{"hook", "status"}),
		sessionExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_session_expired_total",
			Help: "Total responses that ended the API session (401)",
		}),
		ratelimitWaitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_rate_limited_total",
			Help: "Total outbound requests delayed by the client rate limiter",
		}),
		ratelimitWaitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "api_rate_limit_wait_seconds",
			Help:    "Time outbound requests spent waiting for a rate limit token",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ratelimitCapacityHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "api_rate_limit_capacity_total",
			Help: "Total number of times the per-host limiter table was full",
		}),
		resolveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "container_resolves_total",
			Help: "Service container resolves by service and result (ok|error)",
		}, []string{"service", "result"}),
		resolveDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "container_resolve_duration_seconds",
			Help:    "Service container resolve latency, including construction",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
		}, []string{"service"}),
		tokenFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_token_fetches_total",
			Help: "API token fetches from the secret store by source and result",
		}, []string{"source", "result"}),
		archiveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "response_archive_uploads_total",
			Help: "Response archive uploads by result",
		}, []string{"result"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered ops handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.rtTotal,
		m.rtDur,
		m.respBytes,
		m.callTotal,
		m.callDur,
		m.transportErrs,
		m.hookTotal,
		m.sessionExpired,
		m.ratelimitWaitTotal,
		m.ratelimitWaitDur,
		m.ratelimitCapacityHits,
		m.resolveTotal,
		m.resolveDur,
		m.tokenFetchTotal,
		m.archiveTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ConsoleMetrics) Handler() http.Handler {
	return m.handler
}

// Registry is exposed for tests and for callers that gather directly.
func (m *ConsoleMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// set once at startup.
func (m *ConsoleMetrics) SetBuildInfoFromVersion(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         vi.AppName,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

// ObserveResponse implements apiclient.Recorder.
func (m *ConsoleMetrics) ObserveResponse(method, endpoint string, status int, d time.Duration) {
	m.callTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.callDur.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

// ObserveTransportError implements apiclient.Recorder.
func (m *ConsoleMetrics) ObserveTransportError(method, endpoint string, timeout bool) {
	kind := "network"
	if timeout {
		kind = "timeout"
	}
	m.transportErrs.WithLabelValues(method, endpoint, kind).Inc()
}

// ObserveHook implements apiclient.Recorder.
func (m *ConsoleMetrics) ObserveHook(hook string, status int) {
	m.hookTotal.WithLabelValues(hook, strconv.Itoa(status)).Inc()
}

func (m *ConsoleMetrics) IncSessionExpired() {
	m.sessionExpired.Inc()
}

// ObserveResolve has the container.ResolveHook signature.
func (m *ConsoleMetrics) ObserveResolve(service string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.resolveTotal.WithLabelValues(service, result).Inc()
	m.resolveDur.WithLabelValues(service).Observe(d.Seconds())
}

// ObserveRateLimitWait records a request that had to wait for a token.
func (m *ConsoleMetrics) ObserveRateLimitWait(d time.Duration) {
	m.ratelimitWaitTotal.Inc()
	m.ratelimitWaitDur.Observe(d.Seconds())
}

func (m *ConsoleMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityHits.Inc()
}

func (m *ConsoleMetrics) IncTokenFetch(source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tokenFetchTotal.WithLabelValues(source, result).Inc()
}

func (m *ConsoleMetrics) IncArchiveUpload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.archiveTotal.WithLabelValues(result).Inc()
}

func (m *ConsoleMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ConsoleMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
