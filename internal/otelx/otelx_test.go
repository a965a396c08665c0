package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// Disabled path

func TestInit_Disabled_ShutdownIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown #%d: %v", i+1, err)
		}
	}
}

func TestInit_Disabled_SetsSDKProvider(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	tp := otel.GetTracerProvider()
	if _, ok := tp.(*sdktrace.TracerProvider); !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", tp)
	}

	// spans still carry ids so log lines can be correlated
	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	defer span.End()
	if !span.SpanContext().TraceID().IsValid() {
		t.Fatal("trace id not valid with tracing disabled")
	}
}

func TestInit_Disabled_SetsPropagator(t *testing.T) {
	_, _ = Init(context.Background(), Options{Enabled: false})

	fieldSet := make(map[string]bool)
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fieldSet[f] = true
	}
	if !fieldSet["traceparent"] {
		t.Error("propagator missing traceparent field")
	}
	if !fieldSet["baggage"] {
		t.Error("propagator missing baggage field")
	}
}

// Enabled path

func TestInit_Enabled_RequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	// gRPC defers connection establishment, an unreachable collector must
	// not hold up startup.
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "localhost:1",
		Insecure:  true,
		Sample:    1.0,
		Service:   "linnemanlabs",
		Component: "console",
		Version:   "v0.0.0-test",
	})
	elapsed := time.Since(start)
	if elapsed > 15*time.Second {
		t.Fatalf("Init took %v, expected to be bounded by dial timeout", elapsed)
	}
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Logf("shutdown error (expected with no real collector): %v", err)
	}
	_, _ = Init(context.Background(), Options{Enabled: false})
}

// Options

func TestOptions_ServiceName(t *testing.T) {
	tests := []struct {
		service, component, want string
	}{
		{"linnemanlabs", "console", "linnemanlabs.console"},
		{"", "console", "console"},
		{"linnemanlabs", "", "linnemanlabs"},
	}
	for _, tt := range tests {
		got := Options{Service: tt.service, Component: tt.component}.ServiceName()
		if got != tt.want {
			t.Fatalf("ServiceName(%q, %q) = %q, want %q", tt.service, tt.component, got, tt.want)
		}
	}
}

func TestOptions_SampleRatioClamped(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, 0},
		{0.25, 0.25},
		{99.9, 1},
	}
	for _, tt := range tests {
		if got := (Options{Sample: tt.in}).sampleRatio(); got != tt.want {
			t.Fatalf("sampleRatio(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOptions_ExporterOptions(t *testing.T) {
	insecure := Options{Endpoint: "localhost:4317", Insecure: true}.exporterOptions()
	if len(insecure) != 2 {
		t.Fatalf("insecure options = %d, want 2", len(insecure))
	}
	tls := Options{Endpoint: "otel.example:4317", Headers: map[string]string{"x-tenant": "console"}}.exporterOptions()
	if len(tls) != 3 {
		t.Fatalf("tls options with headers = %d, want 3", len(tls))
	}
}

// Query redaction

func urlFull(t *testing.T, params []string, raw string) string {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(RedactQuery{Params: params}),
		sdktrace.WithSpanProcessor(rec),
	)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "GET /v1/posts",
		trace.WithAttributes(attribute.String("url.full", raw)))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	for _, kv := range ended[0].Attributes() {
		if kv.Key == "url.full" {
			return kv.Value.AsString()
		}
	}
	t.Fatal("url.full attribute missing")
	return ""
}

func TestRedactQuery_MasksToken(t *testing.T) {
	got := urlFull(t, []string{"token"}, "https://api.example.com/v1/posts?page=2&token=s3cret")
	want := "https://api.example.com/v1/posts?page=2&token=REDACTED"
	if got != want {
		t.Fatalf("url.full = %q, want %q", got, want)
	}
}

func TestRedactQuery_LeavesOtherURLsAlone(t *testing.T) {
	raw := "https://api.example.com/v1/posts?page=2"
	if got := urlFull(t, []string{"token"}, raw); got != raw {
		t.Fatalf("url.full = %q, want %q", got, raw)
	}
	if got := urlFull(t, nil, raw+"&token=x"); got != raw+"&token=x" {
		t.Fatalf("url.full without params = %q", got)
	}
}
