package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-console/internal/apiclient"
	"github.com/keithlinneman/linnemanlabs-console/internal/archive"
	"github.com/keithlinneman/linnemanlabs-console/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-console/internal/container"
	"github.com/keithlinneman/linnemanlabs-console/internal/log"
	"github.com/keithlinneman/linnemanlabs-console/internal/metrics"
)

func testConf(baseURL string) cfg.App {
	return cfg.App{
		APIBaseURL:     baseURL,
		RequestTimeout: 2 * time.Second,
		RateLimit:      1000,
		RateBurst:      1000,
		TokenParam:     "token",
		Token:          "s3cret",
		Method:         http.MethodGet,
		Path:           "/v1/posts",
		LogLevel:       "info",
		MaxErrorLinks:  5,
	}
}

func newTestRunner(t *testing.T, conf cfg.App) (*runner, *container.Container, *metrics.ConsoleMetrics, *bytes.Buffer) {
	t.Helper()
	m := metrics.New()
	c, err := newContainer(conf, log.Nop(), m)
	if err != nil {
		t.Fatalf("newContainer: %v", err)
	}
	var out bytes.Buffer
	r, err := newRunner(context.Background(), c, &out)
	if err != nil {
		t.Fatalf("newRunner: %v", err)
	}
	return r, c, m, &out
}

func counterValue(t *testing.T, m *metrics.ConsoleMetrics, name string) float64 {
	t.Helper()
	fams, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range fams {
		if f.GetName() != name {
			continue
		}
		var sum float64
		for _, mt := range f.GetMetric() {
			sum += mt.GetCounter().GetValue()
		}
		return sum
	}
	return 0
}

func TestRunnerOnce_SendsTokenAndPrintsJSON(t *testing.T) {
	var gotToken, gotPage, gotUA, gotReqID atomic.Value
	r := chi.NewRouter()
	r.Get("/v1/posts", func(w http.ResponseWriter, req *http.Request) {
		gotToken.Store(req.URL.Query().Get("token"))
		gotPage.Store(req.URL.Query().Get("page"))
		gotUA.Store(req.Header.Get("User-Agent"))
		gotReqID.Store(req.Header.Get(requestIDHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"posts":[{"id":1,"title":"hello"}]}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	conf := testConf(srv.URL)
	conf.Body = `{"page":2}`
	run, _, m, out := newTestRunner(t, conf)

	if err := run.once(context.Background()); err != nil {
		t.Fatalf("once: %v", err)
	}

	if gotToken.Load() != "s3cret" {
		t.Fatalf("token = %v, want s3cret", gotToken.Load())
	}
	if gotPage.Load() != "2" {
		t.Fatalf("page = %v, want 2", gotPage.Load())
	}
	if ua, _ := gotUA.Load().(string); !strings.HasPrefix(ua, "linnemanlabs-console/") {
		t.Fatalf("User-Agent = %q", ua)
	}
	if id, _ := gotReqID.Load().(string); id == "" {
		t.Fatal("request id header not sent")
	}

	var printed map[string]any
	if err := json.Unmarshal(out.Bytes(), &printed); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if _, ok := printed["posts"]; !ok {
		t.Fatalf("output = %s", out.String())
	}
	if run.beat.Last().IsZero() {
		t.Fatal("heartbeat not recorded")
	}
	if got := counterValue(t, m, "api_calls_total"); got != 1 {
		t.Fatalf("api_calls_total = %v, want 1", got)
	}
}

func TestRunnerOnce_UnauthorizedEndsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, `{"error":"expired"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	run, _, m, _ := newTestRunner(t, testConf(srv.URL))

	err := run.once(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want 401 error", err)
	}
	if !run.session.IsClosed() {
		t.Fatal("session gate still open after 401")
	}
	if err := run.session.Probe()(context.Background()); err == nil || !strings.Contains(err.Error(), "session expired") {
		t.Fatalf("session probe = %v, want session expired", err)
	}
	if got := counterValue(t, m, "api_session_expired_total"); got != 1 {
		t.Fatalf("api_session_expired_total = %v, want 1", got)
	}

	st := run.status(context.Background()).(map[string]any)
	if st["last_status"] != http.StatusUnauthorized {
		t.Fatalf("status last_status = %v", st["last_status"])
	}
	if st["session_expired"] != true {
		t.Fatalf("status session_expired = %v", st["session_expired"])
	}
}

func TestRunnerOnce_SuccessReopensSession(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	run, _, _, _ := newTestRunner(t, testConf(srv.URL))
	_ = run.once(context.Background())
	if !run.session.IsClosed() {
		t.Fatal("session gate open after 401")
	}
	if err := run.once(context.Background()); err != nil {
		t.Fatalf("second once: %v", err)
	}
	if run.session.IsClosed() {
		t.Fatal("session gate still closed after success")
	}
}

func TestRunnerOnce_ServerErrorSkipsHeartbeat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, `{"error":"db down"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	run, _, _, _ := newTestRunner(t, testConf(srv.URL))
	if err := run.once(context.Background()); err == nil {
		t.Fatal("once succeeded for a 502")
	}
	if !run.beat.Last().IsZero() {
		t.Fatal("heartbeat recorded for a server error")
	}
	if err := run.beat.Probe(time.Minute)(context.Background()); err == nil {
		t.Fatal("heartbeat probe ready without a successful response")
	}
}

func TestRunnerOnce_PlainTextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("maintenance window"))
	}))
	defer srv.Close()

	run, _, _, out := newTestRunner(t, testConf(srv.URL))
	if err := run.once(context.Background()); err != nil {
		t.Fatalf("once: %v", err)
	}
	if strings.TrimSpace(out.String()) != "maintenance window" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRunnerOnce_NoTokenSourceSendsNoParam(t *testing.T) {
	var sawToken atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sawToken.Store(req.URL.Query().Has("token"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	conf := testConf(srv.URL)
	conf.Token = ""
	run, _, _, _ := newTestRunner(t, conf)
	if err := run.once(context.Background()); err != nil {
		t.Fatalf("once: %v", err)
	}
	if sawToken.Load() {
		t.Fatal("token param sent without a token source")
	}
}

func TestRunnerOnce_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	url := srv.URL
	srv.Close()

	run, _, _, _ := newTestRunner(t, testConf(url))
	err := run.once(context.Background())
	if !apiclient.IsTransport(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if !run.beat.Last().IsZero() {
		t.Fatal("heartbeat recorded for a transport failure")
	}
}

func TestNewContainer_AWSLoadedLazily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	defer srv.Close()

	_, c, _, _ := newTestRunner(t, testConf(srv.URL))

	if container.Resolved[aws.Config](c) {
		t.Fatal("aws config resolved without an aws-backed service")
	}
	if container.Has[*archive.Archiver](c) {
		t.Fatal("archiver registered without a bucket")
	}
	if !container.Resolved[*apiclient.Pipeline](c) {
		t.Fatal("pipeline not resolved")
	}
}

func TestNewContainer_ArchiverRegisteredWithBucket(t *testing.T) {
	conf := testConf("http://127.0.0.1:1")
	conf.ArchiveBucket = "console-archive"
	conf.ArchivePrefix = "responses"
	c, err := newContainer(conf, log.Nop(), metrics.New())
	if err != nil {
		t.Fatalf("newContainer: %v", err)
	}
	if !container.Has[*archive.Archiver](c) {
		t.Fatal("archiver not registered")
	}
	if container.Resolved[*archive.Archiver](c) {
		t.Fatal("archiver built eagerly")
	}
}
