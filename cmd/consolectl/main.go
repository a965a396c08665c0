package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keithlinneman/linnemanlabs-console/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-console/internal/container"
	"github.com/keithlinneman/linnemanlabs-console/internal/log"
	"github.com/keithlinneman/linnemanlabs-console/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-console/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-console/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-console/internal/probe"
	"github.com/keithlinneman/linnemanlabs-console/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-console/internal/version"
)

const component = "consolectl"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool
	var envFile string

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading CONSOLE_ variables")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		return 0
	}

	if err := cfg.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}
	// Fill in config from environment variables with prefix CONSOLE_ and validate
	cfg.FillFromEnv(flag.CommandLine, "CONSOLE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	// Setup logging
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Component:         component,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSONFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		Writer:            os.Stderr,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing console",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"api_base_url", conf.APIBaseURL,
		"endpoint", conf.Method+" "+conf.Path,
		"token_source", conf.TokenSource(),
		"watch_interval", conf.WatchInterval,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"archive_s3_bucket", conf.ArchiveBucket,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(component, vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		OnActive:      m.SetProfilingActive,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": component,
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Setup otel for tracing
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: component,
		Version:   vi.Version,

		RedactQueryParams: []string{conf.TokenParam},
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			L.Error(sctx, err, "otel shutdown")
		}
	}()

	c, err := newContainer(conf, L, m)
	if err != nil {
		L.Error(ctx, err, "service registration failed")
		return 1
	}
	r, err := newRunner(ctx, c, os.Stdout)
	if err != nil {
		L.Error(ctx, err, "service construction failed", "services", c.Keys())
		return 1
	}

	if !conf.Watching() {
		if err := r.once(ctx); err != nil {
			L.Error(ctx, err, "request failed", "endpoint", r.endpoint().String())
			return 1
		}
		return 0
	}
	return watch(ctx, L, conf, c, m, r)
}

// watch serves the ops port and repeats the request until a signal.
func watch(ctx context.Context, L log.Logger, conf cfg.App, c *container.Container, m *metrics.ConsoleMetrics, r *runner) int {
	// setup toggle for shutdown; readiness also needs a live session and a
	// recent response from the api
	var gate probe.Gate
	readiness := probe.Multi(
		gate.Probe(),
		r.session.Probe(),
		r.beat.Probe(3*conf.WatchInterval),
	)

	// ops listener serves metrics, health checks, status and pprof
	// we reject connections from public ips and requests with x-forwarded set in middleware
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       probe.Static(true, ""),
		Readiness:    readiness,
		Status:       r.status,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return 1
	}

	L.Info(ctx, "watching endpoint",
		"endpoint", r.endpoint().String(),
		"interval", conf.WatchInterval,
		"services", c.Keys(),
	)
	r.watch(ctx)

	L.Info(context.Background(), "shutdown signal received")
	gate.Close("draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "ops http server shutdown")
	}
	L.Info(context.Background(), "shutdown complete")
	return 0
}
