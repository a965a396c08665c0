package cfg

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.Method != "GET" {
		t.Errorf("Method: want GET, got %q", c.Method)
	}
	if c.TokenParam != "token" {
		t.Errorf("TokenParam: want %q, got %q", "token", c.TokenParam)
	}
	if c.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout: want 15s, got %v", c.RequestTimeout)
	}
	if c.RateLimit != 5 || c.RateBurst != 10 {
		t.Errorf("rate: want 5/10, got %v/%d", c.RateLimit, c.RateBurst)
	}
	if c.WatchInterval != 0 || c.Watching() {
		t.Errorf("WatchInterval: want 0, got %v", c.WatchInterval)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if c.TokenSource() != "" {
		t.Errorf("TokenSource: want none, got %q", c.TokenSource())
	}
	if c.ArchiveBucket != "" {
		t.Errorf("ArchiveBucket: want empty, got %q", c.ArchiveBucket)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-log-level=debug",
		"-api-base-url=https://api.example.com/v1/",
		"-request-timeout=3s",
		"-rate-limit=2.5",
		"-rate-burst=4",
		"-token-ssm-param=/app/console/token",
		"-method=POST",
		"-path=posts",
		`-body={"title":"hello"}`,
		"-watch=30s",
		"-archive-s3-bucket=console-archive",
	})

	if c.LogJSON {
		t.Error("LogJSON: want false")
	}
	if c.APIBaseURL != "https://api.example.com/v1/" {
		t.Errorf("APIBaseURL = %q", c.APIBaseURL)
	}
	if c.RequestTimeout != 3*time.Second {
		t.Errorf("RequestTimeout = %v, want 3s", c.RequestTimeout)
	}
	if c.RateLimit != 2.5 || c.RateBurst != 4 {
		t.Errorf("rate = %v/%d, want 2.5/4", c.RateLimit, c.RateBurst)
	}
	if c.TokenSource() != "ssm" {
		t.Errorf("TokenSource = %q, want ssm", c.TokenSource())
	}
	if c.Method != "POST" || c.Path != "posts" || c.Body != `{"title":"hello"}` {
		t.Errorf("request = %s %s %s", c.Method, c.Path, c.Body)
	}
	if !c.Watching() {
		t.Error("Watching: want true")
	}
	if c.ArchiveBucket != "console-archive" {
		t.Errorf("ArchiveBucket = %q", c.ArchiveBucket)
	}
}

func TestTokenSource(t *testing.T) {
	tests := []struct {
		name string
		c    App
		want string
	}{
		{"none", App{}, ""},
		{"static", App{Token: "abc"}, "static"},
		{"ssm", App{TokenSSMParam: "/p"}, "ssm"},
		{"kms", App{TokenKMSCiphertext: "AQID"}, "kms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.TokenSource(); got != tt.want {
				t.Fatalf("TokenSource() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_JSON", "false")
	t.Setenv(pfx+"LOG_LEVEL", "debug")
	t.Setenv(pfx+"API_BASE_URL", "https://api.example.com")
	t.Setenv(pfx+"REQUEST_TIMEOUT", "2s")
	t.Setenv(pfx+"TOKEN_KMS_CIPHERTEXT", "AQIDBA==")
	t.Setenv(pfx+"PATH", "posts/42")
	t.Setenv(pfx+"WATCH", "1m")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogJSON {
		t.Error("LogJSON: want false from env")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.APIBaseURL != "https://api.example.com" {
		t.Errorf("APIBaseURL = %q", c.APIBaseURL)
	}
	if c.RequestTimeout != 2*time.Second {
		t.Errorf("RequestTimeout = %v, want 2s", c.RequestTimeout)
	}
	if c.TokenSource() != "kms" {
		t.Errorf("TokenSource = %q, want kms", c.TokenSource())
	}
	if c.Path != "posts/42" {
		t.Errorf("Path = %q", c.Path)
	}
	if c.WatchInterval != time.Minute {
		t.Errorf("WatchInterval = %v, want 1m", c.WatchInterval)
	}
	if c.TraceSample != 0.25 {
		t.Errorf("TraceSample: want 0.25, got %f", c.TraceSample)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"METHOD", "DELETE")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"TOKEN", "from-env-secret")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-method=GET", "-log-level=debug", "-token=from-cli"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	if c.Method != "GET" {
		t.Errorf("Method: want GET (cli), got %q", c.Method)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q (cli), got %q", "debug", c.LogLevel)
	}
	if c.Token != "from-cli" {
		t.Errorf("Token: want cli value, got %q", c.Token)
	}

	if len(overrideMessages) != 3 {
		t.Errorf("expected 3 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
		if strings.Contains(msg, "from-env-secret") {
			t.Errorf("override message leaks env value: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"RATE_BURST", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	if c.RateBurst != 10 {
		t.Errorf("RateBurst: want 10 (default), got %d", c.RateBurst)
	}
	if len(logMessages) != 1 {
		t.Fatalf("expected 1 log message, got %d: %v", len(logMessages), logMessages)
	}
	if !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Errorf("unexpected log message: %s", logMessages[0])
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "TESTCFG4_PATH=posts\nTESTCFG4_METHOD=POST\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TESTCFG4_METHOD", "PATCH")
	t.Cleanup(func() { os.Unsetenv("TESTCFG4_PATH") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("TESTCFG4_PATH"); got != "posts" {
		t.Errorf("TESTCFG4_PATH = %q, want posts", got)
	}
	// real environment wins
	if got := os.Getenv("TESTCFG4_METHOD"); got != "PATCH" {
		t.Errorf("TESTCFG4_METHOD = %q, want PATCH", got)
	}
}

func TestLoadDotEnv_MissingFileIsNotAnError(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadDotEnv missing: %v", err)
	}
	if err := LoadDotEnv(""); err != nil {
		t.Fatalf("LoadDotEnv empty path: %v", err)
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-path=posts",
		"-token-ssm-param=/app/console/token",
		"-watch=30s",
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
		"-archive-s3-bucket=console-archive",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-api-base-url=/relative",
		"-request-timeout=0s",
		"-rate-limit=0",
		"-rate-burst=0",
		"-method=TRACE",
		"-body={not json",
		"-token=abc",
		"-token-ssm-param=/p",
		"-watch=10s",
		"-admin-port=70000",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-max-error-links=0",
		"-archive-s3-bucket=b",
		"-archive-s3-prefix=",
	})

	err := Validate(c)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	wantErrContains(t, err, "invalid LOG_LEVEL")
	wantErrContains(t, err, "invalid STACKTRACE_LEVEL")
	wantErrContains(t, err, "API_BASE_URL must be an absolute URL")
	wantErrContains(t, err, "invalid REQUEST_TIMEOUT")
	wantErrContains(t, err, "invalid RATE_LIMIT")
	wantErrContains(t, err, "invalid RATE_BURST")
	wantErrContains(t, err, "invalid METHOD")
	wantErrContains(t, err, "PATH is required")
	wantErrContains(t, err, "BODY must be valid JSON")
	wantErrContains(t, err, "at most one of TOKEN")
	wantErrContains(t, err, "invalid ADMIN_PORT")
	wantErrContains(t, err, "invalid TRACE_SAMPLE")
	wantErrContains(t, err, "PYRO_SERVER must be a URL")
	wantErrContains(t, err, "OTLP_ENDPOINT must be host:port")
	wantErrContains(t, err, "MAX_ERROR_LINKS")
	wantErrContains(t, err, "ARCHIVE_S3_PREFIX is required")
}

func TestValidate_AdminPortIgnoredForOneShot(t *testing.T) {
	c := newTestConfig(t, []string{"-path=posts", "-admin-port=0"})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
