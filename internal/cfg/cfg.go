package cfg

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/linnemanlabs-console/internal/log"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	APIBaseURL     string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int

	TokenParam         string
	Token              string
	TokenSSMParam      string
	TokenTTL           time.Duration
	TokenKMSCiphertext string
	TokenKMSKeyID      string

	Method        string
	Path          string
	Body          string
	WatchInterval time.Duration

	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSample     float64

	ArchiveBucket string
	ArchivePrefix string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.StringVar(&c.APIBaseURL, "api-base-url", "http://127.0.0.1:8080", "publication api base url relative endpoints resolve against")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", 15*time.Second, "per-request timeout")
	fs.Float64Var(&c.RateLimit, "rate-limit", 5, "requests per second per api host")
	fs.IntVar(&c.RateBurst, "rate-burst", 10, "request burst per api host")

	fs.StringVar(&c.TokenParam, "token-param", "token", "query parameter that carries the session token")
	fs.StringVar(&c.Token, "token", "", "static session token (development only)")
	fs.StringVar(&c.TokenSSMParam, "token-ssm-param", "", "ssm parameter holding the session token")
	fs.DurationVar(&c.TokenTTL, "token-ttl", 10*time.Minute, "how long a fetched token is reused before refetching")
	fs.StringVar(&c.TokenKMSCiphertext, "token-kms-ciphertext", "", "base64 KMS ciphertext of the session token")
	fs.StringVar(&c.TokenKMSKeyID, "token-kms-key-id", "", "KMS key id or ARN for token-kms-ciphertext")

	fs.StringVar(&c.Method, "method", http.MethodGet, "request method")
	fs.StringVar(&c.Path, "path", "", "endpoint path or absolute url")
	fs.StringVar(&c.Body, "body", "", "JSON request body (query parameters for GET)")
	fs.DurationVar(&c.WatchInterval, "watch", 0, "repeat the request at this interval and serve the ops port (0 sends once)")

	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.BoolVar(&c.OTLPInsecure, "otlp-insecure", true, "plaintext gRPC to the otlp endpoint")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")

	fs.StringVar(&c.ArchiveBucket, "archive-s3-bucket", "", "s3 bucket to archive responses to (empty disables)")
	fs.StringVar(&c.ArchivePrefix, "archive-s3-prefix", "apps/linnemanlabs-console/responses", "s3 prefix (key) for archived responses")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win over the file. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s", f.Name, f.Value.String(), key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// TokenSource names the configured token source: "ssm", "kms", "static"
// or "" when requests go out unauthenticated.
func (c App) TokenSource() string {
	switch {
	case c.TokenSSMParam != "":
		return "ssm"
	case c.TokenKMSCiphertext != "":
		return "kms"
	case c.Token != "":
		return "static"
	}
	return ""
}

// Watching reports whether the request repeats and the ops port is served.
func (c App) Watching() bool { return c.WatchInterval > 0 }

var methods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// API target
	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("API_BASE_URL must be an absolute URL (got %q)", c.APIBaseURL))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid REQUEST_TIMEOUT %v (must be > 0)", c.RequestTimeout))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT %v (must be > 0)", c.RateLimit))
	}
	if c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid RATE_BURST %d (must be >= 1)", c.RateBurst))
	}

	// Request
	if !methods[strings.ToUpper(c.Method)] {
		errs = append(errs, fmt.Errorf("invalid METHOD %q", c.Method))
	}
	if c.Path == "" {
		errs = append(errs, fmt.Errorf("PATH is required"))
	}
	if c.Body != "" && !json.Valid([]byte(c.Body)) {
		errs = append(errs, fmt.Errorf("BODY must be valid JSON"))
	}
	if c.WatchInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid WATCH %v (must be >= 0)", c.WatchInterval))
	}

	// Token
	sources := 0
	for _, s := range []string{c.Token, c.TokenSSMParam, c.TokenKMSCiphertext} {
		if s != "" {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, fmt.Errorf("set at most one of TOKEN, TOKEN_SSM_PARAM, TOKEN_KMS_CIPHERTEXT"))
	}
	if sources > 0 && c.TokenParam == "" {
		errs = append(errs, fmt.Errorf("TOKEN_PARAM is required when a token source is set"))
	}
	if c.TokenSSMParam != "" && c.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("invalid TOKEN_TTL %v (must be > 0)", c.TokenTTL))
	}

	// Ops port only matters in watch mode
	if c.Watching() && (c.AdminPort < 1 || c.AdminPort > 65535) {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.ArchiveBucket != "" && c.ArchivePrefix == "" {
		errs = append(errs, fmt.Errorf("ARCHIVE_S3_PREFIX is required when ARCHIVE_S3_BUCKET is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
