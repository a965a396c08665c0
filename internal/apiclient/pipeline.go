package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-console/internal/log"
	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// Doer is the transport a Pipeline dispatches through. *http.Client
// satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// StatusListener reacts to one exact status code, e.g. 401 ending the session.
type StatusListener func(ctx context.Context, resp *Response)

// ErrorHandler is invoked for responses in 400..599.
type ErrorHandler func(ctx context.Context, resp *Response)

// Recorder receives per-call measurements. metrics.ClientMetrics implements it.
type Recorder interface {
	ObserveResponse(method, endpoint string, status int, d time.Duration)
	ObserveTransportError(method, endpoint string, timeout bool)
	ObserveHook(hook string, status int)
}

type Options struct {
	// Client dispatches requests. Defaults to a plain *http.Client.
	Client Doer

	// BaseURL resolves relative Endpoint.To values.
	BaseURL string

	// UserAgent is sent on every request when set.
	UserAgent string

	// DefaultErrorHandler replaces the logging handler used when a call has
	// no OnError.
	DefaultErrorHandler ErrorHandler

	// RedactParams are query parameters masked in TransportError URLs.
	RedactParams []string

	Logger   log.Logger
	Recorder Recorder
}

// RequestDescriptor is the diagnostic snapshot of the most recent call.
type RequestDescriptor struct {
	Endpoint Endpoint
	Body     any
	Options  RequestOptions
	Status   int
	At       time.Time
}

// pipelineConfig is replaced wholesale, never mutated, so a Send can hold
// it for the whole call without locking.
type pipelineConfig struct {
	middleware []Middleware
	listeners  map[int]StatusListener
}

// Pipeline builds, dispatches and interprets requests. It is safe for
// concurrent use; configure it once with SetMiddleware and On.
type Pipeline struct {
	client     Doer
	base       *url.URL
	userAgent  string
	defaultErr ErrorHandler
	redact     []string
	logger     log.Logger
	rec        Recorder

	mu  sync.RWMutex
	cfg *pipelineConfig

	recentMu sync.Mutex
	recent   RequestDescriptor
}

// New returns a Pipeline. An unparsable BaseURL is reported as an error.
func New(opts Options) (*Pipeline, error) {
	p := &Pipeline{
		client:     opts.Client,
		userAgent:  opts.UserAgent,
		defaultErr: opts.DefaultErrorHandler,
		redact:     append([]string(nil), opts.RedactParams...),
		logger:     opts.Logger,
		rec:        opts.Recorder,
		cfg:        &pipelineConfig{listeners: map[int]StatusListener{}},
	}
	if p.client == nil {
		p.client = &http.Client{}
	}
	if p.logger == nil {
		p.logger = log.Nop()
	}
	if p.defaultErr == nil {
		p.defaultErr = p.logErrorResponse
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, xerrors.Wrapf(err, "parse base url %q", opts.BaseURL)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, xerrors.Newf("base url %q must be absolute", opts.BaseURL)
		}
		p.base = u
	}
	return p, nil
}

// SetMiddleware replaces the middleware chain. It does not append: only the
// chain from the latest call runs on subsequent sends.
func (p *Pipeline) SetMiddleware(mws ...Middleware) {
	chain := append([]Middleware(nil), mws...)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = &pipelineConfig{middleware: chain, listeners: p.cfg.listeners}
}

// On registers cb for the exact status code, replacing any earlier listener.
func (p *Pipeline) On(status int, cb StatusListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := make(map[int]StatusListener, len(p.cfg.listeners)+1)
	for k, v := range p.cfg.listeners {
		next[k] = v
	}
	if cb == nil {
		delete(next, status)
	} else {
		next[status] = cb
	}
	p.cfg = &pipelineConfig{middleware: p.cfg.middleware, listeners: next}
}

// Off removes the listener for status.
func (p *Pipeline) Off(status int) { p.On(status, nil) }

func (p *Pipeline) config() *pipelineConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Request starts a call. Nothing happens until Send.
func (p *Pipeline) Request(ep Endpoint, opts RequestOptions) *Call {
	return &Call{p: p, ep: ep, opts: opts}
}

// Recent returns the snapshot of the most recently settled call.
func (p *Pipeline) Recent() RequestDescriptor {
	p.recentMu.Lock()
	defer p.recentMu.Unlock()
	return p.recent
}

func (p *Pipeline) setRecent(d RequestDescriptor) {
	p.recentMu.Lock()
	p.recent = d
	p.recentMu.Unlock()
}

// resolve turns Endpoint.To into an absolute URL.
func (p *Pipeline) resolve(to string) (*url.URL, error) {
	u, err := url.Parse(to)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse endpoint %q", to)
	}
	if !u.IsAbs() && p.base != nil {
		u = p.base.ResolveReference(u)
	}
	return u, nil
}

// redactURL renders u with the RedactParams values and any userinfo
// password masked.
func (p *Pipeline) redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	if len(p.redact) > 0 && c.RawQuery != "" {
		q := c.Query()
		for _, k := range p.redact {
			if q.Has(k) {
				q.Set(k, "REDACTED")
			}
		}
		c.RawQuery = q.Encode()
	}
	return c.Redacted()
}

// transportError wraps err for a request to u. *url.Error repeats the full
// URL in its message, so its URL is masked the same way.
func (p *Pipeline) transportError(method string, u *url.URL, err error) *TransportError {
	safe := p.redactURL(u)
	var ue *url.Error
	if errors.As(err, &ue) {
		err = &url.Error{Op: ue.Op, URL: safe, Err: ue.Err}
	}
	return &TransportError{Method: method, URL: safe, Err: err}
}

// logErrorResponse is the default ErrorHandler.
func (p *Pipeline) logErrorResponse(ctx context.Context, resp *Response) {
	kv := []any{
		"http.request.method", resp.Method,
		"url.path", resp.URL.Path,
		"http.response.status_code", resp.Status,
	}
	if resp.Class() == StatusServerError {
		p.logger.Error(ctx, xerrors.Newf("server error %d", resp.Status), "api request failed", kv...)
		return
	}
	p.logger.Warn(ctx, "api request rejected", kv...)
}
