package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-console/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// ErrCapacity is returned for a new host when the limiter table is full.
var ErrCapacity = xerrors.New("rate limiter host capacity reached")

// waitThreshold is the smallest wait reported to OnWait.
const waitThreshold = time.Millisecond

// host tracks a single destination's limiter and last activity
type host struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged tracks whether OnFirstWait has fired; resets on eviction
	logged bool
}

// HostLimiter holds per-host limiters with background eviction.
type HostLimiter struct {
	mu    sync.Mutex
	hosts map[string]*host

	perSecond rate.Limit
	burst     int

	// ttl controls how long an idle host stays in the map before cleanup evicts it
	ttl time.Duration

	// maxHosts bounds the table; 0 disables the bound
	maxHosts int

	// OnFirstWait is called once per host the first time a request is delayed
	OnFirstWait func(host string)

	// OnWait is called for every delayed request with the time spent waiting
	OnWait func(host string, d time.Duration)

	// OnCapacity is called when a new host is refused because the table is full
	OnCapacity func()
}

type Option func(*HostLimiter)

// WithRate sets the bucket size and refill rate. WithRate(5, 10) allows 10
// requests at once, then 5 per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *HostLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

const defaultTTL = 5 * time.Minute

// WithTTL controls how long an idle host stays in the map before cleanup.
// A non-positive d keeps the default.
func WithTTL(d time.Duration) Option {
	return func(l *HostLimiter) {
		l.ttl = d
	}
}

// WithMaxHosts bounds the number of tracked hosts. 0 means unbounded.
func WithMaxHosts(n int) Option {
	return func(l *HostLimiter) {
		l.maxHosts = n
	}
}

// WithOnFirstWait sets a callback for the first delayed request per host, used for logging.
func WithOnFirstWait(fn func(host string)) Option {
	return func(l *HostLimiter) {
		l.OnFirstWait = fn
	}
}

// WithOnWait sets a callback for every delayed request, used for metrics.
func WithOnWait(fn func(host string, d time.Duration)) Option {
	return func(l *HostLimiter) {
		l.OnWait = fn
	}
}

// WithOnCapacity sets a callback for refused new hosts.
func WithOnCapacity(fn func()) Option {
	return func(l *HostLimiter) {
		l.OnCapacity = fn
	}
}

// New creates a HostLimiter and starts the background cleanup goroutine,
// which stops when ctx is done.
func New(ctx context.Context, opts ...Option) *HostLimiter {
	l := &HostLimiter{
		hosts:     make(map[string]*host),
		perSecond: 5,
		burst:     10,
		ttl:       defaultTTL,
		maxHosts:  64,
	}
	for _, o := range opts {
		o(l)
	}
	if l.ttl <= 0 {
		l.ttl = defaultTTL
	}
	go l.cleanup(ctx)
	return l
}

// limiterFor returns the limiter for name, creating it when there is room.
func (l *HostLimiter) limiterFor(name string) (*host, error) {
	l.mu.Lock()
	h, ok := l.hosts[name]
	if !ok {
		if l.maxHosts > 0 && len(l.hosts) >= l.maxHosts {
			l.mu.Unlock()
			if l.OnCapacity != nil {
				l.OnCapacity()
			}
			return nil, xerrors.Wrapf(ErrCapacity, "host %s", name)
		}
		h = &host{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.hosts[name] = h
	}
	h.lastSeen = time.Now()
	l.mu.Unlock()
	return h, nil
}

// Wait blocks until a request to name may proceed or ctx is done. A
// deadline that is too close for the next token fails immediately with
// context.DeadlineExceeded.
func (l *HostLimiter) Wait(ctx context.Context, name string) error {
	h, err := l.limiterFor(name)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := h.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if _, ok := ctx.Deadline(); ok {
			return xerrors.Wrapf(context.DeadlineExceeded, "rate limit wait for %s", name)
		}
		return xerrors.Wrapf(err, "rate limit wait for %s", name)
	}

	waited := time.Since(start)
	if waited < waitThreshold {
		return nil
	}

	l.mu.Lock()
	first := !h.logged
	h.logged = true
	l.mu.Unlock()

	// hooks run without the lock held
	if first && l.OnFirstWait != nil {
		l.OnFirstWait(name)
	}
	if l.OnWait != nil {
		l.OnWait(name, waited)
	}
	return nil
}

// Len is the number of tracked hosts.
func (l *HostLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

// cleanup periodically evicts hosts that haven't been seen within the TTL.
func (l *HostLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *HostLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, h := range l.hosts {
		if now.Sub(h.lastSeen) > l.ttl {
			delete(l.hosts, name)
		}
	}
}

// Transport delays outbound requests that are over their host's limit.
func (l *HostLimiter) Transport(next http.RoundTripper) http.RoundTripper {
	return httpmw.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if err := l.Wait(r.Context(), r.URL.Host); err != nil {
			return nil, err
		}
		return next.RoundTrip(r)
	})
}
