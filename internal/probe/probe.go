package probe

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// Probe is evaluated at request time
// nil = OK non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// Func adapts a function into a Probe.
type Func func(context.Context) error

func (f Func) Check(ctx context.Context) error { return f(ctx) }

// Static returns a probe that always returns ok or fails with the given reason
func Static(ok bool, reason string) Func {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// Multi is AND: passes only if all probes pass; returns the first error.
func Multi(ps ...Probe) Func {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any is OR: passes if any probe passes; otherwise returns the last error (or a generic one).
func Any(ps ...Probe) Func {
	return func(ctx context.Context) error {
		var last error
		ok := false
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				last = err
			} else {
				ok = true
			}
		}
		if ok {
			return nil
		}
		if last != nil {
			return last
		}
		return xerrors.New("no healthy probes")
	}
}

// Gate fails readiness while closed. The console closes one gate on
// shutdown and another when the API session expires.
type Gate struct {
	closed atomic.Bool
	reason atomic.Value
}

func (g *Gate) Close(reason string) {
	g.reason.Store(reason)
	g.closed.Store(true)
}

func (g *Gate) Open() {
	g.closed.Store(false)
	g.reason.Store("")
}

func (g *Gate) IsClosed() bool { return g.closed.Load() }

func (g *Gate) Probe() Func {
	return func(context.Context) error {
		if !g.closed.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "closed"
		}
		return xerrors.New(r)
	}
}

// Heartbeat records the last successful exchange with the API.
type Heartbeat struct {
	last atomic.Int64
	now  func() time.Time
}

func (h *Heartbeat) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// Beat marks a successful exchange.
func (h *Heartbeat) Beat() { h.last.Store(h.clock().UnixNano()) }

// Last is the time of the last Beat, zero if none.
func (h *Heartbeat) Last() time.Time {
	n := h.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Probe fails until the first Beat and whenever the last one is older than maxAge.
func (h *Heartbeat) Probe(maxAge time.Duration) Func {
	return func(context.Context) error {
		last := h.Last()
		if last.IsZero() {
			return xerrors.New("no successful api exchange yet")
		}
		if age := h.clock().Sub(last); age > maxAge {
			return xerrors.Newf("last successful api exchange %s ago", age.Round(time.Second))
		}
		return nil
	}
}
