package secrets

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// Source is an API token provider. Current never blocks and returns the
// cached token, or "" when none has been fetched yet.
type Source interface {
	Token(ctx context.Context) (string, error)
	Current() string
	Invalidate()
}

// fetchFunc loads the raw token from its backing store.
type fetchFunc func(ctx context.Context) (string, error)

// cache holds one token with a TTL. Concurrent Token calls share a fetch.
type cache struct {
	name    string
	fetch   fetchFunc
	ttl     time.Duration
	now     func() time.Time
	onFetch func(err error)

	fetchMu sync.Mutex

	mu        sync.RWMutex
	token     string
	fetchedAt time.Time
}

func newCache(name string, ttl time.Duration, fetch fetchFunc, onFetch func(error)) *cache {
	return &cache{name: name, fetch: fetch, ttl: ttl, now: time.Now, onFetch: onFetch}
}

func (c *cache) fresh() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", false
	}
	if c.ttl > 0 && c.now().Sub(c.fetchedAt) >= c.ttl {
		return c.token, false
	}
	return c.token, true
}

// Token returns the cached token or fetches a new one.
func (c *cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.fresh(); ok {
		return tok, nil
	}

	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()
	// another caller may have fetched while we waited
	if tok, ok := c.fresh(); ok {
		return tok, nil
	}

	raw, err := c.fetch(ctx)
	if err == nil {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			err = xerrors.Newf("token from %s is empty", c.name)
		}
	}
	if c.onFetch != nil {
		c.onFetch(err)
	}
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = raw
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return raw, nil
}

func (c *cache) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *cache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// Static is a fixed token, for local development against a test API.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", xerrors.New("static token is empty")
	}
	return string(s), nil
}

func (s Static) Current() string { return string(s) }

func (Static) Invalidate() {}
