package container

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/keithlinneman/linnemanlabs-console/internal/log"
	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// Initializer is run once on zero-value constructed services before they are stored.
type Initializer interface {
	Init(ctx context.Context) error
}

// ResolveHook observes every Resolve call, hit or miss.
type ResolveHook func(key string, d time.Duration, err error)

type buildFunc func(ctx context.Context, c *Container) (any, error)

// entry is one registration. mu serializes construction so at most one
// instance is ever built for the key.
type entry struct {
	key string
	typ reflect.Type

	mu       sync.Mutex
	build    buildFunc
	instance any
	ready    bool
}

type Container struct {
	mu      sync.RWMutex
	entries map[reflect.Type]*entry

	hooks  []ResolveHook
	logger log.Logger
}

type Option func(*Container)

// WithLogger sets the logger used to report construction failures.
func WithLogger(l log.Logger) Option {
	return func(c *Container) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithResolveHook adds a hook called after every Resolve, e.g. to feed metrics.
func WithResolveHook(h ResolveHook) Option {
	return func(c *Container) {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
}

func New(opts ...Option) *Container {
	c := &Container{
		entries: make(map[reflect.Type]*entry),
		logger:  log.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// entryFor returns the entry for t, creating an empty one if needed.
func (c *Container) entryFor(t reflect.Type) *entry {
	c.mu.RLock()
	e, ok := c.entries[t]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[t]; ok {
		return e
	}
	e = &entry{key: typeName(t), typ: t}
	c.entries[t] = e
	return e
}

func (c *Container) lookup(t reflect.Type) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[t]
	return e, ok
}

// setBuild records a factory for t, refusing once an instance exists.
func (c *Container) setBuild(t reflect.Type, b buildFunc) (*entry, error) {
	e := c.entryFor(t)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil, xerrors.Wrapf(ErrAlreadyResolved, "register %s", e.key)
	}
	e.build = b
	return e, nil
}

// resolve returns the memoized instance for t or builds it.
func (c *Container) resolve(ctx context.Context, t reflect.Type) (inst any, err error) {
	start := time.Now()
	e, ok := c.lookup(t)
	if !ok {
		// unregistered keys only get an entry when they can be zero-value built
		if zeroValueBuild(t) == nil {
			err = &ConstructionError{Key: typeName(t), Err: ErrNoProvider}
			c.fireHooks(typeName(t), time.Since(start), err)
			return nil, err
		}
		e = c.entryFor(t)
	}
	defer func() { c.fireHooks(e.key, time.Since(start), err) }()

	if inResolution(ctx, t) {
		return nil, &ConstructionError{Key: e.key, Err: ErrCircular}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return e.instance, nil
	}
	return c.construct(withResolution(ctx, t), e)
}

// construct runs the entry's factory. Caller holds e.mu.
func (c *Container) construct(ctx context.Context, e *entry) (any, error) {
	build := e.build
	if build == nil {
		build = zeroValueBuild(e.typ)
	}
	if build == nil {
		return nil, &ConstructionError{Key: e.key, Err: ErrNoProvider}
	}

	inst, err := safeBuild(ctx, c, build)
	if err != nil {
		cerr := &ConstructionError{Key: e.key, Err: err}
		c.logger.Error(ctx, cerr, "service construction failed", "service", e.key)
		return nil, cerr
	}
	e.instance = inst
	e.ready = true
	c.logger.Debug(ctx, "service constructed", "service", e.key)
	return inst, nil
}

// safeBuild turns a panicking factory into an error.
func safeBuild(ctx context.Context, c *Container, build buildFunc) (inst any, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = xerrors.Newf("factory panicked: %v", r)
		}
	}()
	return build(ctx, c)
}

// zeroValueBuild allocates *T for struct T and runs Init when implemented.
func zeroValueBuild(t reflect.Type) buildFunc {
	if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil
	}
	return func(ctx context.Context, _ *Container) (any, error) {
		v := reflect.New(t.Elem()).Interface()
		if in, ok := v.(Initializer); ok {
			if err := in.Init(ctx); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

func (c *Container) fireHooks(key string, d time.Duration, err error) {
	for _, h := range c.hooks {
		h(key, d, err)
	}
}

// Keys lists registered service keys, sorted.
func (c *Container) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.key)
	}
	sort.Strings(out)
	return out
}

// Len is the number of keys the container has seen.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%v", t)
}

type resolvingKey struct{}

// resolution is the chain of keys being built on this context path.
type resolution struct {
	typ    reflect.Type
	parent *resolution
}

func inResolution(ctx context.Context, t reflect.Type) bool {
	r, _ := ctx.Value(resolvingKey{}).(*resolution)
	for ; r != nil; r = r.parent {
		if r.typ == t {
			return true
		}
	}
	return false
}

func withResolution(ctx context.Context, t reflect.Type) context.Context {
	parent, _ := ctx.Value(resolvingKey{}).(*resolution)
	return context.WithValue(ctx, resolvingKey{}, &resolution{typ: t, parent: parent})
}
