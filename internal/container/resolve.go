package container

import (
	"context"
	"reflect"

	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// Factory builds a service. It may resolve other services through c using
// the ctx it was given.
type Factory[T any] func(ctx context.Context, c *Container) (T, error)

func keyOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func erase[T any](f Factory[T]) buildFunc {
	return func(ctx context.Context, c *Container) (any, error) {
		v, err := f(ctx, c)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Provide records a lazy factory for T. Nothing is built until Resolve.
// A later Provide for the same T replaces the factory as long as no
// instance exists yet.
func Provide[T any](c *Container, f Factory[T]) error {
	if f == nil {
		return xerrors.Newf("provide %s: nil factory", typeName(keyOf[T]()))
	}
	_, err := c.setBuild(keyOf[T](), erase(f))
	return err
}

// Register records f for T and builds the instance immediately.
func Register[T any](ctx context.Context, c *Container, f Factory[T]) (T, error) {
	var zero T
	if err := Provide(c, f); err != nil {
		return zero, err
	}
	return Resolve[T](ctx, c)
}

// Supply stores a ready-made instance for T.
func Supply[T any](c *Container, v T) error {
	e := c.entryFor(keyOf[T]())
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return xerrors.Wrapf(ErrAlreadyResolved, "supply %s", e.key)
	}
	e.instance = v
	e.ready = true
	return nil
}

// Resolve returns the single instance of T, building it on first use.
// Concurrent callers for the same T wait for one construction.
func Resolve[T any](ctx context.Context, c *Container) (T, error) {
	var zero T
	t := keyOf[T]()
	inst, err := c.resolve(ctx, t)
	if err != nil {
		return zero, err
	}
	if inst == nil {
		return zero, nil
	}
	v, ok := inst.(T)
	if !ok {
		return zero, xerrors.Newf("resolve %s: stored instance has type %T", typeName(t), inst)
	}
	return v, nil
}

// MustResolve is Resolve for wiring code that cannot continue without T.
func MustResolve[T any](ctx context.Context, c *Container) T {
	v, err := Resolve[T](ctx, c)
	if err != nil {
		panic(err)
	}
	return v
}

// Has reports whether T has a factory or an instance.
func Has[T any](c *Container) bool {
	e, ok := c.lookup(keyOf[T]())
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready || e.build != nil
}

// Resolved reports whether T already holds an instance.
func Resolved[T any](c *Container) bool {
	e, ok := c.lookup(keyOf[T]())
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}
