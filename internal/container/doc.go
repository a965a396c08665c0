// Package container is the console's service registry: one lazily built,
// memoized instance per Go type.
//
// Services are keyed by type identity, so a *apiclient.Pipeline and an
// apiclient.Recorder interface are distinct keys even if one value
// satisfies both.
//
//	c := container.New(container.WithLogger(L))
//	container.Provide(c, func(ctx context.Context, c *container.Container) (*apiclient.Pipeline, error) {
//	    return apiclient.New(apiclient.Options{Logger: L}), nil
//	})
//	p, err := container.Resolve[*apiclient.Pipeline](ctx, c)
//
// A type with no registered factory that is a pointer to a struct is built
// from its zero value; if it implements Initializer, Init runs before the
// instance is stored. A failed construction is never memoized, the next
// Resolve starts over. There is no teardown: instances live as long as the
// Container.
package container
