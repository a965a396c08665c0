package container

import (
	"errors"
	"fmt"
)

var (
	// ErrCircular is returned when a factory resolves its own key, directly
	// or through other services, using the context it was given.
	ErrCircular = errors.New("circular resolution")

	// ErrAlreadyResolved is returned by Register, Provide and Supply when the
	// key already holds an instance. Instance identity never changes.
	ErrAlreadyResolved = errors.New("service already resolved")

	// ErrNoProvider is returned when a key has no factory and cannot be built
	// from its zero value.
	ErrNoProvider = errors.New("no provider registered")
)

// ConstructionError reports a factory or Init failure. The key is left
// unresolved so a later call retries.
type ConstructionError struct {
	Key string
	Err error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct %s: %v", e.Key, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }
