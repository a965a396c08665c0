package opshttp

import (
	"context"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-console/internal/probe"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      probe.Probe
	Readiness   probe.Probe

	// Status returns the value served as JSON on /-/status.
	Status func(ctx context.Context) any

	UseRecoverMW bool
	OnPanic      func() // optional, e.g. to increment a prometheus counter
}
