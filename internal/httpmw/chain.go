package httpmw

import (
	"net/http"
)

// Chain applies middlewares so that the first middleware in the
// list is the outermost, and the last is innermost, wrapping h.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// RoundTripperFunc adapts a function into an http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Transport wraps an outbound RoundTripper.
type Transport func(http.RoundTripper) http.RoundTripper

// ChainTransport is Chain for RoundTrippers: the first middleware sees the
// request first. A nil rt uses http.DefaultTransport.
func ChainTransport(rt http.RoundTripper, mws ...Transport) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	wrapped := rt
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
