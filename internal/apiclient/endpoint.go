package apiclient

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoint is a logical request target from the endpoint catalog.
// To may be absolute or relative to Options.BaseURL.
type Endpoint struct {
	Method string
	To     string
}

func (e Endpoint) String() string { return e.method() + " " + e.To }

func (e Endpoint) method() string {
	if e.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(e.Method)
}

// IsGet reports whether the endpoint encodes its body into the query string.
func (e Endpoint) IsGet() bool { return e.method() == http.MethodGet }

// RequestOptions is per-call configuration.
type RequestOptions struct {
	// Timeout aborts the call when the transport has not completed in time.
	// Zero means no timeout beyond the caller's context.
	Timeout time.Duration

	// Params are added to the query parameters taken from Endpoint.To.
	Params url.Values

	// Body is used when Send is called with a nil body.
	Body any

	// Header is copied onto the request before middleware runs.
	Header http.Header

	// OnError handles 4xx/5xx responses for this call. Nil uses the
	// pipeline's default handler.
	OnError ErrorHandler
}
