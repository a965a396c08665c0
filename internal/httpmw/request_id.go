package httpmw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

type requestIDKey struct{}

// WithRequestID attaches a request ID to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext gets the request ID from context, or "" if none.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequestID stamps every outbound request with headerName. An ID already on
// the request or in its context is reused, otherwise a new one is generated.
// The ID is stored in the request context for the inner transports.
func RequestID(headerName string) Transport {
	if headerName == "" {
		headerName = "X-Request-Id"
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			id := r.Header.Get(headerName)
			if id == "" {
				id = RequestIDFromContext(r.Context())
			}
			if id == "" {
				id = newRequestID()
			}

			// RoundTrippers must not modify the caller's request
			r = r.Clone(WithRequestID(r.Context(), id))
			if id != "" {
				r.Header.Set(headerName, id)
			}
			return next.RoundTrip(r)
		})
	}
}

func newRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}
