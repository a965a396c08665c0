// Package ratelimit throttles the console's outbound API traffic with a
// token bucket per destination host.
//
// Requests over the limit are delayed, not rejected: the transport waits
// for a token until the request context expires. Limiters for hosts that
// go idle are evicted in the background.
package ratelimit
