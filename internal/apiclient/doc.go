// Package apiclient is the console's request pipeline. It turns a logical
// Endpoint plus per-call options into an HTTP request, runs it through an
// ordered chain of request-building middleware, dispatches it and interprets
// the response.
//
// Build: a Bag is seeded from Endpoint.To (its query string becomes
// Bag.Params) and each Middleware is applied in order, (bag, endpoint) -> bag.
// The URL query is then resynchronized from Bag.Params.
//
// Body encoding depends on the method. For GET the body is flattened into
// query parameters and no payload is sent. For every other method the body
// is sent as JSON and the URL is left as the middleware built it.
//
// Interpretation, in this order:
//  1. the Recent snapshot is updated with the status code
//  2. the listener registered with On for the exact status runs
//  3. for 400..599 the call's ErrorHandler (or the default logging handler) runs
//  4. the body is decoded as JSON; if that fails the Result carries a
//     Fallback wrapping the raw Response instead of an error
//
// Only transport failures, including RequestOptions.Timeout expiry, are
// returned as errors (*TransportError). Status codes and undecodable bodies
// never fail a Send.
package apiclient
