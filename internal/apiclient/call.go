package apiclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

const tracerName = "linnemanlabs/apiclient"

// Call is one configured request. Set OnError before Send; a Call may be
// sent more than once, each Send builds a fresh Bag.
type Call struct {
	p    *Pipeline
	ep   Endpoint
	opts RequestOptions
}

// OnError sets the handler for 4xx/5xx responses of this call.
func (c *Call) OnError(h ErrorHandler) *Call {
	c.opts.OnError = h
	return c
}

// Send runs the pipeline and decodes the body into an untyped value.
// body overrides RequestOptions.Body when non-nil.
func (c *Call) Send(ctx context.Context, body any) (Result[any], error) {
	return Send[any](ctx, c, body)
}

// Send runs the pipeline for c and decodes the body into T. The error is
// non-nil only for transport failures and bodies that cannot be encoded.
func Send[T any](ctx context.Context, c *Call, body any) (Result[T], error) {
	resp, err := c.exchange(ctx, body)
	if err != nil {
		return Result[T]{}, err
	}
	return decode[T](resp), nil
}

func decode[T any](resp *Response) Result[T] {
	var v T
	if err := resp.Clone().JSON(&v); err != nil {
		return Result[T]{Fallback: &Fallback{Response: resp.Clone()}, Response: resp}
	}
	return Result[T]{Value: v, Parsed: true, Response: resp}
}

// exchange is build -> dispatch -> settle. The returned response has been
// seen by the status listener and error handler already.
func (c *Call) exchange(ctx context.Context, body any) (*Response, error) {
	p := c.p
	cfg := p.config()
	method := c.ep.method()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "apiclient "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.template", c.ep.To),
		),
	)
	defer span.End()

	sendCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	req, bag, err := c.build(sendCtx, cfg.middleware, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return nil, err
	}

	desc := RequestDescriptor{Endpoint: c.ep, Body: bag.Body, Options: c.opts, At: time.Now()}
	p.setRecent(desc)

	start := time.Now()
	resp, err := c.dispatch(req, bag)
	if err != nil {
		te := p.transportError(method, bag.URL, err)
		if p.rec != nil {
			p.rec.ObserveTransportError(method, c.ep.To, te.Timeout())
		}
		span.RecordError(te)
		span.SetStatus(codes.Error, "transport")
		p.logger.Debug(ctx, "api transport failure", "endpoint", c.ep.String(), "err", te, "timeout", te.Timeout())
		return nil, te
	}
	elapsed := time.Since(start)

	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	if resp.Class() == StatusServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.Status))
	}
	if p.rec != nil {
		p.rec.ObserveResponse(method, c.ep.To, resp.Status, elapsed)
	}
	p.logger.Debug(ctx, "api request",
		"endpoint", c.ep.String(),
		"http.response.status_code", resp.Status,
		"duration_seconds", elapsed.Seconds(),
	)

	c.settle(ctx, cfg, desc, resp)
	return resp, nil
}

// build seeds a Bag, folds the middleware over it and encodes the body.
func (c *Call) build(ctx context.Context, mws []Middleware, body any) (*http.Request, *Bag, error) {
	p := c.p
	u, err := p.resolve(c.ep.To)
	if err != nil {
		return nil, nil, err
	}
	bag := applyChain(newBag(u, c.opts, body), c.ep, mws)
	if bag.Header == nil {
		bag.Header = make(http.Header)
	}

	pl, err := encodeBody(c.ep, bag.Body)
	if err != nil {
		return nil, nil, err
	}
	var rdr io.Reader
	switch v := pl.(type) {
	case queryPayload:
		for k, vs := range v.values {
			for _, s := range vs {
				bag.Params.Add(k, s)
			}
		}
		bag.sync()
	case jsonPayload:
		rdr = bytes.NewReader(v.data)
		bag.Header.Set("Content-Type", "application/json")
	case noPayload:
	}

	req, err := http.NewRequestWithContext(ctx, c.ep.method(), bag.URL.String(), rdr)
	if err != nil {
		return nil, nil, xerrors.Wrapf(err, "new request for %s", c.ep)
	}
	for k, vs := range bag.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if p.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	return req, bag, nil
}

// dispatch issues req and reads the whole body. A failure while reading is
// a transport failure as well, and so is a response that arrives after the
// request context is done, whether or not the Doer noticed.
func (c *Call) dispatch(req *http.Request, bag *Bag) (*Response, error) {
	hresp, err := c.p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()
	raw, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, err
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	return newResponse(req.Method, bag.URL, hresp, raw), nil
}

// settle records the status, then runs the exact-status listener before
// the error handler.
func (c *Call) settle(ctx context.Context, cfg *pipelineConfig, desc RequestDescriptor, resp *Response) {
	p := c.p
	desc.Status = resp.Status
	p.setRecent(desc)

	if l := cfg.listeners[resp.Status]; l != nil {
		l(ctx, resp.Clone())
		if p.rec != nil {
			p.rec.ObserveHook("listener", resp.Status)
		}
	}

	if resp.Class().IsError() {
		h := c.opts.OnError
		if h == nil {
			h = p.defaultErr
		}
		h(ctx, resp.Clone())
		if p.rec != nil {
			p.rec.ObserveHook("error", resp.Status)
		}
	}
}
