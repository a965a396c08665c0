package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-console/internal/apiclient"
	"github.com/keithlinneman/linnemanlabs-console/internal/archive"
	"github.com/keithlinneman/linnemanlabs-console/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-console/internal/container"
	"github.com/keithlinneman/linnemanlabs-console/internal/log"
	"github.com/keithlinneman/linnemanlabs-console/internal/probe"
	"github.com/keithlinneman/linnemanlabs-console/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// runner sends the configured request once or on an interval.
type runner struct {
	conf    cfg.App
	L       log.Logger
	p       *apiclient.Pipeline
	tokens  secrets.Source
	session *probe.Gate
	beat    *probe.Heartbeat
	arch    *archive.Archiver
	out     io.Writer
}

func newRunner(ctx context.Context, c *container.Container, out io.Writer) (*runner, error) {
	r := &runner{out: out}
	var err error
	if r.conf, err = container.Resolve[cfg.App](ctx, c); err != nil {
		return nil, err
	}
	if r.L, err = container.Resolve[log.Logger](ctx, c); err != nil {
		return nil, err
	}
	if r.p, err = container.Resolve[*apiclient.Pipeline](ctx, c); err != nil {
		return nil, err
	}
	if r.tokens, err = container.Resolve[secrets.Source](ctx, c); err != nil {
		return nil, err
	}
	if r.session, err = container.Resolve[*probe.Gate](ctx, c); err != nil {
		return nil, err
	}
	if r.beat, err = container.Resolve[*probe.Heartbeat](ctx, c); err != nil {
		return nil, err
	}
	if container.Has[*archive.Archiver](c) {
		if r.arch, err = container.Resolve[*archive.Archiver](ctx, c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *runner) endpoint() apiclient.Endpoint {
	return apiclient.Endpoint{Method: r.conf.Method, To: r.conf.Path}
}

func (r *runner) body() (any, error) {
	if r.conf.Body == "" {
		return nil, nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader([]byte(r.conf.Body)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, xerrors.Wrap(err, "decode request body")
	}
	return v, nil
}

// once sends the request, prints the outcome and archives it. A 4xx/5xx
// is reported as an error after the pipeline's handlers have run.
func (r *runner) once(ctx context.Context) error {
	if r.conf.TokenSource() != "" {
		if _, err := r.tokens.Token(ctx); err != nil {
			return xerrors.Wrap(err, "fetch api token")
		}
	}
	body, err := r.body()
	if err != nil {
		return err
	}

	ep := r.endpoint()
	res, err := r.p.Request(ep, apiclient.RequestOptions{Timeout: r.conf.RequestTimeout}).Send(ctx, body)
	if err != nil {
		return err
	}
	if res.OK() {
		r.beat.Beat()
	}
	if res.Status() != http.StatusUnauthorized {
		r.session.Open()
	}

	if err := r.print(res); err != nil {
		return err
	}
	r.archive(ctx, res.Response)

	if !res.OK() {
		return xerrors.Newf("%s returned %d", ep, res.Status())
	}
	return nil
}

func (r *runner) print(res apiclient.Result[any]) error {
	if !res.Parsed {
		_, err := fmt.Fprintln(r.out, res.Fallback.Response.Text())
		return err
	}
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Value)
}

func (r *runner) archive(ctx context.Context, resp *apiclient.Response) {
	if r.arch == nil {
		return
	}
	key, err := r.arch.Put(ctx, r.arch.NewRecord(r.p.Recent(), resp))
	if err != nil {
		r.L.Error(ctx, err, "archive response failed")
		return
	}
	r.L.Debug(ctx, "archived response", "key", key)
}

// watch repeats once until ctx is done. Failures are logged, not fatal.
func (r *runner) watch(ctx context.Context) {
	t := time.NewTicker(r.conf.WatchInterval)
	defer t.Stop()
	for {
		if err := r.once(ctx); err != nil && ctx.Err() == nil {
			r.L.Warn(ctx, "watch request failed", "endpoint", r.endpoint().String(), "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// status is served on the ops port.
func (r *runner) status(context.Context) any {
	recent := r.p.Recent()
	out := map[string]any{
		"endpoint":        recent.Endpoint.String(),
		"last_status":     recent.Status,
		"session_expired": r.session.IsClosed(),
	}
	if !recent.At.IsZero() {
		out["last_request_at"] = recent.At.UTC()
	}
	if last := r.beat.Last(); !last.IsZero() {
		out["last_response_at"] = last.UTC()
	}
	return out
}
