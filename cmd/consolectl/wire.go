package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-console/internal/apiclient"
	"github.com/keithlinneman/linnemanlabs-console/internal/archive"
	"github.com/keithlinneman/linnemanlabs-console/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-console/internal/container"
	"github.com/keithlinneman/linnemanlabs-console/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-console/internal/log"
	"github.com/keithlinneman/linnemanlabs-console/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-console/internal/probe"
	"github.com/keithlinneman/linnemanlabs-console/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-console/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-console/internal/version"
	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// requestIDHeader is forwarded to the content API for log correlation.
const requestIDHeader = "X-Request-Id"

// newContainer registers every console service. Nothing is built until it
// is resolved, so AWS config is only loaded when a token source or the
// archive needs it.
func newContainer(conf cfg.App, L log.Logger, m *metrics.ConsoleMetrics) (*container.Container, error) {
	c := container.New(
		container.WithLogger(L),
		container.WithResolveHook(m.ObserveResolve),
	)

	errs := []error{
		container.Supply(c, conf),
		container.Supply(c, L),
		container.Supply(c, m),

		container.Provide(c, loadAWSConfig),
		container.Provide(c, func(ctx context.Context, c *container.Container) (*ssm.Client, error) {
			ac, err := container.Resolve[aws.Config](ctx, c)
			if err != nil {
				return nil, err
			}
			return ssm.NewFromConfig(ac), nil
		}),
		container.Provide(c, func(ctx context.Context, c *container.Container) (*kms.Client, error) {
			ac, err := container.Resolve[aws.Config](ctx, c)
			if err != nil {
				return nil, err
			}
			return kms.NewFromConfig(ac), nil
		}),
		container.Provide(c, func(ctx context.Context, c *container.Container) (*s3.Client, error) {
			ac, err := container.Resolve[aws.Config](ctx, c)
			if err != nil {
				return nil, err
			}
			return s3.NewFromConfig(ac), nil
		}),

		container.Provide(c, newTokenSource),
		container.Provide(c, newHostLimiter),
		container.Provide(c, newHTTPClient),
		container.Provide(c, newPipeline),
	}
	if conf.ArchiveBucket != "" {
		errs = append(errs, container.Provide(c, newArchiver))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func loadAWSConfig(ctx context.Context, _ *container.Container) (aws.Config, error) {
	// bounded so a missing imds endpoint cannot hang startup
	lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ac, err := config.LoadDefaultConfig(lctx)
	if err != nil {
		return aws.Config{}, xerrors.Wrap(err, "load aws config")
	}
	return ac, nil
}

// newTokenSource picks the configured token backend. Without one requests
// go out unauthenticated and the source always reports "".
func newTokenSource(ctx context.Context, c *container.Container) (secrets.Source, error) {
	conf, err := container.Resolve[cfg.App](ctx, c)
	if err != nil {
		return nil, err
	}
	m, err := container.Resolve[*metrics.ConsoleMetrics](ctx, c)
	if err != nil {
		return nil, err
	}
	kind := conf.TokenSource()
	onFetch := func(err error) { m.IncTokenFetch(kind, err) }

	switch kind {
	case "ssm":
		client, err := container.Resolve[*ssm.Client](ctx, c)
		if err != nil {
			return nil, err
		}
		return secrets.NewSSMToken(client, conf.TokenSSMParam, conf.TokenTTL, onFetch), nil
	case "kms":
		client, err := container.Resolve[*kms.Client](ctx, c)
		if err != nil {
			return nil, err
		}
		return secrets.NewKMSToken(client, conf.TokenKMSKeyID, conf.TokenKMSCiphertext, onFetch), nil
	}
	return secrets.Static(conf.Token), nil
}

func newHostLimiter(ctx context.Context, c *container.Container) (*ratelimit.HostLimiter, error) {
	conf, err := container.Resolve[cfg.App](ctx, c)
	if err != nil {
		return nil, err
	}
	L, err := container.Resolve[log.Logger](ctx, c)
	if err != nil {
		return nil, err
	}
	m, err := container.Resolve[*metrics.ConsoleMetrics](ctx, c)
	if err != nil {
		return nil, err
	}
	// cleanup runs for the life of the process, not the resolve call
	return ratelimit.New(context.WithoutCancel(ctx),
		ratelimit.WithRate(conf.RateLimit, conf.RateBurst),
		ratelimit.WithOnWait(func(_ string, d time.Duration) {
			m.ObserveRateLimitWait(d)
		}),
		// only log the first wait per host until it is evicted
		ratelimit.WithOnFirstWait(func(host string) {
			L.Info(ctx, "api rate limit engaged", "server.address", host)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit host table full, rejecting new hosts until some are evicted")
		}),
	), nil
}

// newHTTPClient builds the outbound transport chain. Order matters: the
// request id is set before the span starts, and the limiter sits closest
// to the wire so waiting is not counted as round-trip time.
func newHTTPClient(ctx context.Context, c *container.Container) (*http.Client, error) {
	L, err := container.Resolve[log.Logger](ctx, c)
	if err != nil {
		return nil, err
	}
	m, err := container.Resolve[*metrics.ConsoleMetrics](ctx, c)
	if err != nil {
		return nil, err
	}
	limiter, err := container.Resolve[*ratelimit.HostLimiter](ctx, c)
	if err != nil {
		return nil, err
	}
	rt := httpmw.ChainTransport(nil,
		httpmw.RequestID(requestIDHeader),
		httpmw.Trace(),
		m.Transport,
		httpmw.AccessLog(L),
		limiter.Transport,
	)
	return &http.Client{Transport: rt}, nil
}

// newPipeline wires the api client: the session token rides on every call
// as a query parameter and a 401 ends the session.
func newPipeline(ctx context.Context, c *container.Container) (*apiclient.Pipeline, error) {
	conf, err := container.Resolve[cfg.App](ctx, c)
	if err != nil {
		return nil, err
	}
	L, err := container.Resolve[log.Logger](ctx, c)
	if err != nil {
		return nil, err
	}
	m, err := container.Resolve[*metrics.ConsoleMetrics](ctx, c)
	if err != nil {
		return nil, err
	}
	hc, err := container.Resolve[*http.Client](ctx, c)
	if err != nil {
		return nil, err
	}
	tokens, err := container.Resolve[secrets.Source](ctx, c)
	if err != nil {
		return nil, err
	}
	session, err := container.Resolve[*probe.Gate](ctx, c)
	if err != nil {
		return nil, err
	}

	p, err := apiclient.New(apiclient.Options{
		Client:    hc,
		BaseURL:   conf.APIBaseURL,
		UserAgent: version.Get().UserAgent(),
		Logger:    L,
		Recorder:  m,

		RedactParams: []string{conf.TokenParam},
	})
	if err != nil {
		return nil, err
	}

	if conf.TokenSource() != "" {
		p.SetMiddleware(apiclient.SetParam(conf.TokenParam, tokens.Current))
	}
	p.On(http.StatusUnauthorized, func(ctx context.Context, resp *apiclient.Response) {
		L.Warn(ctx, "api session expired",
			"http.request.method", resp.Method,
			"url.path", resp.URL.Path,
		)
		m.IncSessionExpired()
		tokens.Invalidate()
		session.Close("session expired")
	})
	return p, nil
}

func newArchiver(ctx context.Context, c *container.Container) (*archive.Archiver, error) {
	conf, err := container.Resolve[cfg.App](ctx, c)
	if err != nil {
		return nil, err
	}
	L, err := container.Resolve[log.Logger](ctx, c)
	if err != nil {
		return nil, err
	}
	m, err := container.Resolve[*metrics.ConsoleMetrics](ctx, c)
	if err != nil {
		return nil, err
	}
	client, err := container.Resolve[*s3.Client](ctx, c)
	if err != nil {
		return nil, err
	}
	return archive.New(client, archive.Options{
		Bucket:       conf.ArchiveBucket,
		Prefix:       conf.ArchivePrefix,
		RedactParams: []string{conf.TokenParam},
		Logger:       L,
		OnUpload:     m.IncArchiveUpload,
	})
}
