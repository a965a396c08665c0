// Package archive uploads API responses to S3 so watch-mode output can be
// inspected after the fact.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/linnemanlabs-console/internal/apiclient"
	"github.com/keithlinneman/linnemanlabs-console/internal/log"
	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// s3ObjectPutter is the subset of the S3 API needed to upload records.
type s3ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Record is one archived exchange.
type Record struct {
	Method   string          `json:"method"`
	Endpoint string          `json:"endpoint"`
	URL      string          `json:"url"`
	Status   int             `json:"status"`
	At       time.Time       `json:"at"`
	Body     json.RawMessage `json:"body,omitempty"`
	RawBody  string          `json:"raw_body,omitempty"`
}

type Options struct {
	Bucket string
	Prefix string

	// RedactParams are query parameters removed from the archived URL.
	RedactParams []string

	Logger log.Logger

	// OnUpload is called after every upload attempt, e.g. for metrics.
	OnUpload func(err error)
}

type Archiver struct {
	client s3ObjectPutter
	opts   Options
	logger log.Logger
}

func New(client s3ObjectPutter, opts Options) (*Archiver, error) {
	if client == nil {
		return nil, xerrors.New("s3 client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("archive bucket is required")
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	l := opts.Logger
	if l == nil {
		l = log.Nop()
	}
	return &Archiver{client: client, opts: opts, logger: l}, nil
}

// NewRecord builds a Record from a settled call. Valid JSON bodies are
// stored as JSON, anything else as a string.
func (a *Archiver) NewRecord(desc apiclient.RequestDescriptor, resp *apiclient.Response) Record {
	rec := Record{
		Method:   resp.Method,
		Endpoint: desc.Endpoint.To,
		URL:      a.redact(resp.URL),
		Status:   resp.Status,
		At:       desc.At.UTC(),
	}
	body := resp.Bytes()
	if json.Valid(body) {
		rec.Body = body
	} else if len(body) > 0 {
		rec.RawBody = string(body)
	}
	return rec
}

func (a *Archiver) redact(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	q := c.Query()
	for _, p := range a.opts.RedactParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
		}
	}
	c.RawQuery = q.Encode()
	return c.Redacted()
}

// Key is the object key for rec: prefix/YYYY/MM/DD/<unixnano>-<method>-<status>.json
func (a *Archiver) Key(rec Record) string {
	name := fmt.Sprintf("%d-%s-%d.json", rec.At.UnixNano(), strings.ToLower(rec.Method), rec.Status)
	return path.Join(a.opts.Prefix, rec.At.Format("2006/01/02"), name)
}

// Put uploads rec and returns its key.
func (a *Archiver) Put(ctx context.Context, rec Record) (string, error) {
	key := a.Key(rec)
	data, err := json.Marshal(rec)
	if err != nil {
		return "", xerrors.Wrap(err, "encode archive record")
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		err = xerrors.Wrapf(err, "put s3://%s/%s", a.opts.Bucket, key)
	}
	if a.opts.OnUpload != nil {
		a.opts.OnUpload(err)
	}
	if err != nil {
		return "", err
	}
	a.logger.Debug(ctx, "archived api response", "bucket", a.opts.Bucket, "key", key, "status", rec.Status)
	return key, nil
}
