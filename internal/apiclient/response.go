package apiclient

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
)

// Response is a fully read HTTP response. The body is read once; every
// Clone shares the bytes and gets its own reader, so listeners, the error
// handler and the decoder each see the whole body.
type Response struct {
	Status int
	Header http.Header
	URL    *url.URL
	Method string

	body   []byte
	reader *bytes.Reader
}

func newResponse(method string, u *url.URL, resp *http.Response, body []byte) *Response {
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		URL:    u,
		Method: method,
		body:   body,
		reader: bytes.NewReader(body),
	}
}

// Clone returns an independent read-only view of r.
func (r *Response) Clone() *Response {
	u := *r.URL
	return &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
		URL:    &u,
		Method: r.Method,
		body:   r.body,
		reader: bytes.NewReader(r.body),
	}
}

// Read implements io.Reader over this view's copy of the body.
func (r *Response) Read(p []byte) (int, error) { return r.reader.Read(p) }

// Bytes returns a copy of the full body.
func (r *Response) Bytes() []byte { return append([]byte(nil), r.body...) }

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.body) }

// Class is the status band of the response.
func (r *Response) Class() StatusClass { return ClassOf(r.Status) }

// JSON decodes this view's remaining body into v.
func (r *Response) JSON(v any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errTrailingData
	}
	return nil
}

// Fallback wraps the raw response when its body is not valid JSON.
type Fallback struct {
	Response *Response
}

// Result is the outcome of a Send. Exactly one of Parsed or Fallback is set.
type Result[T any] struct {
	Value    T
	Parsed   bool
	Fallback *Fallback
	Response *Response
}

// Status is the response status code.
func (r Result[T]) Status() int {
	if r.Response == nil {
		return 0
	}
	return r.Response.Status
}

// OK reports a 2xx response.
func (r Result[T]) OK() bool { return ClassOf(r.Status()) == StatusSuccess }
