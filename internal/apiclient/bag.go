package apiclient

import (
	"net/http"
	"net/url"
)

// Bag is the mutable request state threaded through middleware. A Bag is
// created for each Send and never shared between calls.
type Bag struct {
	URL    *url.URL
	Params url.Values
	Header http.Header
	Body   any
}

func newBag(u *url.URL, opts RequestOptions, body any) *Bag {
	params := u.Query()
	for k, vs := range opts.Params {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	if body == nil {
		body = opts.Body
	}
	b := &Bag{
		URL:    u,
		Params: params,
		Header: opts.Header.Clone(),
		Body:   body,
	}
	if b.Header == nil {
		b.Header = make(http.Header)
	}
	b.sync()
	return b
}

// sync rewrites the URL query from Params.
func (b *Bag) sync() {
	if b.Params == nil {
		b.Params = url.Values{}
	}
	b.URL.RawQuery = b.Params.Encode()
}

// Clone returns a deep copy of the URL, params and headers. Body is shared.
func (b *Bag) Clone() *Bag {
	u := *b.URL
	if b.URL.User != nil {
		user := *b.URL.User
		u.User = &user
	}
	params := make(url.Values, len(b.Params))
	for k, vs := range b.Params {
		params[k] = append([]string(nil), vs...)
	}
	return &Bag{URL: &u, Params: params, Header: b.Header.Clone(), Body: b.Body}
}
