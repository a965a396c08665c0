package apiclient

import (
	"bytes"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"

	"github.com/keithlinneman/linnemanlabs-console/internal/xerrors"
)

// payload is how a call's body travels on the wire. The variant is chosen
// by the endpoint method, never by the shape of the body.
type payload interface{ isPayload() }

// queryPayload is merged into the URL query; no request body is sent.
type queryPayload struct{ values url.Values }

// jsonPayload is sent as the request body.
type jsonPayload struct{ data []byte }

// noPayload is a non-GET call without a body.
type noPayload struct{}

func (queryPayload) isPayload() {}
func (jsonPayload) isPayload()  {}
func (noPayload) isPayload()    {}

func encodeBody(ep Endpoint, body any) (payload, error) {
	if ep.IsGet() {
		vals, err := flattenQuery(body)
		if err != nil {
			return nil, xerrors.Wrapf(err, "encode query for %s", ep)
		}
		return queryPayload{values: vals}, nil
	}
	if body == nil {
		return noPayload{}, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrapf(err, "encode json body for %s", ep)
	}
	return jsonPayload{data: data}, nil
}

// flattenQuery turns a body into query key/values. Slices become repeated
// keys, nested objects are written as compact JSON, nils are skipped.
func flattenQuery(body any) (url.Values, error) {
	out := url.Values{}
	switch v := body.(type) {
	case nil:
		return out, nil
	case url.Values:
		for k, vs := range v {
			out[k] = append(out[k], vs...)
		}
		return out, nil
	case map[string][]string:
		for k, vs := range v {
			out[k] = append(out[k], vs...)
		}
		return out, nil
	case map[string]string:
		for k, s := range v {
			out.Add(k, s)
		}
		return out, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, xerrors.Newf("query body must be an object, got %T", body)
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := addQueryValue(out, k, obj[k]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func addQueryValue(out url.Values, key string, v any) error {
	switch x := v.(type) {
	case nil:
	case string:
		out.Add(key, x)
	case json.Number:
		out.Add(key, x.String())
	case bool:
		out.Add(key, strconv.FormatBool(x))
	case []any:
		for _, el := range x {
			if err := addQueryValue(out, key, el); err != nil {
				return err
			}
		}
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return xerrors.Wrapf(err, "encode query value %q", key)
		}
		out.Add(key, string(raw))
	}
	return nil
}
