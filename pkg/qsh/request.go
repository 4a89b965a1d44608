package qsh

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Param is a single decoded query parameter. Repeated parameters appear as
// separate entries sharing the same Key.
type Param struct {
	Key   string
	Value string
}

// Request describes the parts of an HTTP request that feed the canonical
// request string. Path is kept in wire form (possibly percent-encoded);
// Params hold decoded key/value pairs.
type Request struct {
	Method string
	Path   string
	Params []Param
}

// NewRequest builds a request descriptor from parts. Params are treated as
// already decoded and are escaped during canonicalization.
func NewRequest(method, path string, params ...Param) Request {
	return Request{Method: method, Path: path, Params: params}
}

// ParseRequestURI builds a request descriptor from a method and a raw URL,
// absolute or path-only. The query string is parsed strictly: malformed
// percent escapes and semicolon separators fail instead of being guessed at.
func ParseRequestURI(method, rawURL string) (Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		var esc url.EscapeError
		if errors.As(err, &esc) {
			return Request{}, fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)
		}
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	params, err := parseQuery(u.RawQuery)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: method, Path: u.EscapedPath(), Params: params}, nil
}

// FromHTTPRequest builds a request descriptor from an *http.Request using
// the wire form of its path and query. Use it on the receiving side before
// verifying an incoming token.
func FromHTTPRequest(r *http.Request) (Request, error) {
	if r == nil || r.URL == nil {
		return Request{}, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}

	params, err := parseQuery(r.URL.RawQuery)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: r.Method, Path: r.URL.EscapedPath(), Params: params}, nil
}

// parseQuery splits a raw query string into decoded parameters, preserving
// duplicates and their order. Unlike url.ParseQuery it fails on the first
// malformed pair instead of silently dropping it, and it rejects semicolon
// separators outright because they have no single interpretation.
func parseQuery(rawQuery string) ([]Param, error) {
	if rawQuery == "" {
		return nil, nil
	}
	if strings.Contains(rawQuery, ";") {
		return nil, fmt.Errorf("%w: semicolon query separator", ErrUnsupportedEncoding)
	}

	var params []Param
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)
		}
		params = append(params, Param{Key: key, Value: value})
	}
	return params, nil
}
