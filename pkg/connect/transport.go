package connect

import (
	"net/http"
	"time"

	"github.com/nicholasbishop/atlassian-app-auth/pkg/qsh"
)

// AuthorizationScheme is the Authorization header scheme Connect uses. It is
// "JWT", not "Bearer".
const AuthorizationScheme = "JWT"

// AuthorizationHeader issues a token bound to req and returns the value to
// put in the Authorization header.
func AuthorizationHeader(creds Credentials, req qsh.Request, now time.Time, ttl time.Duration, opts ...TokenOption) (string, error) {
	token, err := IssueToken(creds, req, now, ttl, opts...)
	if err != nil {
		return "", err
	}
	return AuthorizationScheme + " " + token, nil
}

// Transport is an http.RoundTripper that signs every outbound request with
// a freshly issued token bound to that request.
type Transport struct {
	// Credentials sign the tokens.
	Credentials Credentials

	// TTL bounds each token's validity window. DefaultTTL when zero.
	TTL time.Duration

	// TokenOptions apply to every issued token, e.g. WithSubject to act on
	// behalf of a user.
	TokenOptions []TokenOption

	// Base performs the exchange after signing. http.DefaultTransport when
	// nil.
	Base http.RoundTripper

	// Now supplies the clock. time.Now when nil.
	Now func() time.Time
}

// RoundTrip implements http.RoundTripper. The request is cloned before the
// Authorization header is set, per the RoundTripper contract.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	descriptor, err := qsh.FromHTTPRequest(req)
	if err != nil {
		return nil, err
	}

	ttl := t.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	authorization, err := AuthorizationHeader(t.Credentials, descriptor, t.now(), ttl, t.TokenOptions...)
	if err != nil {
		return nil, err
	}

	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", authorization)
	return t.base().RoundTrip(clone)
}

// Client returns an *http.Client that signs every request through the
// transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
