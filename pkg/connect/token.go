package connect

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nicholasbishop/atlassian-app-auth/pkg/qsh"
)

// Connect tokens are always HS256. The algorithm is pinned: a header naming
// anything else, "none" included, never reaches the signature comparison.
const (
	headerType      = "JWT"
	headerAlgorithm = "HS256"
)

// DefaultTTL is the conventional lifetime of a Connect token.
const DefaultTTL = 3 * time.Minute

// header is the JOSE header of a compact token.
type header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

// TokenOption customizes the claims of a token being issued.
type TokenOption func(*tokenOptions)

type tokenOptions struct {
	subject    string
	audience   Audience
	context    map[string]any
	extra      map[string]any
	contextQSH bool
}

// WithSubject sets the sub claim, the Connect convention for acting on
// behalf of a specific user.
func WithSubject(subject string) TokenOption {
	return func(o *tokenOptions) { o.subject = subject }
}

// WithAudience sets the aud claim.
func WithAudience(audience ...string) TokenOption {
	return func(o *tokenOptions) { o.audience = Audience(audience) }
}

// WithContext sets the context claim.
func WithContext(contextClaim map[string]any) TokenOption {
	return func(o *tokenOptions) { o.context = contextClaim }
}

// WithExtraClaim adds an arbitrary top-level claim. Names managed by the
// library (iss, sub, aud, iat, exp, qsh, context) are rejected at issue
// time with ErrInvalidClaim.
func WithExtraClaim(name string, value any) TokenOption {
	return func(o *tokenOptions) {
		if o.extra == nil {
			o.extra = make(map[string]any)
		}
		o.extra[name] = value
	}
}

// WithContextQSH issues a context token: the qsh claim carries the fixed
// context-qsh literal instead of a hash of the request, so the descriptor
// passed to IssueToken is ignored.
func WithContextQSH() TokenOption {
	return func(o *tokenOptions) { o.contextQSH = true }
}

// IssueToken builds and signs a token asserting creds.Issuer's identity and
// binding it to req. The validity window runs from issuedAt to issuedAt+ttl;
// pass DefaultTTL unless the caller has a reason to deviate from the
// Connect convention.
func IssueToken(creds Credentials, req qsh.Request, issuedAt time.Time, ttl time.Duration, opts ...TokenOption) (string, error) {
	if err := creds.Valid(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be positive, got %v", ErrInvalidTTL, ttl)
	}

	var o tokenOptions
	for _, opt := range opts {
		opt(&o)
	}
	for name := range o.extra {
		if _, reserved := reservedClaimNames[name]; reserved {
			return "", fmt.Errorf("%w: %q is reserved", ErrInvalidClaim, name)
		}
	}

	hash := ContextQSH
	if !o.contextQSH {
		var err error
		if hash, err = qsh.Compute(req); err != nil {
			return "", err
		}
	}

	claims := Claims{
		Issuer:    creds.Issuer,
		Subject:   o.subject,
		Audience:  o.audience,
		IssuedAt:  issuedAt.Unix(),
		ExpiresAt: issuedAt.Add(ttl).Unix(),
		QueryHash: hash,
		Context:   o.context,
		Extra:     o.extra,
	}
	return signClaims(creds.SharedSecret, claims)
}

// VerifyOption adjusts verification behavior.
type VerifyOption func(*verifyOptions)

type verifyOptions struct {
	leeway          time.Duration
	audience        string
	checkAudience   bool
	allowContextQSH bool
}

// WithLeeway tolerates clock skew of up to d on both the iat and exp
// bounds. The default is zero: a token is rejected the second after exp.
func WithLeeway(d time.Duration) VerifyOption {
	return func(o *verifyOptions) { o.leeway = d }
}

// WithExpectedAudience requires the aud claim to contain audience.
func WithExpectedAudience(audience string) VerifyOption {
	return func(o *verifyOptions) {
		o.audience = audience
		o.checkAudience = true
	}
}

// WithContextQSHAllowed accepts context tokens, whose qsh claim is the
// fixed context-qsh literal, in place of a hash of req.
func WithContextQSHAllowed() VerifyOption {
	return func(o *verifyOptions) { o.allowContextQSH = true }
}

// VerifyToken checks token against creds and the request it arrived with,
// evaluated at the caller-supplied instant. The checks run in a fixed
// order with no partial success: structure and algorithm, then the
// signature in constant time before anything in the payload is read, then
// issuer, validity window, optional audience, and finally the qsh request
// binding. On success the full claim set is returned.
func VerifyToken(creds Credentials, token string, req qsh.Request, now time.Time, opts ...VerifyOption) (*Claims, error) {
	if err := creds.Valid(); err != nil {
		return nil, err
	}

	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := parseCompact(token)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, creds.SharedSecret)
	mac.Write([]byte(raw.signingInput))
	if subtle.ConstantTimeCompare(raw.signature, mac.Sum(nil)) != 1 {
		return nil, ErrInvalidSignature
	}

	payload, err := base64URLDecode(raw.payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	claims, err := decodeClaims(payload)
	if err != nil {
		return nil, err
	}

	if claims.Issuer != creds.Issuer {
		return nil, fmt.Errorf("%w: token issued by %q", ErrInvalidIssuer, claims.Issuer)
	}

	leeway := int64(o.leeway / time.Second)
	ts := now.Unix()
	if ts < claims.IssuedAt-leeway {
		return nil, fmt.Errorf("%w: iat %d is after %d", ErrTokenNotYetValid, claims.IssuedAt, ts)
	}
	if ts > claims.ExpiresAt+leeway {
		return nil, fmt.Errorf("%w: exp %d is before %d", ErrTokenExpired, claims.ExpiresAt, ts)
	}

	if o.checkAudience && !claims.Audience.Contains(o.audience) {
		return nil, fmt.Errorf("%w: aud claim does not contain %q", ErrInvalidAudience, o.audience)
	}

	if o.allowContextQSH && claims.QueryHash == ContextQSH {
		return claims, nil
	}
	expected, err := qsh.Compute(req)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(claims.QueryHash), []byte(expected)) != 1 {
		return nil, fmt.Errorf("%w: qsh claim does not match the request", ErrRequestMismatch)
	}

	return claims, nil
}

// PeekIssuer extracts the iss claim WITHOUT verifying the signature. The
// result is untrusted; its only legitimate use is looking up the shared
// secret for the VerifyToken call that follows.
func PeekIssuer(token string) (string, error) {
	raw, err := parseCompact(token)
	if err != nil {
		return "", err
	}

	payload, err := base64URLDecode(raw.payload)
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	var c struct {
		Issuer string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &c); err != nil {
		return "", fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	if c.Issuer == "" {
		return "", fmt.Errorf("%w: missing iss claim", ErrMalformedToken)
	}
	return c.Issuer, nil
}

// rawToken is a structurally valid compact token whose signature has not
// been checked yet.
type rawToken struct {
	signingInput string
	payload      string
	signature    []byte
}

// parseCompact splits a compact JWT and validates its header. Claims stay
// encoded; nothing beyond the header is interpreted here.
func parseCompact(token string) (rawToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return rawToken{}, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return rawToken{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(parts))
	}

	headerJSON, err := base64URLDecode(parts[0])
	if err != nil {
		return rawToken{}, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	var h header
	if err := json.Unmarshal(headerJSON, &h); err != nil {
		return rawToken{}, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	if h.Algorithm != headerAlgorithm {
		return rawToken{}, fmt.Errorf("%w: unexpected algorithm %q", ErrMalformedToken, h.Algorithm)
	}

	signature, err := base64URLDecode(parts[2])
	if err != nil {
		return rawToken{}, fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}

	return rawToken{
		signingInput: parts[0] + "." + parts[1],
		payload:      parts[1],
		signature:    signature,
	}, nil
}

// signClaims serializes the header and claims and signs them with
// HMAC-SHA256, producing the compact form.
func signClaims(secret []byte, claims Claims) (string, error) {
	headerJSON, err := json.Marshal(header{Type: headerType, Algorithm: headerAlgorithm})
	if err != nil {
		return "", fmt.Errorf("%w: header: %v", ErrEncoding, err)
	}
	payloadJSON, err := encodeClaims(claims)
	if err != nil {
		return "", err
	}

	signingInput := base64URLEncode(headerJSON) + "." + base64URLEncode(payloadJSON)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signingInput))

	return signingInput + "." + base64URLEncode(mac.Sum(nil)), nil
}

// base64URLEncode encodes data using base64url without padding, as JWS
// requires.
func base64URLEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

// base64URLDecode decodes base64url data, tolerating both padded and
// unpadded forms.
func base64URLDecode(s string) ([]byte, error) {
	if l := len(s) % 4; l > 0 {
		s += strings.Repeat("=", 4-l)
	}
	return base64.URLEncoding.DecodeString(s)
}
