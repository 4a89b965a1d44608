package connect

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ContextQSH is the fixed qsh value Atlassian puts in context tokens, which
// assert app identity without being bound to any particular request.
const ContextQSH = "context-qsh"

// Claims is the claim set carried by Connect tokens. iss, iat, exp, and qsh
// are mandatory on the wire; the rest are optional.
type Claims struct {
	Issuer    string         `json:"iss"`
	Subject   string         `json:"sub,omitempty"`
	Audience  Audience       `json:"aud,omitempty"`
	IssuedAt  int64          `json:"iat"`
	ExpiresAt int64          `json:"exp"`
	QueryHash string         `json:"qsh"`
	Context   map[string]any `json:"context,omitempty"`

	// Extra holds claims outside the named set, both caller-supplied ones
	// on issue and unrecognized ones found during verification.
	Extra map[string]any `json:"-"`
}

// reservedClaimNames are managed by the library and cannot be overridden
// through WithExtraClaim.
var reservedClaimNames = map[string]struct{}{
	"iss":     {},
	"sub":     {},
	"aud":     {},
	"iat":     {},
	"exp":     {},
	"qsh":     {},
	"context": {},
}

// encodeClaims marshals the claim set, folding Extra claims into the top
// level of the JSON object.
func encodeClaims(c Claims) ([]byte, error) {
	base, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(c.Extra) == 0 {
		return base, nil
	}

	merged := make(map[string]any, len(c.Extra)+8)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	for name, value := range c.Extra {
		merged[name] = value
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return payload, nil
}

// decodeClaims unmarshals a decoded payload and enforces the mandatory
// claims. Unknown claims are preserved in Extra.
func decodeClaims(payload []byte) (*Claims, error) {
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	if claims.Issuer == "" {
		return nil, fmt.Errorf("%w: missing iss claim", ErrMalformedToken)
	}
	if claims.IssuedAt == 0 {
		return nil, fmt.Errorf("%w: missing iat claim", ErrMalformedToken)
	}
	if claims.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: missing exp claim", ErrMalformedToken)
	}
	if claims.QueryHash == "" {
		return nil, fmt.Errorf("%w: missing qsh claim", ErrMalformedToken)
	}

	var all map[string]any
	if err := json.Unmarshal(payload, &all); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	for name := range reservedClaimNames {
		delete(all, name)
	}
	if len(all) > 0 {
		claims.Extra = all
	}

	return &claims, nil
}

// Audience holds the aud claim. Atlassian products emit it both as a single
// string and as an array of strings; this type round-trips both encodings.
type Audience []string

// Contains reports whether the audience names aud.
func (a Audience) Contains(aud string) bool {
	return slices.Contains(a, aud)
}

func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("aud is neither a string nor an array of strings")
	}
	*a = Audience(many)
	return nil
}
