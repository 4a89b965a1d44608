package connect

import "errors"

var (
	ErrInvalidCredentials = errors.New("connect: invalid credentials")
	ErrInvalidTTL         = errors.New("connect: invalid token ttl")
	ErrInvalidClaim       = errors.New("connect: invalid claim")
	ErrEncoding           = errors.New("connect: claims encoding failed")
	ErrMalformedToken     = errors.New("connect: malformed token")
	ErrInvalidSignature   = errors.New("connect: invalid signature")
	ErrInvalidIssuer      = errors.New("connect: issuer mismatch")
	ErrInvalidAudience    = errors.New("connect: audience mismatch")
	ErrTokenExpired       = errors.New("connect: token expired")
	ErrTokenNotYetValid   = errors.New("connect: token not yet valid")
	ErrRequestMismatch    = errors.New("connect: request does not match qsh claim")
	ErrIssuerNotFound     = errors.New("connect: issuer not found")
	ErrNoToken            = errors.New("connect: no token in request")
)
