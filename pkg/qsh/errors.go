package qsh

import "errors"

var (
	ErrInvalidRequest      = errors.New("qsh: invalid request descriptor")
	ErrUnsupportedEncoding = errors.New("qsh: unsupported encoding")
)
