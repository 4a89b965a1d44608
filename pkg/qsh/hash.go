package qsh

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the lowercase hex SHA-256 digest of a canonical request
// string.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Compute canonicalizes the request and hashes the result, yielding the
// value carried in the qsh claim.
func Compute(r Request) (string, error) {
	canonical, err := Canonicalize(r)
	if err != nil {
		return "", err
	}
	return Hash(canonical), nil
}
