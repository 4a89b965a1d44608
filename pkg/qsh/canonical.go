package qsh

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// reservedParam carries the token itself on GET-style requests and is
// excluded from the canonical form, otherwise the hash would depend on the
// token that embeds it.
const reservedParam = "jwt"

// Canonicalize renders the canonical request string METHOD&PATH&QUERY used
// as the hash input. The output is deterministic: equivalent encodings of
// the same request always produce identical bytes.
func Canonicalize(r Request) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		return "", fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}

	path, err := canonicalPath(r.Path)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('&')
	b.WriteString(path)
	b.WriteByte('&')
	b.WriteString(canonicalQuery(r.Params))
	return b.String(), nil
}

// canonicalPath percent-decodes each path segment and re-encodes it with
// the unreserved set, so /a%2Fb and /a/b stay distinct while /a%20b and
// "/a b" converge. A leading slash is ensured, a single trailing slash is
// dropped, and the empty path canonicalizes to "/".
func canonicalPath(path string) (string, error) {
	if path == "" || path == "/" {
		return "/", nil
	}

	segments := strings.Split(path, "/")
	for i, segment := range segments {
		decoded, err := url.PathUnescape(segment)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)
		}
		segments[i] = escape(decoded)
	}

	canonical := strings.Join(segments, "/")
	if !strings.HasPrefix(canonical, "/") {
		canonical = "/" + canonical
	}
	if len(canonical) > 1 {
		canonical = strings.TrimSuffix(canonical, "/")
	}
	return canonical, nil
}

// canonicalQuery sorts parameters bytewise by decoded key, then by decoded
// value within each key, and re-encodes them. Repeated values are joined
// with a literal comma after escaping, which keeps the pair (a, b) distinct
// from the single value "a,b" (escaped to a%2Cb).
func canonicalQuery(params []Param) string {
	grouped := make(map[string][]string, len(params))
	keys := make([]string, 0, len(params))
	for _, p := range params {
		if p.Key == reservedParam {
			continue
		}
		if _, ok := grouped[p.Key]; !ok {
			keys = append(keys, p.Key)
		}
		grouped[p.Key] = append(grouped[p.Key], p.Value)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(key))
		b.WriteByte('=')

		values := grouped[key]
		sort.Strings(values)
		for j, value := range values {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(escape(value))
		}
	}
	return b.String()
}
