// Package qsh computes the Atlassian Connect query string hash (qsh) that
// binds a JWT to a single HTTP request.
//
// The hash is the hex-encoded SHA-256 digest of a canonical request string
// in the form METHOD&PATH&QUERY. Canonicalization follows the rules shared
// by the Atlassian reference implementations so that hashes produced here
// match the ones Jira and Confluence compute on their side byte for byte:
//
//   - the method is upper-cased
//   - the path is percent-decoded and re-encoded with the RFC 3986
//     unreserved character set, with a leading slash ensured and a single
//     trailing slash removed
//   - query parameters are percent-decoded, grouped by name, sorted, and
//     re-encoded, with repeated values joined by a comma; the reserved jwt
//     parameter never contributes to the hash
//
// # Usage
//
//	import "github.com/nicholasbishop/atlassian-app-auth/pkg/qsh"
//
//	// From parts.
//	req := qsh.NewRequest("GET", "/rest/api/3/project/search", qsh.Param{Key: "query", Value: "myproject"})
//	hash, err := qsh.Compute(req)
//
//	// From a full URL.
//	req, err := qsh.ParseRequestURI("POST", "https://example.atlassian.net/rest/api/2/issue")
//
//	// From an incoming *http.Request inside a handler.
//	req, err := qsh.FromHTTPRequest(r)
//
// # Error Handling
//
// Canonicalization never guesses. Input that cannot be decoded
// deterministically, such as malformed percent escapes or semicolon query
// separators, is rejected with ErrUnsupportedEncoding. Structurally invalid
// descriptors (nil request, empty method) are rejected with
// ErrInvalidRequest. Both are sentinel values and can be compared using
// errors.Is.
package qsh
