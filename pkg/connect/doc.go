// Package connect builds and verifies the JWTs exchanged between Atlassian
// cloud products and Connect apps.
//
// Every token carries a qsh claim, a SHA-256 commitment to the exact HTTP
// request it authorizes (see the sibling qsh package), alongside the usual
// iss/iat/exp claims. Tokens are always HMAC-SHA256 (HS256) signed with the
// shared secret issued to the app at installation time; no other algorithm
// is accepted, and "alg":"none" is rejected outright.
//
// The core is two free functions with an injected clock:
//
//   - IssueToken builds and signs a token bound to one request.
//   - VerifyToken checks structure, signature (constant time, before any
//     claim is inspected), issuer, validity window, optional audience, and
//     finally the request binding.
//
// Around the core sit the usual HTTP conveniences: a Transport that signs
// outbound requests, net/http middleware that verifies inbound ones,
// context helpers for the verified claims, and a CredentialsStore boundary
// for multi-tenant apps where each installation has its own shared secret.
// PeekIssuer reads the unverified iss claim so such apps can locate the
// secret before verifying.
//
// # Usage
//
//	import "github.com/nicholasbishop/atlassian-app-auth/pkg/connect"
//
//	// Sign an outbound request to Jira.
//	creds := connect.Credentials{Issuer: "com.example.app", SharedSecret: secret}
//	client := (&connect.Transport{Credentials: creds}).Client()
//	resp, err := client.Get("https://example.atlassian.net/rest/api/3/myself")
//
//	// Verify an inbound request in a handler chain.
//	store := connect.StaticCredentials(creds)
//	http.Handle("/installed", connect.Middleware(store)(yourHandler))
//
//	// Or verify by hand.
//	req, err := qsh.FromHTTPRequest(r)
//	claims, err := connect.VerifyToken(creds, token, req, time.Now())
//
// # Error Handling
//
// Failures are sentinel errors (ErrInvalidSignature, ErrTokenExpired,
// ErrRequestMismatch, ...) wrapped with detail; compare with errors.Is. The
// middleware never leaks the failure reason to the client: every rejection
// is a plain 401 with a reference id, and the detail goes to the configured
// slog.Logger.
//
// # Security Considerations
//
// Verification is all-or-nothing. The signature is checked in constant time
// before the payload is even decoded, the algorithm is pinned to HS256, and
// timestamps come from the caller-supplied clock rather than ambient time so
// policies stay testable.
package connect
