package connect_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicholasbishop/atlassian-app-auth/pkg/connect"
	"github.com/nicholasbishop/atlassian-app-auth/pkg/qsh"
)

var testCreds = connect.Credentials{
	Issuer:       "com.example.app",
	SharedSecret: []byte("s3cr3t-shared"),
}

var (
	testIssuedAt = time.Unix(1700000000, 0)
	testRequest  = qsh.NewRequest("GET", "/rest/api/3/project/search", qsh.Param{Key: "query", Value: "myproject"})
)

// issue signs a token for the shared test fixtures.
func issue(t *testing.T, opts ...connect.TokenOption) string {
	t.Helper()
	token, err := connect.IssueToken(testCreds, testRequest, testIssuedAt, connect.DefaultTTL, opts...)
	require.NoError(t, err)
	return token
}

// signRaw assembles a correctly signed compact token around an arbitrary
// payload, for exercising the verifier against payloads IssueToken would
// never produce.
func signRaw(t *testing.T, secret []byte, payloadJSON string) string {
	t.Helper()

	signingInput := base64.RawURLEncoding.EncodeToString([]byte(`{"typ":"JWT","alg":"HS256"}`)) +
		"." + base64.RawURLEncoding.EncodeToString([]byte(payloadJSON))
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signingInput))

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestIssueToken(t *testing.T) {
	t.Parallel()

	t.Run("produces the reference compact form", func(t *testing.T) {
		// Full-token fixture pinning the wire format: header field order,
		// claim order, unpadded base64url, HMAC-SHA256.
		const want = "eyJ0eXAiOiJKV1QiLCJhbGciOiJIUzI1NiJ9." +
			"eyJpc3MiOiJjb20uZXhhbXBsZS5hcHAiLCJpYXQiOjE3MDAwMDAwMDAsImV4cCI6MTcwMDAwMDE4MCwicXNoIjoiMjlkZjM1ZDQxYWZjYzYxZDMyMmViYTA5MDI4NmJmOTZiNDJmYTNkN2I1YjVkMWQyZDI2MTA4M2QxY2VmZDdmZSJ9." +
			"IWC--Rkv-w6SAVQte0jMuaWc1KiEyvr1VgBEuBxXM9k"

		token := issue(t)
		assert.Equal(t, want, token)
	})

	t.Run("round trips through verification", func(t *testing.T) {
		token := issue(t)

		claims, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt)
		require.NoError(t, err)
		assert.Equal(t, testCreds.Issuer, claims.Issuer)
		assert.Equal(t, testIssuedAt.Unix(), claims.IssuedAt)
		assert.Equal(t, testIssuedAt.Add(connect.DefaultTTL).Unix(), claims.ExpiresAt)
		assert.Equal(t, "29df35d41afcc61d322eba090286bf96b42fa3d7b5b5d1d2d261083d1cefd7fe", claims.QueryHash)
	})

	t.Run("rejects invalid credentials", func(t *testing.T) {
		_, err := connect.IssueToken(connect.Credentials{}, testRequest, testIssuedAt, connect.DefaultTTL)
		require.ErrorIs(t, err, connect.ErrInvalidCredentials)

		_, err = connect.IssueToken(connect.Credentials{Issuer: "x"}, testRequest, testIssuedAt, connect.DefaultTTL)
		require.ErrorIs(t, err, connect.ErrInvalidCredentials)
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		_, err := connect.IssueToken(testCreds, testRequest, testIssuedAt, 0)
		require.ErrorIs(t, err, connect.ErrInvalidTTL)

		_, err = connect.IssueToken(testCreds, testRequest, testIssuedAt, -time.Second)
		require.ErrorIs(t, err, connect.ErrInvalidTTL)
	})

	t.Run("propagates canonicalization failures", func(t *testing.T) {
		_, err := connect.IssueToken(testCreds, qsh.NewRequest("", "/x"), testIssuedAt, connect.DefaultTTL)
		require.ErrorIs(t, err, qsh.ErrInvalidRequest)
	})

	t.Run("with subject and audience", func(t *testing.T) {
		token := issue(t, connect.WithSubject("user-123"), connect.WithAudience("jira", "confluence"))

		claims, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt)
		require.NoError(t, err)
		assert.Equal(t, "user-123", claims.Subject)
		assert.Equal(t, connect.Audience{"jira", "confluence"}, claims.Audience)
	})

	t.Run("with context claim", func(t *testing.T) {
		token := issue(t, connect.WithContext(map[string]any{"user": map[string]any{"accountId": "abc"}}))

		claims, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt)
		require.NoError(t, err)
		require.Contains(t, claims.Context, "user")
	})

	t.Run("with extra claims", func(t *testing.T) {
		token := issue(t, connect.WithExtraClaim("tnt", "acme.atlassian.net"))

		claims, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt)
		require.NoError(t, err)
		assert.Equal(t, "acme.atlassian.net", claims.Extra["tnt"])
	})

	t.Run("rejects reserved extra claim names", func(t *testing.T) {
		for _, name := range []string{"iss", "sub", "aud", "iat", "exp", "qsh", "context"} {
			_, err := connect.IssueToken(testCreds, testRequest, testIssuedAt, connect.DefaultTTL,
				connect.WithExtraClaim(name, "x"))
			require.ErrorIs(t, err, connect.ErrInvalidClaim, "claim %q", name)
		}
	})
}

func TestVerifyToken(t *testing.T) {
	t.Parallel()

	t.Run("accepts a valid token for the whole window", func(t *testing.T) {
		token := issue(t)

		for _, at := range []time.Time{
			testIssuedAt,
			testIssuedAt.Add(90 * time.Second),
			testIssuedAt.Add(connect.DefaultTTL), // exp itself is inclusive
		} {
			_, err := connect.VerifyToken(testCreds, token, testRequest, at)
			require.NoError(t, err, "at %v", at)
		}
	})

	t.Run("rejects one second past expiry", func(t *testing.T) {
		token := issue(t)

		_, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt.Add(connect.DefaultTTL+time.Second))
		require.ErrorIs(t, err, connect.ErrTokenExpired)
	})

	t.Run("rejects before issuance", func(t *testing.T) {
		token := issue(t)

		_, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt.Add(-time.Second))
		require.ErrorIs(t, err, connect.ErrTokenNotYetValid)
	})

	t.Run("leeway widens both bounds", func(t *testing.T) {
		token := issue(t)
		leeway := connect.WithLeeway(30 * time.Second)

		_, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt.Add(-30*time.Second), leeway)
		require.NoError(t, err)

		_, err = connect.VerifyToken(testCreds, token, testRequest, testIssuedAt.Add(connect.DefaultTTL+30*time.Second), leeway)
		require.NoError(t, err)

		_, err = connect.VerifyToken(testCreds, token, testRequest, testIssuedAt.Add(connect.DefaultTTL+31*time.Second), leeway)
		require.ErrorIs(t, err, connect.ErrTokenExpired)
	})

	t.Run("rejects a wrong secret as invalid signature", func(t *testing.T) {
		token := issue(t)
		other := connect.Credentials{Issuer: testCreds.Issuer, SharedSecret: []byte("other-secret")}

		_, err := connect.VerifyToken(other, token, testRequest, testIssuedAt)
		require.ErrorIs(t, err, connect.ErrInvalidSignature)
	})

	t.Run("rejects a tampered payload as invalid signature", func(t *testing.T) {
		// The payload is altered to valid base64 of valid JSON; only the
		// signature check can catch it, and it must run first.
		token := issue(t)
		parts := strings.Split(token, ".")
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(`{"iss":"com.example.app","iat":1,"exp":99999999999,"qsh":"context-qsh"}`))

		_, err := connect.VerifyToken(testCreds, strings.Join(parts, "."), testRequest, testIssuedAt)
		require.ErrorIs(t, err, connect.ErrInvalidSignature)
	})

	t.Run("rejects garbage payload bytes as invalid signature", func(t *testing.T) {
		token := issue(t)
		parts := strings.Split(token, ".")
		parts[1] = "!!!not-base64!!!"

		_, err := connect.VerifyToken(testCreds, strings.Join(parts, "."), testRequest, testIssuedAt)
		require.ErrorIs(t, err, connect.ErrInvalidSignature)
	})

	t.Run("rejects issuer mismatch after a valid signature", func(t *testing.T) {
		token := issue(t)
		other := connect.Credentials{Issuer: "com.other.app", SharedSecret: testCreds.SharedSecret}

		_, err := connect.VerifyToken(other, token, testRequest, testIssuedAt)
		require.ErrorIs(t, err, connect.ErrInvalidIssuer)
	})

	t.Run("rejects a request that does not match the qsh claim", func(t *testing.T) {
		creds := testCreds
		req := qsh.NewRequest("GET", "/rest/api/2/issue/TEST-1", qsh.Param{Key: "fields", Value: "summary"})
		token, err := connect.IssueToken(creds, req, testIssuedAt, connect.DefaultTTL)
		require.NoError(t, err)

		other := qsh.NewRequest("GET", "/rest/api/2/issue/TEST-1", qsh.Param{Key: "fields", Value: "description"})
		_, err = connect.VerifyToken(creds, token, other, testIssuedAt)
		require.ErrorIs(t, err, connect.ErrRequestMismatch)
	})

	t.Run("audience check", func(t *testing.T) {
		token := issue(t, connect.WithAudience("jira"))

		_, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt, connect.WithExpectedAudience("jira"))
		require.NoError(t, err)

		_, err = connect.VerifyToken(testCreds, token, testRequest, testIssuedAt, connect.WithExpectedAudience("confluence"))
		require.ErrorIs(t, err, connect.ErrInvalidAudience)

		// Token without an aud claim fails any audience expectation.
		bare := issue(t)
		_, err = connect.VerifyToken(testCreds, bare, testRequest, testIssuedAt, connect.WithExpectedAudience("jira"))
		require.ErrorIs(t, err, connect.ErrInvalidAudience)
	})

	t.Run("rejects invalid credentials", func(t *testing.T) {
		token := issue(t)

		_, err := connect.VerifyToken(connect.Credentials{}, token, testRequest, testIssuedAt)
		require.ErrorIs(t, err, connect.ErrInvalidCredentials)
	})

	t.Run("tolerates surrounding whitespace", func(t *testing.T) {
		token := "  " + issue(t) + "\n"

		_, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt)
		require.NoError(t, err)
	})
}

// TestIssueVerifyScenario walks one token through the full lifecycle with
// fixed inputs: issue for a request, verify against the same request just
// after issuance, then watch any change to the bound request break it.
func TestIssueVerifyScenario(t *testing.T) {
	t.Parallel()

	creds := connect.Credentials{Issuer: "my-app", SharedSecret: []byte("s3cr3t")}
	req := qsh.NewRequest("GET", "/rest/api/2/issue/TEST-1", qsh.Param{Key: "fields", Value: "summary"})

	token, err := connect.IssueToken(creds, req, testIssuedAt, time.Minute)
	require.NoError(t, err)

	claims, err := connect.VerifyToken(creds, token, req, testIssuedAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "0a149457fce0819619e23c586ee4f74244d6a3fe45710d3f9f15cc0beebae417", claims.QueryHash)

	t.Run("different query value", func(t *testing.T) {
		other := qsh.NewRequest("GET", "/rest/api/2/issue/TEST-1", qsh.Param{Key: "fields", Value: "description"})
		_, err := connect.VerifyToken(creds, token, other, testIssuedAt.Add(time.Second))
		require.ErrorIs(t, err, connect.ErrRequestMismatch)
	})

	t.Run("different path", func(t *testing.T) {
		other := qsh.NewRequest("GET", "/rest/api/2/issue/TEST-2", qsh.Param{Key: "fields", Value: "summary"})
		_, err := connect.VerifyToken(creds, token, other, testIssuedAt.Add(time.Second))
		require.ErrorIs(t, err, connect.ErrRequestMismatch)
	})

	t.Run("different method", func(t *testing.T) {
		other := qsh.NewRequest("PUT", "/rest/api/2/issue/TEST-1", qsh.Param{Key: "fields", Value: "summary"})
		_, err := connect.VerifyToken(creds, token, other, testIssuedAt.Add(time.Second))
		require.ErrorIs(t, err, connect.ErrRequestMismatch)
	})
}

func TestVerifyTokenMalformed(t *testing.T) {
	t.Parallel()

	sign := func(headerJSON, payloadJSON string) string {
		// Assembles a token with an arbitrary header; the signature is not
		// expected to be reached in these cases.
		h := base64.RawURLEncoding.EncodeToString([]byte(headerJSON))
		p := base64.RawURLEncoding.EncodeToString([]byte(payloadJSON))
		return h + "." + p + ".c2ln"
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "one segment", token: "justonesegment"},
		{name: "two segments", token: "two.segments"},
		{name: "four segments", token: "a.b.c.d"},
		{name: "header is not base64", token: "!!!.payload.sig"},
		{name: "header is not JSON", token: sign("not json", `{}`)},
		{name: "algorithm none", token: sign(`{"typ":"JWT","alg":"none"}`, `{"iss":"x"}`)},
		{name: "algorithm RS256", token: sign(`{"typ":"JWT","alg":"RS256"}`, `{"iss":"x"}`)},
		{name: "algorithm HS512", token: sign(`{"typ":"JWT","alg":"HS512"}`, `{"iss":"x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := connect.VerifyToken(testCreds, tt.token, testRequest, testIssuedAt)
			require.ErrorIs(t, err, connect.ErrMalformedToken)
		})
	}

	t.Run("missing mandatory claims", func(t *testing.T) {
		// Correctly signed tokens whose payload lacks one mandatory claim.
		for _, payload := range []string{
			`{"iat":1700000000,"exp":1700000180,"qsh":"x"}`,
			`{"iss":"com.example.app","exp":1700000180,"qsh":"x"}`,
			`{"iss":"com.example.app","iat":1700000000,"qsh":"x"}`,
			`{"iss":"com.example.app","iat":1700000000,"exp":1700000180}`,
		} {
			token := signRaw(t, testCreds.SharedSecret, payload)
			_, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt)
			require.ErrorIs(t, err, connect.ErrMalformedToken, "payload %s", payload)
		}
	})
}

func TestContextTokens(t *testing.T) {
	t.Parallel()

	t.Run("issue replaces the request hash", func(t *testing.T) {
		const want = "eyJ0eXAiOiJKV1QiLCJhbGciOiJIUzI1NiJ9." +
			"eyJpc3MiOiJjb20uZXhhbXBsZS5hcHAiLCJpYXQiOjE3MDAwMDAwMDAsImV4cCI6MTcwMDAwMDE4MCwicXNoIjoiY29udGV4dC1xc2gifQ." +
			"sbpTyDtLiGeBNGNTtpSrL-3vvl1syGYtsoWiFpj5BFk"

		// The descriptor is ignored, so even a zero request works.
		token, err := connect.IssueToken(testCreds, qsh.Request{}, testIssuedAt, connect.DefaultTTL, connect.WithContextQSH())
		require.NoError(t, err)
		assert.Equal(t, want, token)
	})

	t.Run("rejected unless explicitly allowed", func(t *testing.T) {
		token := issue(t, connect.WithContextQSH())

		_, err := connect.VerifyToken(testCreds, token, testRequest, testIssuedAt)
		require.ErrorIs(t, err, connect.ErrRequestMismatch)
	})

	t.Run("accepted when allowed, descriptor ignored", func(t *testing.T) {
		token := issue(t, connect.WithContextQSH())

		claims, err := connect.VerifyToken(testCreds, token, qsh.Request{}, testIssuedAt, connect.WithContextQSHAllowed())
		require.NoError(t, err)
		assert.Equal(t, connect.ContextQSH, claims.QueryHash)
	})

	t.Run("allowing context tokens does not weaken request tokens", func(t *testing.T) {
		req := qsh.NewRequest("GET", "/rest/api/2/issue/TEST-1", qsh.Param{Key: "fields", Value: "summary"})
		token, err := connect.IssueToken(testCreds, req, testIssuedAt, connect.DefaultTTL)
		require.NoError(t, err)

		other := qsh.NewRequest("GET", "/rest/api/2/issue/TEST-1", qsh.Param{Key: "fields", Value: "description"})
		_, err = connect.VerifyToken(testCreds, token, other, testIssuedAt, connect.WithContextQSHAllowed())
		require.ErrorIs(t, err, connect.ErrRequestMismatch)
	})
}

func TestPeekIssuer(t *testing.T) {
	t.Parallel()

	t.Run("reads iss without the secret", func(t *testing.T) {
		token := issue(t)

		issuer, err := connect.PeekIssuer(token)
		require.NoError(t, err)
		assert.Equal(t, testCreds.Issuer, issuer)
	})

	t.Run("does not authenticate", func(t *testing.T) {
		// A broken signature still peeks fine, which is exactly why the
		// result must only feed a credentials lookup.
		token := issue(t)
		i := len(token) - 10 // inside the signature segment
		flipped := byte('A')
		if token[i] == 'A' {
			flipped = 'B'
		}
		tampered := token[:i] + string(flipped) + token[i+1:]

		issuer, err := connect.PeekIssuer(tampered)
		require.NoError(t, err)
		assert.Equal(t, testCreds.Issuer, issuer)

		_, err = connect.VerifyToken(testCreds, tampered, testRequest, testIssuedAt)
		require.ErrorIs(t, err, connect.ErrInvalidSignature)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := connect.PeekIssuer("a.b")
		require.ErrorIs(t, err, connect.ErrMalformedToken)
	})

	t.Run("missing iss claim", func(t *testing.T) {
		token := signRaw(t, testCreds.SharedSecret, `{"iat":1,"exp":2,"qsh":"x"}`)
		_, err := connect.PeekIssuer(token)
		require.ErrorIs(t, err, connect.ErrMalformedToken)
	})
}

func TestAudienceWireFormat(t *testing.T) {
	t.Parallel()

	t.Run("single string form", func(t *testing.T) {
		token := signRaw(t, testCreds.SharedSecret,
			`{"iss":"com.example.app","iat":1700000000,"exp":1700000180,"qsh":"context-qsh","aud":"jira"}`)

		claims, err := connect.VerifyToken(testCreds, token, qsh.Request{}, testIssuedAt,
			connect.WithContextQSHAllowed(), connect.WithExpectedAudience("jira"))
		require.NoError(t, err)
		assert.Equal(t, connect.Audience{"jira"}, claims.Audience)
	})

	t.Run("array form", func(t *testing.T) {
		token := signRaw(t, testCreds.SharedSecret,
			`{"iss":"com.example.app","iat":1700000000,"exp":1700000180,"qsh":"context-qsh","aud":["jira","confluence"]}`)

		claims, err := connect.VerifyToken(testCreds, token, qsh.Request{}, testIssuedAt,
			connect.WithContextQSHAllowed(), connect.WithExpectedAudience("confluence"))
		require.NoError(t, err)
		assert.Len(t, claims.Audience, 2)
	})

	t.Run("invalid form is malformed", func(t *testing.T) {
		token := signRaw(t, testCreds.SharedSecret,
			`{"iss":"com.example.app","iat":1700000000,"exp":1700000180,"qsh":"context-qsh","aud":42}`)

		_, err := connect.VerifyToken(testCreds, token, qsh.Request{}, testIssuedAt, connect.WithContextQSHAllowed())
		require.ErrorIs(t, err, connect.ErrMalformedToken)
	})
}
