package connect

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nicholasbishop/atlassian-app-auth/pkg/qsh"
)

// tokenQueryParam is the query parameter Atlassian products use to deliver
// tokens on GET-style requests (dialogs, iframes). It is the same reserved
// parameter the canonicalizer excludes from the hash.
const tokenQueryParam = "jwt"

// TokenExtractorFunc extracts a token from an HTTP request.
type TokenExtractorFunc func(r *http.Request) (string, error)

// SkipFunc reports whether verification should be bypassed for a request.
type SkipFunc func(r *http.Request) bool

// MiddlewareConfig configures the verification middleware.
type MiddlewareConfig struct {
	// Store resolves the shared secret for each issuer.
	Store CredentialsStore

	// Extractor locates the token. Defaults to DefaultTokenExtractor.
	Extractor TokenExtractorFunc

	// Skip bypasses verification for matching requests, e.g. health checks.
	Skip SkipFunc

	// Logger receives the precise rejection reasons that the 401 responses
	// deliberately omit. Silent when nil.
	Logger *slog.Logger

	// Leeway, Audience, and AllowContextQSH are passed through to
	// VerifyToken.
	Leeway          time.Duration
	Audience        string
	AllowContextQSH bool

	// Now supplies the clock. time.Now when nil.
	Now func() time.Time
}

// Middleware verifies inbound Connect tokens using credentials from store
// and injects the verified claims into the request context. Requests that
// fail verification receive a uniform 401.
func Middleware(store CredentialsStore) func(next http.Handler) http.Handler {
	return MiddlewareWithConfig(MiddlewareConfig{Store: store})
}

// MiddlewareWithConfig verifies inbound Connect tokens with custom
// configuration.
func MiddlewareWithConfig(config MiddlewareConfig) func(next http.Handler) http.Handler {
	if config.Extractor == nil {
		config.Extractor = DefaultTokenExtractor
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	var verifyOpts []VerifyOption
	if config.Leeway > 0 {
		verifyOpts = append(verifyOpts, WithLeeway(config.Leeway))
	}
	if config.Audience != "" {
		verifyOpts = append(verifyOpts, WithExpectedAudience(config.Audience))
	}
	if config.AllowContextQSH {
		verifyOpts = append(verifyOpts, WithContextQSHAllowed())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Skip != nil && config.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			token, err := config.Extractor(r)
			if err != nil {
				reject(w, r, config.Logger, "token extraction failed", err)
				return
			}

			// The issuer read here is unverified. It only selects which
			// shared secret VerifyToken gets; a forged iss fails the
			// signature check against that secret.
			issuer, err := PeekIssuer(token)
			if err != nil {
				reject(w, r, config.Logger, "issuer peek failed", err)
				return
			}

			creds, err := config.Store.CredentialsByIssuer(r.Context(), issuer)
			if err != nil {
				reject(w, r, config.Logger, "credentials lookup failed", err)
				return
			}

			descriptor, err := qsh.FromHTTPRequest(r)
			if err != nil {
				reject(w, r, config.Logger, "request descriptor rejected", err)
				return
			}

			claims, err := VerifyToken(creds, token, descriptor, config.Now(), verifyOpts...)
			if err != nil {
				reject(w, r, config.Logger, "token verification failed", err)
				return
			}

			ctx := SetToken(r.Context(), token)
			ctx = SetClaims(ctx, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// reject answers with a bare 401 carrying only a reference id. The failure
// reason goes to the log under the same id so operators can correlate a
// specific rejection without the response disclosing which check failed.
func reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	ref := uuid.NewString()
	logger.WarnContext(r.Context(), msg,
		slog.String("error", err.Error()),
		slog.String("ref", ref),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	w.Header().Set("WWW-Authenticate", AuthorizationScheme)
	http.Error(w, "Unauthorized (ref "+ref+")", http.StatusUnauthorized)
}

// HeaderTokenExtractor extracts the token from an "Authorization: JWT
// <token>" header, the Connect convention.
func HeaderTokenExtractor(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrNoToken
	}

	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, AuthorizationScheme) || token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// QueryTokenExtractor extracts the token from the jwt query parameter, used
// where Atlassian products cannot set headers.
func QueryTokenExtractor(r *http.Request) (string, error) {
	token := r.URL.Query().Get(tokenQueryParam)
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// DefaultTokenExtractor tries the Authorization header first, then the jwt
// query parameter.
func DefaultTokenExtractor(r *http.Request) (string, error) {
	if token, err := HeaderTokenExtractor(r); err == nil {
		return token, nil
	}
	return QueryTokenExtractor(r)
}
