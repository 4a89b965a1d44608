package connect

import (
	"context"
	"fmt"
)

// Credentials identify one app installation. Atlassian delivers both values
// with the installed lifecycle event; the library never persists them.
type Credentials struct {
	// Issuer is the app key carried in the iss claim, e.g. the clientKey of
	// the installation or the app's connect key.
	Issuer string
	// SharedSecret signs and verifies this installation's tokens. Keep it
	// out of logs.
	SharedSecret []byte
}

// Valid reports whether the credentials can sign a token.
func (c Credentials) Valid() error {
	if c.Issuer == "" {
		return fmt.Errorf("%w: empty issuer", ErrInvalidCredentials)
	}
	if len(c.SharedSecret) == 0 {
		return fmt.Errorf("%w: empty shared secret", ErrInvalidCredentials)
	}
	return nil
}

// CredentialsStore resolves the credentials registered for an issuer.
// Multi-tenant apps implement it against wherever they keep installation
// records; lookups must return ErrIssuerNotFound for unknown issuers.
type CredentialsStore interface {
	CredentialsByIssuer(ctx context.Context, issuer string) (Credentials, error)
}

// CredentialsStoreFunc adapts a plain function to the CredentialsStore
// interface.
type CredentialsStoreFunc func(ctx context.Context, issuer string) (Credentials, error)

func (f CredentialsStoreFunc) CredentialsByIssuer(ctx context.Context, issuer string) (Credentials, error) {
	return f(ctx, issuer)
}

// StaticCredentials returns a store that serves a single installation's
// credentials. Lookups for any other issuer fail with ErrIssuerNotFound.
func StaticCredentials(creds Credentials) CredentialsStore {
	return CredentialsStoreFunc(func(_ context.Context, issuer string) (Credentials, error) {
		if issuer != creds.Issuer {
			return Credentials{}, fmt.Errorf("%w: %q", ErrIssuerNotFound, issuer)
		}
		return creds, nil
	})
}
