package connect

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory CredentialsStore keyed by issuer. It suits
// tests and single-process apps; anything that must survive a restart needs
// a real store behind the CredentialsStore interface.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]Credentials
}

// NewMemoryStore creates an empty in-memory credentials store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]Credentials),
	}
}

// Upsert registers or replaces the credentials for their issuer, as an app
// does when it receives the installed lifecycle event.
func (m *MemoryStore) Upsert(ctx context.Context, creds Credentials) error {
	if err := creds.Valid(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentials[creds.Issuer] = creds
	return nil
}

// CredentialsByIssuer implements CredentialsStore.
func (m *MemoryStore) CredentialsByIssuer(ctx context.Context, issuer string) (Credentials, error) {
	m.mu.RLock()
	creds, exists := m.credentials[issuer]
	m.mu.RUnlock()

	if !exists {
		return Credentials{}, fmt.Errorf("%w: %q", ErrIssuerNotFound, issuer)
	}
	return creds, nil
}

// Delete removes the credentials for an issuer, as on the uninstalled
// lifecycle event. Deleting an unknown issuer is a no-op.
func (m *MemoryStore) Delete(ctx context.Context, issuer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.credentials, issuer)
	return nil
}

// Len reports the number of stored installations.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.credentials)
}
