// Package memory keeps secrets in-process for tests and hosts without a keychain.
package memory

import (
	"sync"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

type key struct {
	service string
	account string
}

// Store is a map-backed netwatch.SecretStore.
type Store struct {
	mu      sync.RWMutex
	secrets map[key]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{secrets: make(map[key]string)}
}

// Get returns the secret for (service, account).
func (s *Store) Get(service, account string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[key{service, account}]
	if !ok {
		return "", netwatch.NotFoundf("secret %s/%s", service, account)
	}
	return secret, nil
}

// Set stores the secret for (service, account).
func (s *Store) Set(service, account, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[key{service, account}] = secret
	return nil
}
