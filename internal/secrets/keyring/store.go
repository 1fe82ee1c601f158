// Package keyring stores notification credentials in the OS keychain.
package keyring

import (
	"errors"
	"fmt"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// Store implements netwatch.SecretStore over the platform keychain
// (Keychain on macOS, Secret Service on Linux, Credential Manager on Windows).
type Store struct{}

// New returns a keychain-backed Store.
func New() *Store {
	return &Store{}
}

// Get returns the secret for (service, account).
func (Store) Get(service, account string) (string, error) {
	secret, err := gokeyring.Get(service, account)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return "", netwatch.NotFoundf("secret %s/%s", service, account)
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s/%s: %w", service, account, err)
	}
	return secret, nil
}

// Set stores the secret for (service, account), replacing any existing value.
func (Store) Set(service, account, secret string) error {
	if err := gokeyring.Set(service, account, secret); err != nil {
		return fmt.Errorf("keyring set %s/%s: %w", service, account, err)
	}
	return nil
}
