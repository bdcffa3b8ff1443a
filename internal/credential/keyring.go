package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"

	"github.com/nhle/mailbundle/internal/apperr"
)

const serviceName = "mailbundle"

// OpenKeyring returns the system keyring, falling back to an encrypted
// file store under configDir.
func OpenKeyring(configDir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(configDir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("mailbundle-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Tokens stores one OAuth token per account address.
type Tokens struct {
	ring keyring.Keyring
}

// NewTokens wraps a keyring.
func NewTokens(ring keyring.Keyring) *Tokens {
	return &Tokens{ring: ring}
}

func tokenKey(address string) string {
	return "oauth:" + address
}

// Get retrieves the stored token for address. A missing token is an
// authorization error: the account must sign in again.
func (t *Tokens) Get(address string) (*oauth2.Token, error) {
	item, err := t.ring.Get(tokenKey(address))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, apperr.Authorization("load token",
			fmt.Errorf("no credential stored for %s", address))
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential for %s: %w", address, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return nil, fmt.Errorf("decoding credential for %s: %w", address, err)
	}
	return &tok, nil
}

// Set stores the token for address.
func (t *Tokens) Set(address string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding credential for %s: %w", address, err)
	}

	err = t.ring.Set(keyring.Item{
		Key:         tokenKey(address),
		Data:        data,
		Label:       "mailbundle " + address,
		Description: "OAuth token",
	})
	if err != nil {
		return fmt.Errorf("setting credential for %s: %w", address, err)
	}
	return nil
}

// Delete removes the token for address.
func (t *Tokens) Delete(address string) error {
	if err := t.ring.Remove(tokenKey(address)); err != nil {
		return fmt.Errorf("deleting credential for %s: %w", address, err)
	}
	return nil
}
