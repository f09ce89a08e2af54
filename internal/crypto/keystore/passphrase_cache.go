package keystore

import (
	"errors"
	"path/filepath"

	"github.com/zalando/go-keyring"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

const keyringService = "x402-autopay"

// PassphraseCache keeps a keystore passphrase in the OS keyring, keyed by
// the keystore location.
type PassphraseCache struct {
	user string
}

func NewPassphraseCache(keystorePath string) *PassphraseCache {
	if abs, err := filepath.Abs(keystorePath); err == nil {
		keystorePath = abs
	}
	return &PassphraseCache{user: "keystore-" + utils.HashString(keystorePath)[:16]}
}

// Get returns the cached passphrase; a missing entry or an unavailable
// keyring both report false.
func (pc *PassphraseCache) Get() (string, bool) {
	secret, err := keyring.Get(keyringService, pc.user)
	if err != nil || secret == "" {
		return "", false
	}
	return secret, true
}

func (pc *PassphraseCache) Set(passphrase string) error {
	return keyring.Set(keyringService, pc.user, passphrase)
}

// Forget removes the cached passphrase; a missing entry is not an error
func (pc *PassphraseCache) Forget() error {
	err := keyring.Delete(keyringService, pc.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
