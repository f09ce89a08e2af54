package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/argon2"
)

// Keystore is the on-disk, passphrase-encrypted container
type Keystore struct {
	Version int    `json:"version"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Data    []byte `json:"data"`
}

// KeystoreData is the decrypted content. SignerKey is optional and holds a
// 64-byte ed25519 private key used to sign ledger payments in-process.
type KeystoreData struct {
	ProofSecret []byte `json:"proof_secret"`
	SignerKey   []byte `json:"signer_key,omitempty"`
}

const (
	// Argon2id parameters (recommended by OWASP)
	argon2Time      = 3
	argon2Memory    = 64 * 1024
	argon2Threads   = 4
	argon2KeyLength = 32

	saltSize  = 32
	nonceSize = 12

	proofSecretSize = 32

	keystoreVersion = 2
)

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLength)
}

func (d *KeystoreData) validate() error {
	if len(d.ProofSecret) != proofSecretSize {
		return fmt.Errorf("proof secret must be %d bytes, got %d", proofSecretSize, len(d.ProofSecret))
	}
	if len(d.SignerKey) != 0 && len(d.SignerKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("signer key must be %d bytes, got %d", ed25519.PrivateKeySize, len(d.SignerKey))
	}
	return nil
}

// HasSignerKey reports whether a payment signing key is stored
func (d *KeystoreData) HasSignerKey() bool {
	return len(d.SignerKey) == ed25519.PrivateKeySize
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}
	return gcm, nil
}

// CreateKeystore encrypts data under passphrase with a fresh salt and nonce
func CreateKeystore(passphrase string, data *KeystoreData) (*Keystore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if err := data.validate(); err != nil {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %v", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %v", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keystore data: %v", err)
	}

	return &Keystore{
		Version: keystoreVersion,
		Salt:    salt,
		Nonce:   nonce,
		Data:    gcm.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// UnlockKeystore decrypts the keystore using the passphrase
func UnlockKeystore(ks *Keystore, passphrase string) (*KeystoreData, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", ks.Version)
	}
	if len(ks.Salt) != saltSize {
		return nil, fmt.Errorf("invalid salt size: %d", len(ks.Salt))
	}
	if len(ks.Nonce) != nonceSize {
		return nil, fmt.Errorf("invalid nonce size: %d", len(ks.Nonce))
	}

	gcm, err := newGCM(passphrase, ks.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, ks.Nonce, ks.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (incorrect passphrase?): %v", err)
	}

	var data KeystoreData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore data: %v", err)
	}
	if err := data.validate(); err != nil {
		return nil, fmt.Errorf("corrupted keystore: %v", err)
	}

	return &data, nil
}

// SaveKeystore writes the keystore readable by the owner only
func SaveKeystore(ks *Keystore, path string) error {
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore: %v", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write keystore file: %v", err)
	}

	return nil
}

func LoadKeystore(path string) (*Keystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %v", err)
	}

	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore: %v", err)
	}

	return &ks, nil
}

// ChangePassphrase re-encrypts the keystore contents under a new passphrase
func ChangePassphrase(ks *Keystore, oldPassphrase, newPassphrase string) (*Keystore, error) {
	data, err := UnlockKeystore(ks, oldPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock with old passphrase: %v", err)
	}

	newKS, err := CreateKeystore(newPassphrase, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create new keystore: %v", err)
	}

	return newKS, nil
}

// GenerateProofSecret returns a random 256-bit secret for signing payment proofs
func GenerateProofSecret() ([]byte, error) {
	secret := make([]byte, proofSecretSize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("failed to generate proof secret: %v", err)
	}
	return secret, nil
}
