package keystore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/term"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

// PassphraseEnv overrides every other passphrase source
const PassphraseEnv = "AUTOPAY_KEYSTORE_PASSPHRASE"

type passphraseSource int

const (
	sourceEnv passphraseSource = iota
	sourceConfig
	sourceFile
	sourceKeyring
	sourcePrompt
)

// Path resolves the keystore_file setting; relative paths live in the app data dir
func Path(cm *utils.ConfigManager) string {
	path := cm.GetConfigWithDefault("keystore_file", "keystore.dat")
	if filepath.IsAbs(path) {
		return path
	}
	return utils.GetAppPaths("").GetDataPath(path)
}

// InitOrLoadKeystore unlocks the keystore at path, creating one with a
// fresh proof secret when none exists yet.
func InitOrLoadKeystore(path string, passphraseFile string, cm *utils.ConfigManager) (*KeystoreData, error) {
	if _, err := os.Stat(path); err == nil {
		return unlockExistingKeystore(path, passphraseFile, cm)
	}
	return createFreshKeystore(path, passphraseFile, cm)
}

func unlockExistingKeystore(path string, passphraseFile string, cm *utils.ConfigManager) (*KeystoreData, error) {
	ks, err := LoadKeystore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keystore: %v", err)
	}

	cache := NewPassphraseCache(path)
	passphrase, source, err := getPassphrase(passphraseFile, false, cm, cache)
	if err != nil {
		return nil, err
	}

	data, err := UnlockKeystore(ks, passphrase)
	if err != nil {
		if source == sourceKeyring {
			cache.Forget()
		}
		return nil, fmt.Errorf("failed to unlock keystore: %v", err)
	}

	rememberPassphrase(cm, cache, source, passphrase)
	return data, nil
}

func createFreshKeystore(path string, passphraseFile string, cm *utils.ConfigManager) (*KeystoreData, error) {
	fmt.Fprintln(os.Stderr, "No keystore found - creating a new encrypted keystore")

	secret, err := GenerateProofSecret()
	if err != nil {
		return nil, err
	}
	data := &KeystoreData{ProofSecret: secret}

	cache := NewPassphraseCache(path)
	passphrase, source, err := getPassphrase(passphraseFile, true, cm, cache)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %v", err)
	}
	if err := writeKeystore(path, passphrase, data); err != nil {
		return nil, err
	}

	rememberPassphrase(cm, cache, source, passphrase)
	fmt.Fprintf(os.Stderr, "Keystore created: %s\n", path)
	return data, nil
}

// ImportSignerKey stores key as the payment signing key, replacing any previous one
func ImportSignerKey(path string, passphraseFile string, cm *utils.ConfigManager, key solana.PrivateKey) error {
	if _, err := os.Stat(path); err != nil {
		if _, err := createFreshKeystore(path, passphraseFile, cm); err != nil {
			return err
		}
	}

	ks, err := LoadKeystore(path)
	if err != nil {
		return err
	}

	passphrase, _, err := getPassphrase(passphraseFile, false, cm, NewPassphraseCache(path))
	if err != nil {
		return err
	}

	data, err := UnlockKeystore(ks, passphrase)
	if err != nil {
		return fmt.Errorf("failed to unlock keystore: %v", err)
	}

	data.SignerKey = append([]byte(nil), key...)
	return writeKeystore(path, passphrase, data)
}

// ChangeKeystorePassphrase re-encrypts the keystore at path and drops any cached passphrase
func ChangeKeystorePassphrase(path, oldPassphrase, newPassphrase string) error {
	ks, err := LoadKeystore(path)
	if err != nil {
		return err
	}

	newKS, err := ChangePassphrase(ks, oldPassphrase, newPassphrase)
	if err != nil {
		return err
	}
	if err := SaveKeystore(newKS, path); err != nil {
		return err
	}

	NewPassphraseCache(path).Forget()
	return nil
}

func writeKeystore(path, passphrase string, data *KeystoreData) error {
	ks, err := CreateKeystore(passphrase, data)
	if err != nil {
		return fmt.Errorf("failed to create keystore: %v", err)
	}
	if err := SaveKeystore(ks, path); err != nil {
		return fmt.Errorf("failed to save keystore: %v", err)
	}
	return nil
}

// ParseSignerKey reads a Solana private key from a keygen JSON file or a
// base58 string.
func ParseSignerKey(value string) (solana.PrivateKey, error) {
	value = strings.TrimSpace(value)
	if _, err := os.Stat(value); err == nil {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(value)
		if err != nil {
			return nil, fmt.Errorf("failed to read keygen file: %v", err)
		}
		return key, nil
	}

	key, err := solana.PrivateKeyFromBase58(value)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 private key: %v", err)
	}
	if len(key) != 64 {
		return nil, fmt.Errorf("private key must be 64 bytes, got %d", len(key))
	}
	return key, nil
}

// SolanaKey returns the stored signing key
func (d *KeystoreData) SolanaKey() (solana.PrivateKey, bool) {
	if !d.HasSignerKey() {
		return nil, false
	}
	return solana.PrivateKey(append([]byte(nil), d.SignerKey...)), true
}

func rememberPassphrase(cm *utils.ConfigManager, cache *PassphraseCache, source passphraseSource, passphrase string) {
	if source != sourcePrompt || !cm.GetConfigBool("keystore_cache_passphrase", false) {
		return
	}
	if err := cache.Set(passphrase); err != nil {
		fmt.Fprintf(os.Stderr, "Could not cache passphrase in the OS keyring: %v\n", err)
	}
}

// getPassphrase resolves the passphrase from, in order: environment,
// config, passphrase file, OS keyring cache, interactive prompt.
func getPassphrase(passphraseFile string, isNewKeystore bool, cm *utils.ConfigManager, cache *PassphraseCache) (string, passphraseSource, error) {
	if passphrase, ok := utils.GetSecret(PassphraseEnv); ok {
		return passphrase, sourceEnv, nil
	}

	if cm != nil {
		if passphrase, exists := cm.GetConfig("keystore_passphrase"); exists && passphrase != "" {
			return passphrase, sourceConfig, nil
		}
	}

	if passphraseFile != "" {
		passphrase, err := os.ReadFile(passphraseFile)
		if err != nil {
			return "", sourceFile, fmt.Errorf("failed to read passphrase file: %v", err)
		}
		return strings.TrimSpace(string(passphrase)), sourceFile, nil
	}

	if !isNewKeystore {
		if passphrase, ok := cache.Get(); ok {
			return passphrase, sourceKeyring, nil
		}
	}

	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", sourcePrompt, fmt.Errorf("keystore passphrase required: set %s or use --passphrase-file", PassphraseEnv)
	}

	var (
		passphrase string
		err        error
	)
	if isNewKeystore {
		passphrase, err = promptNewPassphrase()
	} else {
		passphrase, err = PromptPassphrase("Enter keystore passphrase: ")
	}
	return passphrase, sourcePrompt, err
}

// PromptPassphrase reads a non-empty passphrase from the terminal without echo
func PromptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %v", err)
	}

	if len(passphrase) == 0 {
		return "", fmt.Errorf("passphrase cannot be empty")
	}

	return string(passphrase), nil
}

func promptNewPassphrase() (string, error) {
	reader := bufio.NewReader(os.Stdin)

	fmt.Fprintln(os.Stderr, "The keystore holds the payment proof secret and, optionally, a signing key.")
	fmt.Fprintln(os.Stderr, "If you lose this passphrase the keystore cannot be recovered.")

	for {
		passphrase1, err := PromptPassphrase("\nCreate passphrase: ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		if len(passphrase1) < 8 {
			fmt.Fprint(os.Stderr, "Passphrase is shorter than 8 characters. Continue? (yes/no): ")
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "yes" && response != "y" {
				continue
			}
		}

		passphrase2, err := PromptPassphrase("Confirm passphrase: ")
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase confirmation: %v", err)
		}

		if passphrase1 != passphrase2 {
			fmt.Fprintln(os.Stderr, "Passphrases do not match. Please try again.")
			continue
		}

		return passphrase1, nil
	}
}
