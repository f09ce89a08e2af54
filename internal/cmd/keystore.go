package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/crypto/keystore"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

var keystoreCmd = &cobra.Command{
	Use:   "keystore",
	Short: "Manage the encrypted keystore",
	Long: `Manage the encrypted keystore.

The keystore holds:
- the secret that signs payment proof tokens
- optionally, a Solana private key used to sign payments in-process

It is encrypted with AES-256-GCM under a key derived from a passphrase with
Argon2id. The passphrase is read from AUTOPAY_KEYSTORE_PASSPHRASE, the
--passphrase-file flag, the OS keyring (when keystore_cache_passphrase is
enabled) or the terminal.`,
}

var keystoreInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the keystore, or check that it unlocks",
	Run: func(cmd *cobra.Command, args []string) {
		path := keystore.Path(config)
		data, err := keystore.InitOrLoadKeystore(path, passphraseFile, config)
		if err != nil {
			exitf("%v", err)
		}

		fmt.Printf("Keystore: %s\n", path)
		printKeystoreInfo(data)
	},
}

var keystoreInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show what the keystore holds",
	Run: func(cmd *cobra.Command, args []string) {
		data, err := keystore.InitOrLoadKeystore(keystore.Path(config), passphraseFile, config)
		if err != nil {
			exitf("%v", err)
		}
		printKeystoreInfo(data)
	},
}

var keystoreImportKeyCmd = &cobra.Command{
	Use:   "import-key <keygen-file|base58-key>",
	Short: "Store a Solana signing key",
	Long: `Store a Solana private key in the keystore. Payments are then signed
in-process instead of through signer_command.

Accepts a solana-keygen JSON file or a base58-encoded 64-byte key.

SECURITY WARNING: whoever holds this key and the passphrase controls the
funds of the account.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key, err := keystore.ParseSignerKey(args[0])
		if err != nil {
			exitf("%v", err)
		}

		if err := keystore.ImportSignerKey(keystore.Path(config), passphraseFile, config, key); err != nil {
			exitf("%v", err)
		}
		fmt.Printf("Signing key for %s stored\n", key.PublicKey())
	},
}

var keystorePasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the keystore passphrase",
	Run: func(cmd *cobra.Command, args []string) {
		oldPassphrase, err := keystore.PromptPassphrase("Current passphrase: ")
		if err != nil {
			exitf("%v", err)
		}
		newPassphrase, err := keystore.PromptPassphrase("New passphrase: ")
		if err != nil {
			exitf("%v", err)
		}
		confirmed, err := keystore.PromptPassphrase("Confirm new passphrase: ")
		if err != nil {
			exitf("%v", err)
		}
		if newPassphrase != confirmed {
			exitf("passphrases do not match")
		}

		if err := keystore.ChangeKeystorePassphrase(keystore.Path(config), oldPassphrase, newPassphrase); err != nil {
			exitf("%v", err)
		}
		fmt.Println("Passphrase changed")
	},
}

var keystoreForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Remove the cached passphrase from the OS keyring",
	Run: func(cmd *cobra.Command, args []string) {
		if err := keystore.NewPassphraseCache(keystore.Path(config)).Forget(); err != nil {
			exitf("%v", err)
		}
		fmt.Println("Cached passphrase removed")
	},
}

func printKeystoreInfo(data *keystore.KeystoreData) {
	info := map[string]any{
		"proof_secret_fingerprint": utils.HashBytes(data.ProofSecret)[:16],
		"has_signer_key":           data.HasSignerKey(),
	}
	if key, ok := data.SolanaKey(); ok {
		info["signer_public_key"] = key.PublicKey().String()
	}
	printJSON(info)
}

func init() {
	keystoreCmd.AddCommand(keystoreInitCmd)
	keystoreCmd.AddCommand(keystoreInfoCmd)
	keystoreCmd.AddCommand(keystoreImportKeyCmd)
	keystoreCmd.AddCommand(keystorePasswdCmd)
	keystoreCmd.AddCommand(keystoreForgetCmd)

	rootCmd.AddCommand(keystoreCmd)
}
