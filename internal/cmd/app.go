package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/autopay"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/crypto/keystore"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/database"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/spending"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

// ProofSecretEnv supplies the proof signing secret without a keystore
const ProofSecretEnv = "AUTOPAY_PROOF_SECRET"

// app holds the components a command needs, wired from config
type app struct {
	db          *database.SQLiteManager
	governor    *spending.Governor
	coordinator *payment.Coordinator
	client      *autopay.Client
	keys        *keystore.KeystoreData
}

type appOptions struct {
	payments bool
	events   autopay.Callbacks
}

func newApp(opts appOptions) (*app, error) {
	db, err := database.NewSQLiteManager(config, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		db:       db,
		governor: spending.NewGovernor(db, config, utils.NewRealClock(), logger),
	}
	if !opts.payments {
		return a, nil
	}

	if err := a.wirePayments(opts.events); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wirePayments(events autopay.Callbacks) error {
	network, err := payment.NewNetworkMapper().ToCaip2(config.GetConfigWithDefault("payment_network", "solana"))
	if err != nil {
		return err
	}

	a.keys, err = loadKeys()
	if err != nil {
		return err
	}

	signer, err := newSigner(a.keys, network)
	if err != nil {
		return err
	}

	ledger := payment.NewSolanaLedger(rpcEndpoint(network), config.GetConfigDuration("payment_rpc_timeout", 15*time.Second))
	a.coordinator, err = payment.NewCoordinator(config, signer, ledger, logger)
	if err != nil {
		return err
	}

	secret := a.keys.ProofSecret
	if value, ok := utils.GetSecret(ProofSecretEnv); ok {
		secret = []byte(value)
	}
	proofs := payment.NewProofIssuer(secret, "x402-autopay", config.GetConfigDuration("payment_proof_ttl", time.Hour))

	a.client = autopay.NewClient(config, a.coordinator, a.governor, proofs, logger, autopay.WithCallbacks(events))
	return nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// loadKeys unlocks the keystore. With the proof secret supplied through the
// environment and no keystore on disk, an empty key set is returned.
func loadKeys() (*keystore.KeystoreData, error) {
	path := keystore.Path(config)
	if _, ok := utils.GetSecret(ProofSecretEnv); ok {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return &keystore.KeystoreData{}, nil
		}
	}
	return keystore.InitOrLoadKeystore(path, passphraseFile, config)
}

// newSigner prefers the keystore signing key and falls back to the
// configured signer command. Neither means payments are signed externally.
func newSigner(keys *keystore.KeystoreData, network string) (payment.Signer, error) {
	if key, ok := keys.SolanaKey(); ok && payment.IsSolana(network) {
		return payment.NewSolanaKeySigner(rpcEndpoint(network), key, logger)
	}

	if command := config.GetConfigWithDefault("signer_command", ""); command != "" {
		return payment.NewCommandSigner(command, network, config.GetConfigDuration("signer_timeout", 60*time.Second), logger)
	}

	return nil, nil
}

func rpcEndpoint(network string) string {
	if endpoint := config.GetConfigWithDefault("payment_rpc_endpoint", ""); endpoint != "" {
		return endpoint
	}
	return payment.GetSolanaRPCEndpoint(network)
}

// configRelativePath resolves relative paths against the config file's directory
func configRelativePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if config.Path() != "" {
		return filepath.Join(filepath.Dir(config.Path()), path)
	}
	return utils.GetAppPaths("").GetConfigPath(path)
}

// signalContext is cancelled on interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
