package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

// Coordinator resolves offers for one configured chain, executes payments
// through a Signer and verifies them against the ledger.
type Coordinator struct {
	network         string
	mapper          *NetworkMapper
	signer          Signer
	ledger          Ledger
	feeLamports     uint64
	defaultDecimals int
	clock           utils.Clock
	logger          *utils.LogsManager
}

// NewCoordinator reads the chain and fee settings from cm. signer may be nil
// when payments are signed outside this process.
func NewCoordinator(cm *utils.ConfigManager, signer Signer, ledger Ledger, logger *utils.LogsManager) (*Coordinator, error) {
	mapper := NewNetworkMapper()

	network, err := mapper.ToCaip2(cm.GetConfigWithDefault("payment_network", "solana"))
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		network:         network,
		mapper:          mapper,
		signer:          signer,
		ledger:          ledger,
		feeLamports:     cm.GetConfigUint64("payment_network_fee_lamports", 5000, 1_000_000_000),
		defaultDecimals: cm.GetConfigInt("payment_default_decimals", 6, 0, 18),
		clock:           utils.NewRealClock(),
		logger:          logger,
	}, nil
}

// Network is the configured chain's CAIP-2 id
func (c *Coordinator) Network() string {
	return c.network
}

func (c *Coordinator) HasSigner() bool {
	return c.signer != nil
}

// EstimateFee returns the expected network fee in lamports
func (c *Coordinator) EstimateFee() uint64 {
	return c.feeLamports
}

// ResolveOffer picks the first offer on the configured chain with a valid
// amount. Malformed offers are skipped; their error is returned only when no
// usable offer remains.
func (c *Coordinator) ResolveOffer(offers []PaymentOffer, serviceID string) (*PaymentInstruction, error) {
	var invalid error
	for _, offer := range offers {
		if !c.mapper.Matches(offer.Network, c.network) {
			continue
		}

		if _, err := parseBaseAmount(offer.Amount); err != nil {
			invalid = err
			continue
		}
		decimals := AssetDecimals(offer.Asset, c.defaultDecimals)
		decimalAmount, err := utils.FormatBaseUnits(offer.Amount, decimals)
		if err != nil {
			invalid = fmt.Errorf("%w: %v", ErrInvalidAmount, err)
			continue
		}

		return &PaymentInstruction{
			offer:         offer,
			serviceID:     serviceID,
			estimatedFee:  c.feeLamports,
			decimals:      decimals,
			decimalAmount: decimalAmount,
			createdAt:     c.clock.Now(),
		}, nil
	}

	if invalid != nil {
		c.logger.Warn(fmt.Sprintf("No usable offer on %s: %v", c.network, invalid), "coordinator")
		return nil, invalid
	}
	return nil, fmt.Errorf("%w: want %s, got %d offer(s)", ErrNoMatchingOffer, c.network, len(offers))
}

// ExecutePayment submits the transfer described by offer to recipient. Every
// remote-supplied value is validated here, before it can reach a signer.
func (c *Coordinator) ExecutePayment(ctx context.Context, offer PaymentOffer, recipient string) (string, error) {
	if err := ValidateAddress(c.network, recipient); err != nil {
		return "", err
	}
	if err := ValidateAsset(c.network, offer.Asset); err != nil {
		return "", err
	}
	if _, err := parseBaseAmount(offer.Amount); err != nil {
		return "", err
	}
	if c.signer == nil {
		return "", ErrSignerNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.logger.Info(fmt.Sprintf("Executing payment of %s base units of %s to %s", offer.Amount, offer.Asset, recipient), "coordinator")

	signature, err := c.signer.Submit(ctx, recipient, offer.Amount, offer.Asset)
	if err != nil {
		if errors.Is(err, ErrPaymentExecutionFailed) || errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrInvalidAmount) {
			return "", err
		}
		return "", NewPaymentError(CodeExecutionFailed, ErrPaymentExecutionFailed, err.Error())
	}

	if err := ValidateSignature(c.network, signature); err != nil {
		return "", NewPaymentError(CodeExecutionFailed, ErrPaymentExecutionFailed, err.Error()).
			WithDetail("signature", signature)
	}

	c.logger.Info(fmt.Sprintf("Payment submitted: %s", signature), "coordinator")
	return signature, nil
}

// ExecuteInstruction pays a resolved instruction to its own recipient
func (c *Coordinator) ExecuteInstruction(ctx context.Context, instruction *PaymentInstruction) (string, error) {
	return c.ExecutePayment(ctx, instruction.Offer(), instruction.Recipient())
}

// VerifyTransaction reports whether the finalized transaction moved at least
// expectedAmount base units of asset to expectedRecipient. Missing or unclear
// evidence yields false.
func (c *Coordinator) VerifyTransaction(ctx context.Context, signature, expectedRecipient, expectedAmount, asset string) bool {
	expected, err := utils.ParseBaseUnits(expectedAmount)
	if err != nil || expected.Sign() <= 0 {
		c.logger.Warn(fmt.Sprintf("Verification of %s rejected: bad expected amount %q", signature, expectedAmount), "coordinator")
		return false
	}

	tx, err := c.ledger.GetTransaction(ctx, signature)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("Failed to fetch transaction %s: %v", signature, err), "coordinator")
		return false
	}
	if tx == nil {
		c.logger.Debug(fmt.Sprintf("Transaction %s not found", signature), "coordinator")
		return false
	}
	if tx.ExecutionError {
		c.logger.Warn(fmt.Sprintf("Transaction %s failed on ledger", signature), "coordinator")
		return false
	}

	var verified bool
	if IsNativeAsset(asset) {
		verified = verifyNativeTransfer(tx, expectedRecipient, expected)
	} else {
		verified = verifyTokenTransfer(tx, expectedRecipient, asset, expected)
	}

	c.logger.Info(fmt.Sprintf("Verification of %s to %s for %s: %v", signature, expectedRecipient, expectedAmount, verified), "coordinator")
	return verified
}

func verifyNativeTransfer(tx *ParsedTransaction, recipient string, expected *big.Int) bool {
	index := -1
	for i, key := range tx.AccountKeys {
		if key == recipient {
			index = i
			break
		}
	}
	if index < 0 || index >= len(tx.PreBalances) || index >= len(tx.PostBalances) {
		return false
	}

	delta := new(big.Int).SetUint64(tx.PostBalances[index])
	delta.Sub(delta, new(big.Int).SetUint64(tx.PreBalances[index]))

	return delta.Cmp(expected) >= 0
}

func verifyTokenTransfer(tx *ParsedTransaction, recipient, mint string, expected *big.Int) bool {
	verified := false

	for _, post := range tx.PostTokenBalances {
		if post.Mint != mint || post.Owner != recipient {
			continue
		}

		postAmount, err := utils.ParseBaseUnits(post.Amount)
		if err != nil {
			return false
		}

		preAmount := big.NewInt(0)
		for _, pre := range tx.PreTokenBalances {
			if pre.AccountIndex == post.AccountIndex && pre.Mint == mint {
				if preAmount, err = utils.ParseBaseUnits(pre.Amount); err != nil {
					return false
				}
				break
			}
		}

		delta := new(big.Int).Sub(postAmount, preAmount)
		if delta.Sign() > 0 && delta.Cmp(expected) >= 0 {
			verified = true
		}
	}

	return verified
}

// GetTransactionStatus never fails; RPC errors read as not_found
func (c *Coordinator) GetTransactionStatus(ctx context.Context, signature string) TxStatus {
	status, err := c.ledger.GetSignatureStatus(ctx, signature)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("Failed to fetch status of %s: %v", signature, err), "coordinator")
		return TxStatusNotFound
	}
	return status
}
