package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// TokenBalance is one token account balance recorded in a transaction's metadata
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // base units
}

// ParsedTransaction is the subset of a ledger transaction record used for verification
type ParsedTransaction struct {
	Signature         string
	ExecutionError    bool
	AccountKeys       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// Ledger is the read side of the ledger RPC. GetTransaction returns nil and
// no error when the signature is unknown or not yet finalized.
type Ledger interface {
	GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error)
	GetSignatureStatus(ctx context.Context, signature string) (TxStatus, error)
}

// SolanaLedger reads finalized transactions over JSON-RPC
type SolanaLedger struct {
	client  *rpc.Client
	timeout time.Duration
}

// NewSolanaLedger bounds every RPC call by timeout; zero leaves calls
// bounded by the caller's context only.
func NewSolanaLedger(endpoint string, timeout time.Duration) *SolanaLedger {
	return &SolanaLedger{client: rpc.New(endpoint), timeout: timeout}
}

func (sl *SolanaLedger) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if sl.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, sl.timeout)
}

func (sl *SolanaLedger) GetTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ctx, cancel := sl.callContext(ctx)
	defer cancel()

	maxVersion := uint64(0)
	out, err := sl.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	if out == nil || out.Meta == nil || out.Transaction == nil {
		return nil, nil
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}

	parsed := &ParsedTransaction{
		Signature:      signature,
		ExecutionError: out.Meta.Err != nil,
		PreBalances:    out.Meta.PreBalances,
		PostBalances:   out.Meta.PostBalances,
	}

	// v0 transactions append looked-up addresses after the static keys
	for _, key := range tx.Message.AccountKeys {
		parsed.AccountKeys = append(parsed.AccountKeys, key.String())
	}
	for _, key := range out.Meta.LoadedAddresses.Writable {
		parsed.AccountKeys = append(parsed.AccountKeys, key.String())
	}
	for _, key := range out.Meta.LoadedAddresses.ReadOnly {
		parsed.AccountKeys = append(parsed.AccountKeys, key.String())
	}

	parsed.PreTokenBalances = convertTokenBalances(out.Meta.PreTokenBalances)
	parsed.PostTokenBalances = convertTokenBalances(out.Meta.PostTokenBalances)

	return parsed, nil
}

func convertTokenBalances(balances []rpc.TokenBalance) []TokenBalance {
	converted := make([]TokenBalance, 0, len(balances))
	for _, b := range balances {
		tb := TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		if b.UiTokenAmount != nil {
			tb.Amount = b.UiTokenAmount.Amount
		}
		converted = append(converted, tb)
	}
	return converted
}

func (sl *SolanaLedger) GetSignatureStatus(ctx context.Context, signature string) (TxStatus, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return TxStatusNotFound, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	ctx, cancel := sl.callContext(ctx)
	defer cancel()

	out, err := sl.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return TxStatusNotFound, fmt.Errorf("failed to fetch signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return TxStatusNotFound, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return TxStatusNotFound, nil
	}

	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return TxStatusFinalized, nil
	case rpc.ConfirmationStatusConfirmed:
		return TxStatusConfirmed, nil
	default:
		// processed only, may still be dropped
		return TxStatusNotFound, nil
	}
}
