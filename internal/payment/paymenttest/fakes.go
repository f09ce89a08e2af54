// Package paymenttest provides in-memory ledger and signer fakes.
package paymenttest

import (
	"context"
	"sync"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
)

// Valid base58 values for tests
const (
	Payer      = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	Recipient  = "CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q"
	Recipient2 = "Dvp1m56zzPV28v86BxMnSrHKNu94mJeiohtppqQNHbqZ"
	Signature  = "3hizm34taS8t9UvpJg9oRCJ7EWYkuUHNCecrhuBZjG7L2RfqEqgApn2VsKS94Agj9UgBdgQT6HsaaFRUu7ZT44sU"
	Signature2 = "2soASZVz6NaEUZtRyCbf3hAdpPAAiecRovUSi99FFw9GJGQTbdoPFaFctNx1Nzt2FzPMLj5JjBnkXJm6CGofULNX"
	USDC       = payment.USDCMainnetMint
)

type Ledger struct {
	mu           sync.Mutex
	transactions map[string]*payment.ParsedTransaction
	statuses     map[string]payment.TxStatus
	Err          error
	Calls        int
}

func NewLedger() *Ledger {
	return &Ledger{
		transactions: make(map[string]*payment.ParsedTransaction),
		statuses:     make(map[string]payment.TxStatus),
	}
}

// Add stores tx as finalized
func (l *Ledger) Add(tx *payment.ParsedTransaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transactions[tx.Signature] = tx
	l.statuses[tx.Signature] = payment.TxStatusFinalized
}

func (l *Ledger) SetStatus(signature string, status payment.TxStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[signature] = status
}

func (l *Ledger) GetTransaction(ctx context.Context, signature string) (*payment.ParsedTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Calls++
	if l.Err != nil {
		return nil, l.Err
	}
	return l.transactions[signature], nil
}

func (l *Ledger) GetSignatureStatus(ctx context.Context, signature string) (payment.TxStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return payment.TxStatusNotFound, l.Err
	}
	if status, ok := l.statuses[signature]; ok {
		return status, nil
	}
	return payment.TxStatusNotFound, nil
}

// TokenTransfer builds a finalized transaction moving mint tokens from Payer to recipient
func TokenTransfer(signature, recipient, mint, preAmount, postAmount string) *payment.ParsedTransaction {
	tx := &payment.ParsedTransaction{
		Signature:    signature,
		AccountKeys:  []string{Payer, "payerATA", "recipientATA", recipient, mint},
		PreBalances:  []uint64{1_000_000_000, 2_039_280, 2_039_280, 0, 0},
		PostBalances: []uint64{999_995_000, 2_039_280, 2_039_280, 0, 0},
		PostTokenBalances: []payment.TokenBalance{
			{AccountIndex: 1, Mint: mint, Owner: Payer, Amount: "0"},
			{AccountIndex: 2, Mint: mint, Owner: recipient, Amount: postAmount},
		},
	}
	if preAmount != "" {
		tx.PreTokenBalances = []payment.TokenBalance{
			{AccountIndex: 2, Mint: mint, Owner: recipient, Amount: preAmount},
		}
	}
	return tx
}

// NativeTransfer builds a finalized transaction moving lamports from Payer to recipient
func NativeTransfer(signature, recipient string, lamports uint64) *payment.ParsedTransaction {
	return &payment.ParsedTransaction{
		Signature:    signature,
		AccountKeys:  []string{Payer, recipient, "11111111111111111111111111111111"},
		PreBalances:  []uint64{5_000_000_000, 1_000_000, 1},
		PostBalances: []uint64{5_000_000_000 - lamports - 5000, 1_000_000 + lamports, 1},
	}
}

// Signer records submissions and answers with a fixed signature or error
type Signer struct {
	mu        sync.Mutex
	Signature string
	Err       error
	Calls     int
	Recipient string
	Amount    string
	Asset     string

	// OnSubmit runs before the signer answers, when set
	OnSubmit func(ctx context.Context)
}

func (s *Signer) Submit(ctx context.Context, recipient, amount, asset string) (string, error) {
	s.mu.Lock()
	s.Calls++
	s.Recipient, s.Amount, s.Asset = recipient, amount, asset
	hook := s.OnSubmit
	s.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Signature, nil
}

func (s *Signer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}
