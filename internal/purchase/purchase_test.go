package purchase_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/autopay"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/database"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/discovery"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment/paymenttest"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/purchase"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/session"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/spending"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

type fixture struct {
	service     *purchase.Service
	sessions    *session.Store
	governor    *spending.Governor
	coordinator *payment.Coordinator
	client      *autopay.Client
	signer      *paymenttest.Signer
	ledger      *paymenttest.Ledger
	db          *database.SQLiteManager
	proofs      *payment.ProofIssuer
	logger      *utils.LogsManager
	paid        atomic.Int32
}

func newFixture(t *testing.T, withSigner bool) *fixture {
	t.Helper()

	cm := utils.NewDefaultConfigManager()
	cm.SetConfig("verify_attempts", 2)
	cm.SetConfig("verify_interval", time.Millisecond)
	logger := utils.NewLogsManagerWithWriter(cm, io.Discard)

	db, err := database.NewInMemorySQLiteManager(cm, logger)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		signer: &paymenttest.Signer{Signature: paymenttest.Signature},
		ledger: paymenttest.NewLedger(),
		db:     db,
		proofs: payment.NewProofIssuer([]byte("purchase-secret"), "x402-autopay", time.Hour),
		logger: logger,
	}

	var signer payment.Signer
	if withSigner {
		signer = f.signer
	}
	f.coordinator, err = payment.NewCoordinator(cm, signer, f.ledger, logger)
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	f.governor = spending.NewGovernor(db, cm, utils.NewRealClock(), logger)
	f.sessions = session.NewStore(cm, utils.NewRealClock(), logger)
	f.client = autopay.NewClient(cm, f.coordinator, f.governor, f.proofs, logger)
	return f
}

// withProviders serves discovery from candidates
func (f *fixture) withProviders(candidates ...discovery.Candidate) *fixture {
	catalog := discovery.NewCatalog(candidates, f.logger)
	f.service = purchase.NewService(f.sessions, catalog, f.client, f.coordinator, f.governor, f.logger)
	return f
}

// paidEndpoint asks for 0.25 USDC and answers with JSON once paid
func (f *fixture) paidEndpoint(t *testing.T) string {
	t.Helper()

	offers, err := payment.EncodeOffersHeader([]payment.PaymentOffer{{
		Scheme:    "exact",
		Network:   "solana",
		Asset:     paymenttest.USDC,
		Amount:    "250000",
		Recipient: paymenttest.Recipient,
	}})
	if err != nil {
		t.Fatalf("Failed to encode offers: %v", err)
	}

	content := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.paid.Add(1)
		io.WriteString(w, `{"answer":42}`)
	})
	server := httptest.NewServer(f.proofs.RequireProof(payment.DefaultProofHeader, offers, content))
	t.Cleanup(server.Close)
	return server.URL
}

func (f *fixture) settle() {
	f.ledger.Add(paymenttest.TokenTransfer(paymenttest.Signature, paymenttest.Recipient, paymenttest.USDC, "1000", "251000"))
}

func deadEndpoint() string {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	return url
}

func candidate(id, endpoint string, reputation float64) discovery.Candidate {
	return discovery.Candidate{
		ID:           id,
		Endpoint:     endpoint,
		Price:        "0.25",
		Reputation:   reputation,
		Capabilities: []string{"answers"},
	}
}

func TestPurchaseWithLocalSigner(t *testing.T) {
	f := newFixture(t, true)
	f.withProviders(candidate("oracle", f.paidEndpoint(t), 4.5))
	f.settle()
	ctx := context.Background()

	prepared, err := f.service.Prepare(ctx, purchase.PrepareRequest{Identity: "agent-1", Capability: "answers"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if prepared.Status != session.StatusPaymentReady {
		t.Fatalf("Expected payment_ready, got %s", prepared.Status)
	}
	if prepared.Instruction.DecimalAmount() != "0.25" || prepared.Provider.ID != "oracle" {
		t.Errorf("Unexpected quote %s from %s", prepared.Instruction.DecimalAmount(), prepared.Provider.ID)
	}
	if f.signer.CallCount() != 0 {
		t.Error("Prepare must not pay")
	}

	executed, err := f.service.Execute(ctx, prepared.SessionID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !executed.Submitted || executed.Signature != paymenttest.Signature {
		t.Errorf("Expected submitted payment, got %+v", executed)
	}

	completed, err := f.service.Complete(ctx, prepared.SessionID, "")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != session.StatusCompleted || !completed.Verified {
		t.Errorf("Unexpected completion %+v", completed)
	}
	if string(completed.Result) != `{"answer":42}` {
		t.Errorf("Unexpected result %s", completed.Result)
	}
	if f.paid.Load() != 1 || f.signer.CallCount() != 1 {
		t.Errorf("Expected one paid call and one payment, got %d and %d", f.paid.Load(), f.signer.CallCount())
	}

	if _, err := f.service.Status(prepared.SessionID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Expected completed session to be consumed, got %v", err)
	}

	charge, err := f.db.GetChargeBySignature(ctx, paymenttest.Signature)
	if err != nil || charge == nil || charge.Status != database.ChargeStatusCompleted {
		t.Errorf("Expected completed charge, got %+v (%v)", charge, err)
	}
}

func TestPrepareFallsBackToHealthyBackup(t *testing.T) {
	f := newFixture(t, true)
	f.withProviders(
		candidate("down", deadEndpoint(), 5),
		candidate("up", f.paidEndpoint(t), 4),
		candidate("spare", "https://spare.example.com", 3),
	)

	prepared, err := f.service.Prepare(context.Background(), purchase.PrepareRequest{Capability: "answers"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if prepared.Provider.ID != "up" {
		t.Errorf("Expected healthy provider up, got %s", prepared.Provider.ID)
	}
	if len(prepared.Backups) != 1 || prepared.Backups[0].ID != "spare" {
		t.Errorf("Expected spare as backup, got %+v", prepared.Backups)
	}
}

func TestPrepareNoHealthyProvider(t *testing.T) {
	f := newFixture(t, true)
	f.withProviders(candidate("down", deadEndpoint(), 5))

	_, err := f.service.Prepare(context.Background(), purchase.PrepareRequest{Capability: "answers"})
	if !errors.Is(err, payment.ErrHealthCheckFailed) {
		t.Errorf("Expected ErrHealthCheckFailed, got %v", err)
	}
	if f.signer.CallCount() != 0 {
		t.Error("Signer must not be called")
	}
	if stats := f.sessions.Stats(); stats.ByStatus[session.StatusFailed] != 1 {
		t.Errorf("Expected one failed session, got %+v", stats)
	}
}

func TestPrepareFreeEndpointCompletesImmediately(t *testing.T) {
	f := newFixture(t, true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "plain text")
	}))
	defer server.Close()
	f.withProviders(candidate("free", server.URL, 4))

	prepared, err := f.service.Prepare(context.Background(), purchase.PrepareRequest{Capability: "answers"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if prepared.Status != session.StatusCompleted {
		t.Errorf("Expected completed, got %s", prepared.Status)
	}
	if string(prepared.Result) != `"plain text"` {
		t.Errorf("Unexpected result %s", prepared.Result)
	}
	if f.sessions.Len() != 0 {
		t.Errorf("Expected no sessions left, got %d", f.sessions.Len())
	}
}

func TestPrepareDeniedBySpendingLimit(t *testing.T) {
	f := newFixture(t, true)
	f.withProviders(candidate("oracle", f.paidEndpoint(t), 4))

	perTx := "0.10"
	if _, err := f.governor.SetLimits(context.Background(), "agent-1", spending.LimitsPatch{PerTransaction: &perTx}); err != nil {
		t.Fatalf("Failed to set limits: %v", err)
	}

	_, err := f.service.Prepare(context.Background(), purchase.PrepareRequest{Identity: "agent-1", Capability: "answers"})
	if !errors.Is(err, payment.ErrLimitExceeded) {
		t.Errorf("Expected ErrLimitExceeded, got %v", err)
	}
}

func TestExternalSignerFlowWithLateVerification(t *testing.T) {
	f := newFixture(t, false)
	f.withProviders(candidate("oracle", f.paidEndpoint(t), 4))
	ctx := context.Background()

	prepared, err := f.service.Prepare(ctx, purchase.PrepareRequest{Capability: "answers"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	executed, err := f.service.Execute(ctx, prepared.SessionID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if executed.Submitted || executed.Instruction == nil {
		t.Errorf("Expected instruction for external signer, got %+v", executed)
	}

	_, err = f.service.Complete(ctx, prepared.SessionID, paymenttest.Signature)
	if !errors.Is(err, payment.ErrVerificationFailed) {
		t.Fatalf("Expected ErrVerificationFailed, got %v", err)
	}
	sess, err := f.service.Status(prepared.SessionID)
	if err != nil {
		t.Fatalf("Session should survive a failed verification: %v", err)
	}
	if sess.Status != session.StatusExecuting || sess.RetryCount != 1 {
		t.Errorf("Expected executing with one retry, got %s with %d", sess.Status, sess.RetryCount)
	}
	charge, _ := f.db.GetChargeBySignature(ctx, paymenttest.Signature)
	if charge == nil || charge.Status != database.ChargeStatusUnverified {
		t.Fatalf("Expected unverified charge, got %+v", charge)
	}

	f.settle()
	completed, err := f.service.Complete(ctx, prepared.SessionID, paymenttest.Signature)
	if err != nil {
		t.Fatalf("Complete failed after settlement: %v", err)
	}
	if completed.Status != session.StatusCompleted {
		t.Errorf("Expected completed, got %s", completed.Status)
	}

	charge, _ = f.db.GetChargeBySignature(ctx, paymenttest.Signature)
	if charge == nil || charge.Status != database.ChargeStatusCompleted {
		t.Errorf("Expected charge promoted to completed, got %+v", charge)
	}
	if f.paid.Load() != 1 {
		t.Errorf("Expected one paid call, got %d", f.paid.Load())
	}
}

func (f *fixture) executedSession(t *testing.T, identity string) string {
	t.Helper()
	ctx := context.Background()

	prepared, err := f.service.Prepare(ctx, purchase.PrepareRequest{Identity: identity, Capability: "answers"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := f.service.Execute(ctx, prepared.SessionID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return prepared.SessionID
}

func TestCompleteRejectsSignatureOfCompletedPurchase(t *testing.T) {
	f := newFixture(t, false)
	f.withProviders(candidate("oracle", f.paidEndpoint(t), 4))
	ctx := context.Background()

	first := f.executedSession(t, "agent-1")
	second := f.executedSession(t, "agent-1")
	f.settle()

	if _, err := f.service.Complete(ctx, first, paymenttest.Signature); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	_, err := f.service.Complete(ctx, second, paymenttest.Signature)
	if !errors.Is(err, payment.ErrSignatureAlreadyUsed) {
		t.Fatalf("Expected ErrSignatureAlreadyUsed, got %v", err)
	}
	if payment.CodeOf(err) != payment.CodeInvalidInput {
		t.Errorf("Expected code %s, got %s", payment.CodeInvalidInput, payment.CodeOf(err))
	}

	if f.paid.Load() != 1 {
		t.Errorf("Expected one paid call, got %d", f.paid.Load())
	}
	stats, err := f.governor.GetSpendingStats(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.ChargeCount != 1 || stats.Today != "0.25" {
		t.Errorf("Expected one charge of 0.25, got %d totalling %s", stats.ChargeCount, stats.Today)
	}

	sess, err := f.service.Status(second)
	if err != nil {
		t.Fatalf("Rejected session should remain: %v", err)
	}
	if sess.Status != session.StatusExecuting {
		t.Errorf("Expected rejected session to stay executing, got %s", sess.Status)
	}
}

func TestCompleteRejectsSignatureOfAnotherPendingPurchase(t *testing.T) {
	f := newFixture(t, false)
	f.withProviders(candidate("oracle", f.paidEndpoint(t), 4))
	ctx := context.Background()

	first := f.executedSession(t, "agent-1")
	second := f.executedSession(t, "agent-1")

	if _, err := f.service.Complete(ctx, first, paymenttest.Signature); !errors.Is(err, payment.ErrVerificationFailed) {
		t.Fatalf("Expected ErrVerificationFailed, got %v", err)
	}
	f.settle()

	if _, err := f.service.Complete(ctx, second, paymenttest.Signature); !errors.Is(err, payment.ErrSignatureAlreadyUsed) {
		t.Fatalf("Expected ErrSignatureAlreadyUsed, got %v", err)
	}
	if f.paid.Load() != 0 {
		t.Errorf("Expected no paid call, got %d", f.paid.Load())
	}

	if _, err := f.service.Complete(ctx, first, paymenttest.Signature); err != nil {
		t.Fatalf("Owner of the signature should still complete: %v", err)
	}
	if f.paid.Load() != 1 {
		t.Errorf("Expected one paid call, got %d", f.paid.Load())
	}
}

func TestExecuteRequiresReadySession(t *testing.T) {
	f := newFixture(t, true)
	f.withProviders(candidate("oracle", f.paidEndpoint(t), 4))
	ctx := context.Background()

	prepared, err := f.service.Prepare(ctx, purchase.PrepareRequest{Capability: "answers"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := f.service.Execute(ctx, prepared.SessionID); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if _, err := f.service.Execute(ctx, prepared.SessionID); !errors.Is(err, purchase.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second execute, got %v", err)
	}
	if f.signer.CallCount() != 1 {
		t.Errorf("Expected a single payment, got %d", f.signer.CallCount())
	}
	if _, err := f.service.Execute(ctx, "missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestExecuteSignerFailureReturnsToReady(t *testing.T) {
	f := newFixture(t, true)
	f.withProviders(candidate("oracle", f.paidEndpoint(t), 4))
	f.signer.Err = errors.New("insufficient funds")
	ctx := context.Background()

	prepared, err := f.service.Prepare(ctx, purchase.PrepareRequest{Capability: "answers"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	if _, err := f.service.Execute(ctx, prepared.SessionID); !errors.Is(err, payment.ErrPaymentExecutionFailed) {
		t.Fatalf("Expected ErrPaymentExecutionFailed, got %v", err)
	}
	sess, err := f.service.Status(prepared.SessionID)
	if err != nil {
		t.Fatalf("Session lost: %v", err)
	}
	if sess.Status != session.StatusPaymentReady || sess.RetryCount != 1 {
		t.Errorf("Expected payment_ready with one retry, got %s with %d", sess.Status, sess.RetryCount)
	}
}
