package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func newTestKeySigner(t *testing.T, endpoint string) *SolanaKeySigner {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	signer, err := NewSolanaKeySigner(endpoint, key, testLogger())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	if signer.PublicKey() != key.PublicKey().String() {
		t.Errorf("Expected public key %s, got %s", key.PublicKey(), signer.PublicKey())
	}
	return signer
}

func TestNewSolanaKeySignerRejectsShortKey(t *testing.T) {
	if _, err := NewSolanaKeySigner("http://127.0.0.1:1", solana.PrivateKey(make([]byte, 32)), testLogger()); err == nil {
		t.Error("Expected 32-byte key to be rejected")
	}
}

func TestSolanaKeySignerValidatesBeforeRPC(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	signer := newTestKeySigner(t, server.URL)
	recipient := solana.NewWallet().PublicKey().String()

	tests := []struct {
		name      string
		recipient string
		amount    string
		asset     string
		want      error
	}{
		{"shell metacharacter", recipient + ";rm", "1000", "SOL", ErrInvalidAddress},
		{"short recipient", "abc", "1000", "SOL", ErrInvalidAddress},
		{"zero amount", recipient, "0", "SOL", ErrInvalidAmount},
		{"decimal amount", recipient, "0.5", "SOL", ErrInvalidAmount},
		{"bad asset", recipient, "1000", "not-a-mint", ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Submit(context.Background(), tt.recipient, tt.amount, tt.asset)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if calls.Load() != 0 {
		t.Errorf("Expected no RPC calls for invalid input, got %d", calls.Load())
	}
}

func TestSolanaKeySignerRPCFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	signer := newTestKeySigner(t, server.URL)

	_, err := signer.Submit(context.Background(), solana.NewWallet().PublicKey().String(), "1000", "SOL")
	if !errors.Is(err, ErrPaymentExecutionFailed) {
		t.Fatalf("Expected ErrPaymentExecutionFailed, got %v", err)
	}
	if CodeOf(err) != CodeExecutionFailed {
		t.Errorf("Expected execution failed code, got %s", CodeOf(err))
	}
}
