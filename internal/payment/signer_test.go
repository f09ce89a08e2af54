package payment

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

const testSignature = "3hizm34taS8t9UvpJg9oRCJ7EWYkuUHNCecrhuBZjG7L2RfqEqgApn2VsKS94Agj9UgBdgQT6HsaaFRUu7ZT44sU"

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}

	path := filepath.Join(t.TempDir(), "signer.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func testLogger() *utils.LogsManager {
	return utils.NewLogsManagerWithWriter(utils.NewDefaultConfigManager(), io.Discard)
}

func TestCommandSignerPassesDiscreteArguments(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	script := writeScript(t, `for a in "$@"; do echo "$a" >> "`+argsFile+`"; done
echo "sending..."
echo "`+testSignature+`"
`)

	signer, err := NewCommandSigner(script+" --keypair '/keys/my key.json'", SolanaMainnet, 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	sig, err := signer.Submit(context.Background(), "CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q", "250000", USDCMainnetMint)
	if err != nil {
		t.Fatalf("Failed to submit: %v", err)
	}
	if sig != testSignature {
		t.Errorf("Expected last output line as signature, got %s", sig)
	}

	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("Failed to read args: %v", err)
	}
	got := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"--keypair", "/keys/my key.json",
		"--recipient", "CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q",
		"--amount", "250000",
		"--asset", USDCMainnetMint,
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Expected args %v, got %v", want, got)
	}
}

func TestCommandSignerNonZeroExit(t *testing.T) {
	script := writeScript(t, "echo 'insufficient funds' >&2\nexit 3\n")

	signer, err := NewCommandSigner(script, SolanaMainnet, 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	_, err = signer.Submit(context.Background(), "CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q", "1000", "SOL")
	if !errors.Is(err, ErrPaymentExecutionFailed) {
		t.Fatalf("Expected ErrPaymentExecutionFailed, got %v", err)
	}

	var pe *PaymentError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected PaymentError, got %T", err)
	}
	if pe.Details["stderr"] != "insufficient funds" {
		t.Errorf("Expected captured stderr, got %v", pe.Details["stderr"])
	}
	if pe.Details["exit_code"] != 3 {
		t.Errorf("Expected exit code 3, got %v", pe.Details["exit_code"])
	}
}

func TestCommandSignerSpawnFailure(t *testing.T) {
	signer, err := NewCommandSigner(filepath.Join(t.TempDir(), "missing-signer"), SolanaMainnet, time.Second, testLogger())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	if _, err := signer.Submit(context.Background(), "CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q", "1000", "SOL"); !errors.Is(err, ErrPaymentExecutionFailed) {
		t.Errorf("Expected ErrPaymentExecutionFailed, got %v", err)
	}
}

func TestCommandSignerTimeout(t *testing.T) {
	script := writeScript(t, "exec sleep 5\n")

	signer, err := NewCommandSigner(script, SolanaMainnet, 100*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	start := time.Now()
	_, err = signer.Submit(context.Background(), "CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q", "1000", "SOL")
	if !errors.Is(err, ErrPaymentExecutionFailed) {
		t.Fatalf("Expected ErrPaymentExecutionFailed, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Expected signer to be killed at the timeout")
	}
}

func TestCommandSignerRejectsInjectionWithoutSpawning(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	script := writeScript(t, "touch "+marker+"\n")

	signer, err := NewCommandSigner(script, SolanaMainnet, time.Second, testLogger())
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}

	_, err = signer.Submit(context.Background(), "$(touch /tmp/pwned)", "1000", "SOL")
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("Expected ErrInvalidAddress, got %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("Expected signer process not to be started")
	}
}

func TestNewCommandSignerEmpty(t *testing.T) {
	if _, err := NewCommandSigner("  ", SolanaMainnet, time.Second, testLogger()); !errors.Is(err, ErrSignerNotConfigured) {
		t.Errorf("Expected ErrSignerNotConfigured, got %v", err)
	}
}
