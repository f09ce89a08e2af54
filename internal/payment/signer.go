package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

// Signer holds the signing capability and submits one transfer to the ledger,
// returning the transaction signature.
type Signer interface {
	Submit(ctx context.Context, recipient, amount, asset string) (string, error)
}

// CommandSigner delegates the transfer to an external executable. Arguments
// are passed as discrete argv entries and never interpreted by a shell.
type CommandSigner struct {
	executable string
	baseArgs   []string
	network    string
	timeout    time.Duration
	logger     *utils.LogsManager
}

// NewCommandSigner parses commandLine (e.g. `pay-cli --keypair /k.json`) into
// an executable and leading arguments.
func NewCommandSigner(commandLine string, network string, timeout time.Duration, logger *utils.LogsManager) (*CommandSigner, error) {
	parts, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer command: %w", err)
	}
	if len(parts) == 0 {
		return nil, ErrSignerNotConfigured
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &CommandSigner{
		executable: parts[0],
		baseArgs:   parts[1:],
		network:    network,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func (cs *CommandSigner) Submit(ctx context.Context, recipient, amount, asset string) (string, error) {
	if err := ValidateAddress(cs.network, recipient); err != nil {
		return "", err
	}
	if err := ValidateAsset(cs.network, asset); err != nil {
		return "", err
	}
	if _, err := parseBaseAmount(amount); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, cs.timeout)
	defer cancel()

	args := append([]string{}, cs.baseArgs...)
	args = append(args, "--recipient", recipient, "--amount", amount, "--asset", asset)

	cmd := exec.CommandContext(ctx, cs.executable, args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	cs.logger.Debug(fmt.Sprintf("Starting signer: %s (recipient %s, amount %s, asset %s)", cs.executable, recipient, amount, asset), "signer")

	if err := cmd.Run(); err != nil {
		stderr := strings.TrimSpace(stderrBuf.String())
		pe := NewPaymentError(CodeExecutionFailed, ErrPaymentExecutionFailed, err.Error()).
			WithDetail("stderr", stderr)

		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			pe.Message = fmt.Sprintf("signer timed out after %v", cs.timeout)
		case errors.As(err, &exitErr):
			pe.Message = fmt.Sprintf("signer exited with code %d", exitErr.ExitCode())
			pe.WithDetail("exit_code", exitErr.ExitCode())
		default:
			pe.Message = fmt.Sprintf("failed to start signer: %v", err)
		}

		cs.logger.Error(fmt.Sprintf("%s: %s", pe.Message, stderr), "signer")
		return "", pe
	}

	signature := lastLine(stdoutBuf.String())
	if err := ValidateSignature(cs.network, signature); err != nil {
		return "", NewPaymentError(CodeExecutionFailed, ErrPaymentExecutionFailed, "signer output is not a transaction signature").
			WithDetail("stdout", strings.TrimSpace(stdoutBuf.String())).
			WithDetail("stderr", strings.TrimSpace(stderrBuf.String()))
	}

	return signature, nil
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
