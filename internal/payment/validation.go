package payment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

// shellMetaChars are rejected in any value that may reach a signer process
const shellMetaChars = ";&|`$()<>\\\"'*?[]{}~!#%^=\n\r\t "

var (
	solanaAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	solanaSigPattern     = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{64,88}$`)
	evmAddressPattern    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	evmTxHashPattern     = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

func containsShellMeta(value string) bool {
	return strings.ContainsAny(value, shellMetaChars)
}

// ValidateAddress checks a recipient or token address against the address
// syntax of the given CAIP-2 network.
func ValidateAddress(caip2Network, address string) error {
	if address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	if containsShellMeta(address) {
		return fmt.Errorf("%w: address contains forbidden characters", ErrInvalidAddress)
	}

	switch {
	case IsEVM(caip2Network):
		if !evmAddressPattern.MatchString(address) || !common.IsHexAddress(address) {
			return fmt.Errorf("%w: %q is not an EVM address", ErrInvalidAddress, address)
		}
		return nil
	default:
		if !solanaAddressPattern.MatchString(address) {
			return fmt.Errorf("%w: %q is not a base58 address", ErrInvalidAddress, address)
		}
		decoded, err := base58.Decode(address)
		if err != nil || len(decoded) != 32 {
			return fmt.Errorf("%w: %q does not decode to a 32-byte key", ErrInvalidAddress, address)
		}
		return nil
	}
}

// ValidateAsset accepts the native asset markers or a token address
func ValidateAsset(caip2Network, asset string) error {
	if containsShellMeta(asset) {
		return fmt.Errorf("%w: asset contains forbidden characters", ErrInvalidAddress)
	}
	if IsNativeAsset(asset) {
		return nil
	}
	return ValidateAddress(caip2Network, asset)
}

// ValidateSignature checks the syntax of a transaction id returned by a signer
func ValidateSignature(caip2Network, signature string) error {
	if containsShellMeta(signature) {
		return fmt.Errorf("%w: signature contains forbidden characters", ErrInvalidSignature)
	}

	if IsEVM(caip2Network) {
		if !evmTxHashPattern.MatchString(signature) {
			return fmt.Errorf("%w: %q", ErrInvalidSignature, signature)
		}
		return nil
	}

	if !solanaSigPattern.MatchString(signature) {
		return fmt.Errorf("%w: %q", ErrInvalidSignature, signature)
	}
	decoded, err := base58.Decode(signature)
	if err != nil || len(decoded) != 64 {
		return fmt.Errorf("%w: %q does not decode to 64 bytes", ErrInvalidSignature, signature)
	}
	return nil
}
