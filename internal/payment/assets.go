package payment

import "strings"

const (
	NativeSOLDecimals = 9

	USDCMainnetMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDevnetMint  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
	USDTMainnetMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	WrappedSOLMint  = "So11111111111111111111111111111111111111112"

	systemProgramID = "11111111111111111111111111111111"
)

var knownDecimals = map[string]int{
	USDCMainnetMint: 6,
	USDCDevnetMint:  6,
	USDTMainnetMint: 6,
	WrappedSOLMint:  9,
	// Base and Base Sepolia USDC
	"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": 6,
	"0x036cbd53842c5426634e7929541ec2318f3dcf7e": 6,
}

// IsNativeAsset reports whether the asset names the chain's native coin
func IsNativeAsset(asset string) bool {
	switch strings.ToLower(strings.TrimSpace(asset)) {
	case "sol", "native":
		return true
	}
	return asset == systemProgramID
}

// AssetDecimals returns the base-unit scale for an asset, or fallback when unknown
func AssetDecimals(asset string, fallback int) int {
	if IsNativeAsset(asset) {
		return NativeSOLDecimals
	}
	if d, ok := knownDecimals[asset]; ok {
		return d
	}
	if d, ok := knownDecimals[strings.ToLower(asset)]; ok {
		return d
	}
	return fallback
}
