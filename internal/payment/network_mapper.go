package payment

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
)

const (
	SolanaMainnet = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnet  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnet = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
)

// NetworkMapper resolves the network names servers put in offers to CAIP-2 ids
type NetworkMapper struct {
	aliasToCaip2 map[string]string
	caip2ToName  map[string]string
}

func NewNetworkMapper() *NetworkMapper {
	caip2ToName := map[string]string{
		"eip155:8453":     "base",
		"eip155:84532":    "base-sepolia",
		"eip155:1":        "ethereum",
		"eip155:11155111": "ethereum-sepolia",
		"eip155:137":      "polygon",
		"eip155:80002":    "polygon-amoy",
		"eip155:43114":    "avalanche",
		"eip155:43113":    "avalanche-fuji",
		SolanaMainnet:     "solana",
		SolanaDevnet:      "solana-devnet",
		SolanaTestnet:     "solana-testnet",
	}

	aliasToCaip2 := make(map[string]string)
	for caip2, name := range caip2ToName {
		aliasToCaip2[name] = caip2
		aliasToCaip2[strings.ToLower(caip2)] = caip2
	}

	extra := map[string]string{
		"solana-mainnet":      SolanaMainnet,
		"solana-mainnet-beta": SolanaMainnet,
		"solana:mainnet":      SolanaMainnet,
		"solana:mainnet-beta": SolanaMainnet,
		"mainnet-beta":        SolanaMainnet,
		"solana:devnet":       SolanaDevnet,
		"devnet":              SolanaDevnet,
		"solana:testnet":      SolanaTestnet,
		"testnet":             SolanaTestnet,
		"base-mainnet":        "eip155:8453",
	}
	for alias, caip2 := range extra {
		aliasToCaip2[alias] = caip2
	}

	return &NetworkMapper{
		aliasToCaip2: aliasToCaip2,
		caip2ToName:  caip2ToName,
	}
}

// ToCaip2 converts a network name or alias to its CAIP-2 identifier
func (nm *NetworkMapper) ToCaip2(network string) (string, error) {
	if caip2, ok := nm.aliasToCaip2[strings.ToLower(strings.TrimSpace(network))]; ok {
		return caip2, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
}

// ToName converts a CAIP-2 identifier to its short network name
func (nm *NetworkMapper) ToName(caip2Network string) (string, error) {
	if name, ok := nm.caip2ToName[caip2Network]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidNetwork, caip2Network)
}

// Matches reports whether two network identifiers name the same chain
func (nm *NetworkMapper) Matches(a, b string) bool {
	ca, err := nm.ToCaip2(a)
	if err != nil {
		return false
	}
	cb, err := nm.ToCaip2(b)
	if err != nil {
		return false
	}
	return ca == cb
}

func (nm *NetworkMapper) IsSupported(network string) bool {
	_, err := nm.ToCaip2(network)
	return err == nil
}

// IsSolana reports whether the CAIP-2 id belongs to the solana namespace
func IsSolana(caip2Network string) bool {
	return strings.HasPrefix(caip2Network, "solana:")
}

// IsEVM reports whether the CAIP-2 id belongs to the eip155 namespace
func IsEVM(caip2Network string) bool {
	return strings.HasPrefix(caip2Network, "eip155:")
}

// GetSolanaRPCEndpoint returns the public RPC endpoint for a solana CAIP-2 id
func GetSolanaRPCEndpoint(caip2Network string) string {
	switch caip2Network {
	case SolanaMainnet:
		return rpc.MainNetBeta_RPC
	case SolanaTestnet:
		return rpc.TestNet_RPC
	default:
		return rpc.DevNet_RPC
	}
}
