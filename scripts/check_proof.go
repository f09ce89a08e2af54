package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
)

func RunCheckProof(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: AUTOPAY_PROOF_SECRET=... go run ./scripts check-proof <token>")
		os.Exit(1)
	}

	secret := os.Getenv("AUTOPAY_PROOF_SECRET")
	if secret == "" {
		fmt.Println("AUTOPAY_PROOF_SECRET is not set")
		os.Exit(1)
	}

	claims, err := payment.NewProofIssuer([]byte(secret), "x402-autopay", time.Hour).ValidateProof(args[0])
	if err != nil {
		fmt.Printf("Invalid proof: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Signature: %s\n", claims.Signature)
	fmt.Printf("Recipient: %s\n", claims.Recipient)
	fmt.Printf("Amount:    %s\n", claims.Amount)
	fmt.Printf("Asset:     %s\n", claims.Asset)
	fmt.Printf("Network:   %s\n", claims.Network)
	fmt.Printf("Token id:  %s\n", claims.ID)
	if claims.ExpiresAt != nil {
		fmt.Printf("Expires:   %s\n", claims.ExpiresAt.Time.Format(time.RFC3339))
	}
}
