package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

func RunDecodeOffers(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: go run ./scripts decode-offers <header_value|file>")
		os.Exit(1)
	}

	var offers []payment.PaymentOffer
	var err error
	if data, readErr := os.ReadFile(args[0]); readErr == nil {
		offers, err = payment.ParseOffers(data)
	} else {
		offers, err = payment.DecodeOffersHeader(args[0])
	}
	if err != nil {
		fmt.Printf("Failed to decode offers: %v\n", err)
		os.Exit(1)
	}

	mapper := payment.NewNetworkMapper()
	for i, offer := range offers {
		fmt.Printf("Offer %d:\n", i+1)
		fmt.Printf("  Network:   %s", offer.Network)
		if !mapper.IsSupported(offer.Network) {
			fmt.Print(" (unsupported)")
		} else if caip2, err := mapper.ToCaip2(offer.Network); err == nil && caip2 != offer.Network {
			fmt.Printf(" (%s)", caip2)
		}
		fmt.Println()
		fmt.Printf("  Recipient: %s\n", offer.Recipient)
		fmt.Printf("  Asset:     %s\n", offer.Asset)

		decimals := payment.AssetDecimals(offer.Asset, 6)
		if amount, err := utils.FormatBaseUnits(offer.Amount, decimals); err == nil {
			fmt.Printf("  Amount:    %s base units (%s)\n", offer.Amount, amount)
		} else {
			fmt.Printf("  Amount:    %s (invalid: %v)\n", offer.Amount, err)
		}
		if offer.Description != "" {
			fmt.Printf("  About:     %s\n", offer.Description)
		}
	}

	encoded, _ := json.MarshalIndent(offers, "", "  ")
	fmt.Printf("\nNormalized:\n%s\n", encoded)
}
