package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "decode-offers":
		RunDecodeOffers(args)
	case "inspect-tx":
		RunInspectTx(args)
	case "check-proof":
		RunCheckProof(args)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: go run ./scripts <command> [args...]")
	fmt.Println("")
	fmt.Println("Available commands:")
	fmt.Println("  decode-offers <header_value|file>")
	fmt.Println("    Decode the payment offers of a 402 response header or body")
	fmt.Println("    Example: go run ./scripts decode-offers ./402-body.json")
	fmt.Println("")
	fmt.Println("  inspect-tx <signature> [network]")
	fmt.Println("    Print the balance changes of a finalized ledger transaction")
	fmt.Println("    Example: go run ./scripts inspect-tx 5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnb solana-devnet")
	fmt.Println("")
	fmt.Println("  check-proof <token>")
	fmt.Println("    Validate a payment proof token with the secret in AUTOPAY_PROOF_SECRET")
}
