package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/payment"
)

func RunInspectTx(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: go run ./scripts inspect-tx <signature> [network]")
		fmt.Println("Network defaults to solana-devnet. AUTOPAY_RPC_ENDPOINT overrides the public endpoint.")
		os.Exit(1)
	}

	network := "solana-devnet"
	if len(args) > 1 {
		network = args[1]
	}

	caip2, err := payment.NewNetworkMapper().ToCaip2(network)
	if err != nil || !payment.IsSolana(caip2) {
		fmt.Printf("Unsupported network %s\n", network)
		os.Exit(1)
	}

	endpoint := os.Getenv("AUTOPAY_RPC_ENDPOINT")
	if endpoint == "" {
		endpoint = payment.GetSolanaRPCEndpoint(caip2)
	}
	ledger := payment.NewSolanaLedger(endpoint, 15*time.Second)

	ctx := context.Background()
	status, err := ledger.GetSignatureStatus(ctx, args[0])
	if err != nil {
		fmt.Printf("Failed to query status: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Endpoint: %s\n", endpoint)
	fmt.Printf("Status:   %s\n", status)

	tx, err := ledger.GetTransaction(ctx, args[0])
	if err != nil {
		fmt.Printf("Failed to fetch transaction: %v\n", err)
		os.Exit(1)
	}
	if tx == nil {
		fmt.Println("Transaction not finalized yet")
		return
	}
	if tx.ExecutionError {
		fmt.Println("Transaction failed on chain")
	}

	fmt.Println("\nNative balance changes (lamports):")
	for i, account := range tx.AccountKeys {
		if i >= len(tx.PreBalances) || i >= len(tx.PostBalances) {
			break
		}
		delta := int64(tx.PostBalances[i]) - int64(tx.PreBalances[i])
		if delta != 0 {
			fmt.Printf("  %s %+d\n", account, delta)
		}
	}

	fmt.Println("\nToken balances (base units, pre -> post):")
	pre := make(map[int]payment.TokenBalance)
	for _, balance := range tx.PreTokenBalances {
		pre[balance.AccountIndex] = balance
	}
	for _, post := range tx.PostTokenBalances {
		before := "0"
		if balance, ok := pre[post.AccountIndex]; ok {
			before = balance.Amount
		}
		fmt.Printf("  owner %s mint %s: %s -> %s\n", post.Owner, post.Mint, before, post.Amount)
	}
}
