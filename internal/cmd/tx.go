package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/autopay"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/database"
)

var (
	txRecipient string
	txAmount    string
	txAsset     string
	txIdentity  string
	txLimit     int
)

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Inspect payments and the charge history",
}

var txStatusCmd = &cobra.Command{
	Use:   "status <signature>",
	Short: "Show the ledger status of a transaction",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(appOptions{payments: true})
		if err != nil {
			exitf("%v", err)
		}
		defer a.Close()

		printJSON(map[string]any{
			"signature": args[0],
			"network":   a.coordinator.Network(),
			"status":    a.coordinator.GetTransactionStatus(ctx, args[0]),
		})
	},
}

var txVerifyCmd = &cobra.Command{
	Use:   "verify <signature>",
	Short: "Verify a payment on the ledger",
	Long: `Verify that a finalized transaction paid at least the expected amount to
the expected recipient. Recipient, base unit amount and asset default to the
recorded charge with this signature. A recorded charge that was left
unverified is marked completed once it verifies.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(appOptions{payments: true})
		if err != nil {
			exitf("%v", err)
		}
		defer a.Close()

		signature := args[0]
		recipient, amount, asset := txRecipient, txAmount, txAsset

		charge, err := a.db.GetChargeBySignature(ctx, signature)
		if err != nil {
			exitf("%v", err)
		}
		if charge != nil {
			if recipient == "" {
				recipient = charge.Recipient
			}
			if amount == "" {
				amount = charge.BaseAmount
			}
			if asset == "" {
				asset = charge.Asset
			}
		}
		if recipient == "" || amount == "" {
			exitf("no recorded charge for %s; pass --recipient and --amount", signature)
		}

		verified := a.coordinator.VerifyTransaction(ctx, signature, recipient, amount, asset)
		result := map[string]any{
			"signature": signature,
			"recipient": recipient,
			"amount":    amount,
			"asset":     asset,
			"verified":  verified,
		}

		if verified && charge != nil && charge.Status == database.ChargeStatusUnverified {
			confirmed, err := a.governor.ConfirmCharge(ctx, signature)
			if err != nil {
				exitf("failed to update charge: %v", err)
			}
			result["charge_confirmed"] = confirmed
		}

		printJSON(result)
	},
}

var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded charges, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(appOptions{})
		if err != nil {
			exitf("%v", err)
		}
		defer a.Close()

		charges, err := a.db.ListCharges(context.Background(), txIdentity, txLimit)
		if err != nil {
			exitf("%v", err)
		}
		if len(charges) == 0 {
			fmt.Printf("No charges recorded for %s\n", txIdentity)
			return
		}
		printJSON(charges)
	},
}

func init() {
	txVerifyCmd.Flags().StringVar(&txRecipient, "recipient", "", "expected recipient address")
	txVerifyCmd.Flags().StringVar(&txAmount, "amount", "", "expected amount in base units")
	txVerifyCmd.Flags().StringVar(&txAsset, "asset", "", "token mint, or \"sol\" for the native asset")

	txListCmd.Flags().StringVar(&txIdentity, "identity", autopay.DefaultIdentity, "spending identity")
	txListCmd.Flags().IntVar(&txLimit, "limit", 20, "maximum number of charges")

	txCmd.AddCommand(txStatusCmd)
	txCmd.AddCommand(txVerifyCmd)
	txCmd.AddCommand(txListCmd)

	rootCmd.AddCommand(txCmd)
}
