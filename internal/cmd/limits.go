package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/autopay"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/spending"
)

var (
	limitsIdentity       string
	limitsPerTransaction string
	limitsDaily          string
	limitsMonthly        string
	limitsEnable         bool
	limitsDisable        bool
)

var limitsCmd = &cobra.Command{
	Use:   "limits",
	Short: "Manage spending limits",
	Long: `Manage the per-transaction, daily and monthly spending limits of an
identity. Amounts are decimals with up to six fractional digits.

Daily and monthly windows are calendar days and months in UTC.`,
}

var limitsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show limits and current spending",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(appOptions{})
		if err != nil {
			exitf("%v", err)
		}
		defer a.Close()

		ctx := context.Background()
		limits, err := a.governor.GetLimits(ctx, limitsIdentity)
		if err != nil {
			exitf("failed to read limits: %v", err)
		}
		stats, err := a.governor.GetSpendingStats(ctx, limitsIdentity)
		if err != nil {
			exitf("failed to read spending: %v", err)
		}

		printJSON(map[string]any{
			"identity": limitsIdentity,
			"limits":   limits,
			"spending": stats,
		})
	},
}

var limitsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set one or more limits",
	Long: `Set one or more limits. Unset flags keep their current value; an identity
without limits starts from the configured defaults.

Example:
  x402-autopay limits set --identity agent-1 --daily 5.00 --per-transaction 0.50`,
	Run: func(cmd *cobra.Command, args []string) {
		if limitsEnable && limitsDisable {
			exitf("--enable and --disable are mutually exclusive")
		}

		var patch spending.LimitsPatch
		if cmd.Flags().Changed("per-transaction") {
			patch.PerTransaction = &limitsPerTransaction
		}
		if cmd.Flags().Changed("daily") {
			patch.Daily = &limitsDaily
		}
		if cmd.Flags().Changed("monthly") {
			patch.Monthly = &limitsMonthly
		}
		if limitsEnable || limitsDisable {
			enabled := limitsEnable
			patch.Enabled = &enabled
		}

		a, err := newApp(appOptions{})
		if err != nil {
			exitf("%v", err)
		}
		defer a.Close()

		limits, err := a.governor.SetLimits(context.Background(), limitsIdentity, patch)
		if err != nil {
			exitf("%v", err)
		}
		printJSON(limits)
	},
}

var limitsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove the limits of an identity",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(appOptions{})
		if err != nil {
			exitf("%v", err)
		}
		defer a.Close()

		if err := a.governor.ResetLimits(context.Background(), limitsIdentity); err != nil {
			exitf("%v", err)
		}
		fmt.Printf("Limits of %s removed\n", limitsIdentity)
	},
}

var limitsCheckCmd = &cobra.Command{
	Use:   "check <amount>",
	Short: "Check whether a payment would be allowed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(appOptions{})
		if err != nil {
			exitf("%v", err)
		}
		defer a.Close()

		check, err := a.governor.CheckLimit(context.Background(), limitsIdentity, args[0])
		if err != nil {
			exitf("%v", err)
		}
		printJSON(check)
	},
}

func init() {
	limitsCmd.PersistentFlags().StringVar(&limitsIdentity, "identity", autopay.DefaultIdentity, "spending identity")

	limitsSetCmd.Flags().StringVar(&limitsPerTransaction, "per-transaction", "", "largest single payment")
	limitsSetCmd.Flags().StringVar(&limitsDaily, "daily", "", "total per UTC day")
	limitsSetCmd.Flags().StringVar(&limitsMonthly, "monthly", "", "total per UTC month")
	limitsSetCmd.Flags().BoolVar(&limitsEnable, "enable", false, "enforce the limits")
	limitsSetCmd.Flags().BoolVar(&limitsDisable, "disable", false, "stop enforcing the limits")

	limitsCmd.AddCommand(limitsShowCmd)
	limitsCmd.AddCommand(limitsSetCmd)
	limitsCmd.AddCommand(limitsResetCmd)
	limitsCmd.AddCommand(limitsCheckCmd)

	rootCmd.AddCommand(limitsCmd)
}
