package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/discovery"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/purchase"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/session"
	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

var (
	purchaseQuery    string
	purchasePayload  string
	purchaseMaxPrice string
	purchaseIdentity string
	purchaseCatalog  string
	purchaseApproved bool
)

var purchaseCmd = &cobra.Command{
	Use:   "purchase <capability>",
	Short: "Buy a capability from the best available provider",
	Long: `Find providers for a capability in the discovery catalog, pick the best
reachable one (highest reputation, then lowest price), quote its payment,
pay it after confirmation, verify the payment and fetch the result.

Without a local signing key or signer command, the payment instruction is
printed and the signature of the externally signed transaction is read from
the terminal.

Example:
  x402-autopay purchase weather --query "hourly forecast" --max-price 0.30`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		catalogPath := purchaseCatalog
		if catalogPath == "" {
			catalogPath = configRelativePath(config.GetConfigWithDefault("discovery_catalog", "providers.yaml"))
		}
		catalog, err := discovery.LoadCatalog(catalogPath, logger)
		if err != nil {
			exitf("%v", err)
		}

		a, err := newApp(appOptions{payments: true})
		if err != nil {
			exitf("%v", err)
		}
		defer a.Close()

		sessions := session.NewStore(config, utils.NewRealClock(), logger)
		sessions.Start()
		defer sessions.Stop()

		service := purchase.NewService(sessions, catalog, a.client, a.coordinator, a.governor, logger)

		var payload json.RawMessage
		if purchasePayload != "" {
			if !json.Valid([]byte(purchasePayload)) {
				exitf("--payload must be valid JSON")
			}
			payload = json.RawMessage(purchasePayload)
		}

		prepared, err := service.Prepare(ctx, purchase.PrepareRequest{
			Identity:   purchaseIdentity,
			Capability: args[0],
			Query:      purchaseQuery,
			Payload:    payload,
			MaxPrice:   purchaseMaxPrice,
		})
		if err != nil {
			exitf("%v", err)
		}
		if prepared.Status == session.StatusCompleted {
			printJSON(prepared)
			return
		}

		instruction := prepared.Instruction
		fmt.Fprintf(os.Stderr, "%s quotes %s (%s) paid to %s\n",
			prepared.Provider.ID, instruction.DecimalAmount(), instruction.Asset(), instruction.Recipient())
		if !purchaseApproved && !confirm("Pay?") {
			fmt.Fprintln(os.Stderr, "Purchase cancelled, nothing was paid")
			return
		}

		executed, err := service.Execute(ctx, prepared.SessionID)
		if err != nil {
			exitf("%v", err)
		}

		signature := executed.Signature
		if !executed.Submitted {
			printJSON(executed)
			signature, err = readLine("Signature of the submitted transaction: ")
			if err != nil || signature == "" {
				exitf("no signature given; session %s stays open until it expires", prepared.SessionID)
			}
		}

		completed, err := service.Complete(ctx, prepared.SessionID, signature)
		if err != nil {
			exitf("%v", err)
		}
		printJSON(completed)
	},
}

func init() {
	purchaseCmd.Flags().StringVarP(&purchaseQuery, "query", "q", "", "free-text provider filter")
	purchaseCmd.Flags().StringVar(&purchasePayload, "payload", "", "JSON request body sent to the provider")
	purchaseCmd.Flags().StringVar(&purchaseMaxPrice, "max-price", "", "skip providers listing a higher price")
	purchaseCmd.Flags().StringVar(&purchaseIdentity, "identity", "", "spending identity (default \"default\")")
	purchaseCmd.Flags().StringVar(&purchaseCatalog, "catalog", "", "provider catalog file (default from config)")
	purchaseCmd.Flags().BoolVarP(&purchaseApproved, "yes", "y", false, "pay without asking")

	rootCmd.AddCommand(purchaseCmd)
}
