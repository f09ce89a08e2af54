package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/autopay"
)

var (
	fetchMethod     string
	fetchData       string
	fetchHeaders    []string
	fetchIdentity   string
	fetchMaxPayment string
	fetchThreshold  string
	fetchApproved   bool
	fetchRaw        bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Request a URL, paying for it when it answers 402",
	Long: `Request a URL. When the endpoint answers 402 Payment Required, the
offered payment is checked against the spending limits, the max payment and
the autopay threshold, paid, verified on the ledger and the request is
retried with a payment proof.

Payments above the threshold ask for confirmation on the terminal, or can be
approved up front with --yes.

Example:
  x402-autopay fetch https://api.example.com/weather --threshold 0.50`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(appOptions{payments: true, events: autopay.Callbacks{
			OnPaymentAttempt: func(e autopay.PaymentEvent) {
				fmt.Fprintf(os.Stderr, "Paying %s to %s...\n", e.Amount, e.Recipient)
			},
			OnPaymentSuccess: func(e autopay.PaymentEvent) {
				fmt.Fprintf(os.Stderr, "Payment %s verified\n", e.Signature)
			},
			OnPaymentFailure: func(e autopay.PaymentEvent) {
				fmt.Fprintf(os.Stderr, "Payment failed: %v\n", e.Error)
			},
		}})
		if err != nil {
			exitf("%v", err)
		}
		defer a.Close()

		header := make(http.Header)
		for _, h := range fetchHeaders {
			name, value, ok := strings.Cut(h, ":")
			if !ok {
				exitf("invalid header %q, expected 'Name: value'", h)
			}
			header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		req := autopay.FetchRequest{
			Method:           strings.ToUpper(fetchMethod),
			URL:              args[0],
			Header:           header,
			Identity:         fetchIdentity,
			MaxPayment:       fetchMaxPayment,
			AutopayThreshold: fetchThreshold,
		}
		if fetchData != "" {
			req.Body = []byte(fetchData)
			if req.Method == "" {
				req.Method = http.MethodPost
			}
		}

		result := a.client.FetchWithAutopay(ctx, req)
		if result.NeedsUserApproval {
			question := fmt.Sprintf("%s asks for %s (%s) paid to %s. Pay?", req.URL, result.PaymentAmount, result.Asset, result.Recipient)
			if fetchApproved || confirm(question) {
				req.Approval = result.Approval()
				result = a.client.FetchWithAutopay(ctx, req)
			}
		}

		if fetchRaw && result.Success {
			os.Stdout.Write(result.Body)
		} else {
			printJSON(result)
		}

		if result.Err != nil || result.NeedsUserApproval {
			a.Close()
			logger.Close()
			os.Exit(1)
		}
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchMethod, "method", "X", "", "HTTP method (default GET, or POST with --data)")
	fetchCmd.Flags().StringVarP(&fetchData, "data", "d", "", "request body")
	fetchCmd.Flags().StringArrayVarP(&fetchHeaders, "header", "H", nil, "extra request header 'Name: value' (repeatable)")
	fetchCmd.Flags().StringVar(&fetchIdentity, "identity", "", "spending identity (default \"default\")")
	fetchCmd.Flags().StringVar(&fetchMaxPayment, "max-payment", "", "never pay more than this amount")
	fetchCmd.Flags().StringVar(&fetchThreshold, "threshold", "", "pay without asking up to this amount")
	fetchCmd.Flags().BoolVarP(&fetchApproved, "yes", "y", false, "approve payments above the threshold")
	fetchCmd.Flags().BoolVar(&fetchRaw, "raw", false, "print only the response body on success")

	rootCmd.AddCommand(fetchCmd)
}
