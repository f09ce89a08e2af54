package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Trustflow-Network-Labs/x402-autopay/internal/utils"
)

var (
	configPath     string
	passphraseFile string
	logLevel       string
	config         *utils.ConfigManager
	logger         *utils.LogsManager
)

var rootCmd = &cobra.Command{
	Use:   "x402-autopay",
	Short: "Pay-per-call HTTP client for x402 payment-gated resources",
	Long: `Calls HTTP resources that answer 402 Payment Required, decides whether to
pay, settles the payment on the ledger, verifies it and retries the request
with a payment proof.

Every payment is checked against per-transaction, daily and monthly spending
limits, and no endpoint is paid before it passes a health check.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config = utils.NewConfigManager(configPath)

		if logLevel != "" {
			config.SetConfig("log_level", logLevel)
		}

		logger = utils.NewLogsManager(config)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&passphraseFile, "passphrase-file", "", "file holding the keystore passphrase")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// exitf prints an error and exits, closing the log file first
func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if logger != nil {
		logger.Close()
	}
	os.Exit(1)
}
