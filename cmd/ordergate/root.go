package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ordergate",
	Short: "Order-execution authority boundary",
	Long: `ordergate decides whether a proposed trade may reach a broker, tracks the
order's lifecycle once placed, and guarantees capital and execution counters
survive concurrent and retried attempts.

Strategy producers emit order intents; ordergate is the only component
authorized to place orders.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(mintTokenCmd)
}
