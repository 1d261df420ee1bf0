package main

import (
	"context"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tradesys/ordergate/internal/config"
	"github.com/tradesys/ordergate/internal/store"
)

var ledgerLimit int

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the most recent trade ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLedger(cmd.Context())
	},
}

func init() {
	ledgerCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 50, "maximum number of entries to show")
}

func runLedger(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return err
	}

	entries, err := st.ListLedgerEntries(ctx, ledgerLimit)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Entry", "Broker Order", "Symbol", "Side", "Qty", "Price", "Outcome", "At"})
	for _, entry := range entries {
		t.AppendRow(table.Row{
			entry.EntryID,
			entry.BrokerOrderID,
			entry.Symbol,
			entry.Side,
			entry.Quantity.String(),
			entry.Price.String(),
			entry.Outcome,
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
	return nil
}
