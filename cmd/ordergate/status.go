package main

import (
	"context"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tradesys/ordergate/internal/authz"
	"github.com/tradesys/ordergate/internal/config"
	"github.com/tradesys/ordergate/internal/store"
)

var statusAll bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show operating mode, open orders, and capital reservations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context())
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "include terminal orders, not just open ones")
}

func runStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return err
	}

	mode := authz.NewModeGate(cfg.ModeSource()).Current()
	kill := authz.NewKillSwitch(cfg.KillFlagSource(), cfg.KillFileSource())
	killEngaged, killSource := kill.State()

	gt := table.NewWriter()
	gt.SetOutputMirror(os.Stdout)
	gt.AppendHeader(table.Row{"Gate", "State"})
	gt.AppendRow(table.Row{"Mode", string(mode)})
	if killEngaged {
		gt.AppendRow(table.Row{"Kill Switch", "ENGAGED (" + killSource + ")"})
	} else {
		gt.AppendRow(table.Row{"Kill Switch", "off"})
	}
	gt.SetStyle(table.StyleLight)
	gt.Render()

	var recs []store.OrderRecord
	if statusAll {
		recs, err = st.ListRecentOrders(ctx, 50)
	} else {
		recs, err = st.ListOpenOrders(ctx)
	}
	if err != nil {
		return err
	}

	ot := table.NewWriter()
	ot.SetOutputMirror(os.Stdout)
	ot.AppendHeader(table.Row{"Intent", "Broker Order", "Symbol", "Side", "Qty", "Filled", "Status", "Created"})
	for _, rec := range recs {
		ot.AppendRow(table.Row{
			rec.ClientIntentID,
			rec.BrokerOrderID,
			rec.Symbol,
			rec.Side,
			rec.Quantity.String(),
			rec.FilledQty.String(),
			rec.Status,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	ot.SetStyle(table.StyleLight)
	ot.Render()

	accounts, err := st.ListReservationAccounts(ctx)
	if err != nil {
		return err
	}
	rt := table.NewWriter()
	rt.SetOutputMirror(os.Stdout)
	rt.AppendHeader(table.Row{"Tenant", "Account", "Reserved"})
	for _, acct := range accounts {
		rt.AppendRow(table.Row{acct.TenantID, acct.AccountID, acct.ReservedTotal.String()})
	}
	rt.SetStyle(table.StyleLight)
	rt.Render()
	return nil
}
