package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tradesys/ordergate/internal/config"
)

var (
	executeIntentFile string
	executeToken      string
	executeJSON       bool
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute a single order intent from a JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExecute(cmd.Context())
	},
}

func init() {
	executeCmd.Flags().StringVarP(&executeIntentFile, "intent", "i", "", "path to the intent JSON file (required)")
	executeCmd.Flags().StringVar(&executeToken, "token", "", "single-use confirmation token")
	executeCmd.Flags().BoolVar(&executeJSON, "json", false, "print the result as JSON instead of a table")
	executeCmd.MarkFlagRequired("intent")
}

func runExecute(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	svc, err := buildService(cfg, log)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(executeIntentFile)
	if err != nil {
		return fmt.Errorf("failed to read intent file: %w", err)
	}
	var payload intentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("intent file is not valid JSON: %w", err)
	}

	token := executeToken
	if token == "" {
		token = payload.ConfirmationToken
	}

	result, err := svc.eng.ExecuteIntent(ctx, payload.toIntent(), token)
	if err != nil {
		return err
	}

	if executeJSON {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Status", result.Status},
		{"Broker Order ID", result.BrokerOrderID},
		{"Correlation ID", result.CorrelationID},
		{"Reason", result.Decision.Reason},
		{"Message", result.Message},
	})
	t.SetStyle(table.StyleLight)
	t.Render()

	if len(result.Decision.Checks) > 0 {
		ct := table.NewWriter()
		ct.SetOutputMirror(os.Stdout)
		ct.AppendHeader(table.Row{"Check", "Outcome", "Detail"})
		for _, check := range result.Decision.Checks {
			ct.AppendRow(table.Row{check.Name, check.Outcome, check.Detail})
		}
		ct.SetStyle(table.StyleLight)
		ct.Render()
	}
	return nil
}
