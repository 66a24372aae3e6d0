package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kijani-supplies/order-desk/internal/model"
	"github.com/kijani-supplies/order-desk/internal/orderfile"
	"github.com/kijani-supplies/order-desk/internal/routing"
)

var (
	importFile     string
	importCustomer string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an XLSX order file",
	Long:  "Parses a spreadsheet order form and commits it through the same reconciliation path as a message, so a later WhatsApp correction merges into the imported order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		parsed, err := orderfile.Parse(importFile, importCustomer)
		if err != nil {
			return err
		}
		for _, warning := range parsed.Warnings {
			zap.L().Warn("order file", zap.String("file", importFile), zap.String("warning", warning))
		}

		conv, err := e.Store.CreateConversation(ctx, importCustomer)
		if err != nil {
			return err
		}
		msg, err := e.Store.AppendMessage(ctx, conv.ID, model.RoleCustomer, parsed.Text(), "file_import")
		if err != nil {
			return err
		}

		res, err := e.Manager.Commit(ctx, conv.ID, parsed.ToExtractedOrder(), msg.ID)
		if err != nil {
			return err
		}

		decision := routing.Decide(res.State)
		if err := saveRoutedOrder(ctx, e, res.State, decision); err != nil {
			return err
		}
		if err := updateConversation(ctx, e, conv.ID, res.State); err != nil {
			return err
		}

		zap.L().Info("order file imported",
			zap.String("file", importFile),
			zap.String("conversation", conv.ID),
			zap.Int("items", len(res.State.ActiveItems())),
			zap.String("decision", string(decision)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"conversation_id": conv.ID,
			"decision":        decision,
			"warnings":        parsed.Warnings,
			"state":           res.State,
		})
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "XLSX order file (required)")
	importCmd.Flags().StringVar(&importCustomer, "customer", "", "customer name (required)")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("customer")
	rootCmd.AddCommand(importCmd)
}
