package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kijani-supplies/order-desk/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "order-desk",
	Short: "Cumulative order reconciliation for WhatsApp order intake",
	Long:  "Extracts structured orders from free-text customer messages, reconciles them across conversation turns into a versioned cumulative order, and routes committed orders to Odoo.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
