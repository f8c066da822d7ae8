package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fernwood/orderdesk/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "orderdesk",
	Short: "Automated order intake for the product mailbox",
	Long:  "Classifies customer emails, reconciles order requests against catalog stock via semantic retrieval and tiered Claude models, and writes customer-ready responses.",
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
