package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var runSync bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process every unanswered email in the mailbox",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if runSync {
			if err := env.Runner.Sync(ctx); err != nil {
				return err
			}
		}

		summary, err := env.Runner.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runSync, "sync", true, "sync the catalog to the vector store before processing")
	rootCmd.AddCommand(runCmd)
}
