package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report orchestrator health: circuit breaker, agents, pauses",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfigFromFlag()
		if err != nil {
			logFatal(err)
		}

		ctx := context.Background()
		app, err := buildOrchestrator(ctx, cfg)
		if err != nil {
			logFatal(err)
		}
		defer app.Cleanup()

		h := app.Orchestrator.Health()
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(h); err != nil {
			logFatal(err)
		}

		if h.Status != "healthy" {
			fmt.Fprintf(os.Stderr, "status: %s\n", h.Status)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
