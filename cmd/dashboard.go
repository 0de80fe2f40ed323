package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/shawkym/agentpipe-orchestrator/pkg/tui"
)

var dashboardInterval time.Duration

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Launch a live terminal dashboard of orchestrator health",
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

		if err := tui.Run(ctx, app.Orchestrator, dashboardInterval); err != nil {
			logFatal(err)
		}
	},
}

func init() {
	dashboardCmd.Flags().DurationVar(&dashboardInterval, "interval", 2*time.Second, "health poll interval")
	rootCmd.AddCommand(dashboardCmd)
}
