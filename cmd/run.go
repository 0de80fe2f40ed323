package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
	"github.com/shawkym/agentpipe-orchestrator/pkg/orchestrator"
)

var (
	runConversationID string
	runUserID         string
	runJSON           bool
)

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Drive a single conversation turn through the orchestrator",
	Args:  cobra.ExactArgs(1),
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

		result := app.Resilience.Orchestrate(ctx, args[0], nil, runUserID, runConversationID)

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				logFatal(err)
			}
			return
		}

		switch result.Kind {
		case orchestrator.ResultOK, orchestrator.ResultBudgetExceeded:
			fmt.Println(result.Response)
			if result.Kind == orchestrator.ResultBudgetExceeded {
				fmt.Fprintln(os.Stderr, "warning: conversation budget exceeded")
			}
		case orchestrator.ResultPaused:
			fmt.Printf("paused for approval %s (risk: %s)\n", result.Paused.ApprovalID, result.Paused.RiskLevel)
		case orchestrator.ResultBlocked:
			fmt.Fprintf(os.Stderr, "blocked: %s\n", result.Blocked.Reason)
			os.Exit(1)
		default:
			fmt.Fprintf(os.Stderr, "error: %s\n", result.Error)
			os.Exit(1)
		}

		log.WithFields(map[string]interface{}{
			"conversation_id": result.ConversationID,
			"kind":            result.Kind,
			"turns":           result.TurnCount,
		}).Debug("conversation turn complete")
	},
}

func init() {
	runCmd.Flags().StringVar(&runConversationID, "conversation", "", "existing conversation id to continue")
	runCmd.Flags().StringVar(&runUserID, "user", "cli", "user id attributed to this turn")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full Result as JSON")
	rootCmd.AddCommand(runCmd)
}
