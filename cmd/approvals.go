package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/shawkym/agentpipe-orchestrator/pkg/hitl"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and decide on pending human-in-the-loop approvals",
}

var approvalsListStatus string

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List approval requests, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(app *App, ctx context.Context) {
			filter := hitl.ListFilter{}
			if approvalsListStatus != "" {
				filter.Status = hitl.Status(approvalsListStatus)
			}
			printJSON(app.Orchestrator.ListApprovals(filter))
		})
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id> <rationale>",
	Short: "Approve a pending action, resuming its conversation",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(app *App, ctx context.Context) {
			approval, err := app.Orchestrator.Approve(ctx, args[0], "cli", args[1])
			if err != nil {
				logFatal(err)
			}
			printJSON(approval)
		})
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <approval-id> <rationale>",
	Short: "Deny a pending action, resuming its conversation as blocked",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(app *App, ctx context.Context) {
			approval, err := app.Orchestrator.Deny(ctx, args[0], "cli", args[1])
			if err != nil {
				logFatal(err)
			}
			printJSON(approval)
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <approval-id>",
	Short: "Show an approval's full decision trail",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(app *App, ctx context.Context) {
			entries, err := app.Orchestrator.GetAudit(args[0])
			if err != nil {
				logFatal(err)
			}
			printJSON(entries)
		})
	},
}

// withApp loads config, builds the orchestrator, runs fn, and cleans up
// afterward. It exists so every approvals subcommand shares the same
// one-shot process lifecycle without repeating boilerplate.
func withApp(fn func(app *App, ctx context.Context)) {
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
	fn(app, ctx)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logFatal(err)
	}
}

func init() {
	approvalsListCmd.Flags().StringVar(&approvalsListStatus, "status", "", "filter by status (pending, approved, denied, timeout, cancelled)")
	approvalsCmd.AddCommand(approvalsListCmd, approveCmd, denyCmd, auditCmd)
	rootCmd.AddCommand(approvalsCmd)
}
