package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shawkym/agentpipe-orchestrator/pkg/hitl"
	"github.com/shawkym/agentpipe-orchestrator/pkg/log"
)

var serveAddrOverride string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator as an HTTP service",
	Long: `serve exposes the orchestrator over HTTP: POST /v1/converse drives a
single conversation turn, GET /v1/health reports circuit breaker and pause
state, and GET /metrics exposes Prometheus metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfigFromFlag()
		if err != nil {
			logFatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		app, err := buildOrchestrator(ctx, cfg)
		if err != nil {
			logFatal(err)
		}
		defer app.Cleanup()

		addr := cfg.Server.Addr
		if serveAddrOverride != "" {
			addr = serveAddrOverride
		}

		srv := &http.Server{
			Addr:         addr,
			Handler:      buildServeMux(app),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		}

		log.WithField("addr", addr).Info("starting orchestrator server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logFatal(err)
		}
	},
}

func buildServeMux(app *App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.MetricsReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/health", handleHealth(app))
	mux.HandleFunc("/v1/converse", handleConverse(app))
	mux.HandleFunc("/v1/approvals", handleApprovalsList(app))
	return mux
}

func handleHealth(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := app.Orchestrator.Health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(h)
	}
}

type converseRequest struct {
	Message        string                 `json:"message"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id"`
	Context        map[string]interface{} `json:"context"`
}

func handleConverse(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req converseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		if req.Message == "" {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			req.UserID = "anonymous"
		}

		result := app.Resilience.Orchestrate(r.Context(), req.Message, req.Context, req.UserID, req.ConversationID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

func handleApprovalsList(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := hitl.ListFilter{}
		if status := r.URL.Query().Get("status"); status != "" {
			filter.Status = hitl.Status(status)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(app.Orchestrator.ListApprovals(filter))
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddrOverride, "addr", "", "override the configured listen address")
	rootCmd.AddCommand(serveCmd)
}
