package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mankinLew/milleu-agent/internal/server"
	"github.com/mankinLew/milleu-agent/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API serving the workflow endpoint, chat session issuance
and health checks. Stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry, Version)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	sessions := server.NewChatKitSessions(a.backend.Client(), cfg.OpenAI.WorkflowID)
	srv := server.New(*cfg, a.orchestrator, sessions)
	slog.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)
	return srv.Run()
}
