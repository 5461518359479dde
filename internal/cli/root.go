package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mankinLew/milleu-agent/internal/config"
)

var (
	policyPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "milieu",
	Short: "Milieu support agent - guardrailed intent routing for customer support",
	Long: `milieu runs customer messages through a configurable set of safety
guardrails, classifies the customer's intent and hands the conversation to
the matching support unit (returns, information, retention).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to a guardrail policy file, YAML or JSON (overrides MILIEU_GUARDRAIL_POLICY)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, err
	}
	if policyPath != "" {
		cfg.Workflow.PolicyPath = policyPath
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
