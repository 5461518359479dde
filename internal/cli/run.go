package cli

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mankinLew/milleu-agent/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run <message>",
	Short: "Run one message through the workflow and print the result",
	Long: `Run one customer message through the guardrails, the intent classifier
and the selected support unit, then print the result JSON.

Example:
  milieu run "I want to return my broken phone"
  milieu run --policy ./guardrails.yaml "How do I reset my password?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWorkflow,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("message must not be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	res, err := a.orchestrator.Run(cmd.Context(), workflow.Input{InputAsText: text})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
