package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mankinLew/milleu-agent/internal/conversation"
)

// Judge runs a single-turn unit over text and decodes its JSON output into
// out. It is the entry point for model-judged guardrail checks.
func Judge(ctx context.Context, backend Backend, unit Unit, text string, out any) error {
	res, err := backend.Run(ctx, unit, []conversation.Entry{conversation.UserText(text)})
	if err != nil {
		return err
	}
	raw := strings.TrimSpace(res.FinalOutput)
	if raw == "" {
		return fmt.Errorf("%s: empty judge output", unit.Name)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%s: decode judge output: %w", unit.Name, err)
	}
	return nil
}
