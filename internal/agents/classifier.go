package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/mankinLew/milleu-agent/internal/conversation"
	"github.com/mankinLew/milleu-agent/internal/llm"
)

const classificationSchema = `{
  "type": "object",
  "properties": {
    "classification": {"type": "string"}
  },
  "required": ["classification"],
  "additionalProperties": false
}`

// Classification is the classifier's result. Raw and Parsed carry its
// structured output verbatim for the fallback path.
type Classification struct {
	Label      Intent
	Raw        json.RawMessage
	Parsed     map[string]any
	NewEntries []conversation.Entry
}

type Classifier struct {
	backend llm.Backend
	unit    llm.Unit
	schema  *jsonschema.Schema
}

// NewClassifier builds the intent classifier. The cancellation label is only
// offered to the model when retention routing is enabled.
func NewClassifier(backend llm.Backend, model string, withRetention bool) (*Classifier, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(classificationSchema))
	if err != nil {
		return nil, fmt.Errorf("compile classification schema: %w", err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal([]byte(classificationSchema), &schemaMap); err != nil {
		return nil, err
	}

	return &Classifier{
		backend: backend,
		schema:  schema,
		unit: llm.Unit{
			Name:         "Classification agent",
			Instructions: classifierInstructions(withRetention),
			Model:        model,
			Settings:     defaultSettings,
			Output: &llm.OutputSchema{
				Name:   "classification_agent_schema",
				Schema: schemaMap,
				Strict: true,
			},
		},
	}, nil
}

func classifierInstructions(withRetention bool) string {
	var b strings.Builder
	if withRetention {
		b.WriteString(`Classify the user's intent into one of the following categories: "return_item", "cancel_subscription" or "get_information".` + "\n\n")
		b.WriteString("1. Any device-related return requests should route to return_item.\n")
		b.WriteString("2. Any requests to cancel or downgrade a subscription should route to cancel_subscription.\n")
		b.WriteString("3. Any other requests should go to get_information.")
		return b.String()
	}
	b.WriteString(`Classify the user's intent into one of the following categories: "return_item" or "get_information".` + "\n\n")
	b.WriteString("1. Any device-related return requests should route to return_item.\n")
	b.WriteString("2. Any other requests should go to get_information.")
	return b.String()
}

// Classify labels the conversation so far. An output that does not match the
// schema, or carries an empty label, is an error; an unrecognized label is not.
func (c *Classifier) Classify(ctx context.Context, history []conversation.Entry) (*Classification, error) {
	res, err := c.backend.Run(ctx, c.unit, history)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	raw := []byte(strings.TrimSpace(res.FinalOutput))
	if len(raw) == 0 {
		return nil, ErrNoIntent
	}

	result := c.schema.ValidateJSON(raw)
	if !result.IsValid() {
		slog.Debug("classifier output rejected", "errors", result.Errors)
		return nil, fmt.Errorf("%w: output does not match schema: %v", ErrNoIntent, result.Errors)
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode classifier output: %w", err)
	}
	label, _ := parsed["classification"].(string)
	if label == "" {
		return nil, ErrNoIntent
	}

	return &Classification{
		Label:      Intent(label),
		Raw:        json.RawMessage(raw),
		Parsed:     parsed,
		NewEntries: res.NewEntries,
	}, nil
}
