package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mankinLew/milleu-agent/internal/conversation"
)

var (
	ErrNoChoices = errors.New("llm returned no choices")
	ErrMaxSteps  = errors.New("llm tool loop exceeded max steps")
)

// Backend runs a unit against the conversation so far. Implementations must
// not mutate history.
type Backend interface {
	Run(ctx context.Context, unit Unit, history []conversation.Entry, opts ...Option) (*Result, error)
}

type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

func (u *Usage) add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

type Option func(*Options)

type Options struct {
	Model       string
	MaxTokens   int64
	Temperature float64
	TopP        float64
}

func WithModel(model string) Option {
	return func(o *Options) {
		if model != "" {
			o.Model = model
		}
	}
}

type Settings struct {
	Temperature       float64
	TopP              float64
	MaxTokens         int64
	ParallelToolCalls bool
}

// OutputSchema asks the backend for a JSON document matching Schema.
type OutputSchema struct {
	Name        string
	Description string
	Schema      map[string]any
	Strict      bool
}

// ToolFunc receives the raw JSON arguments produced by the model.
type ToolFunc func(ctx context.Context, arguments json.RawMessage) (any, error)

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Invoke      ToolFunc
}

// Unit describes one conversational stage: its instructions, model settings,
// optional structured output and tools.
type Unit struct {
	Name         string
	Instructions string
	Model        string
	Settings     Settings
	Output       *OutputSchema
	Tools        []Tool
}

func (u Unit) tool(name string) (Tool, bool) {
	for _, t := range u.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// Result carries the entries a unit produced and its final output, which is
// JSON text when the unit declares an OutputSchema.
type Result struct {
	NewEntries  []conversation.Entry
	FinalOutput string
	Usage       Usage
}
