package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/mankinLew/milleu-agent/internal/config"
	"github.com/mankinLew/milleu-agent/internal/conversation"
)

const maxToolOutput = 5000

// OpenAI client implementation
type OpenAI struct {
	client *openai.Client
	cfg    *config.OpenAIConfig
}

func NewOpenAI(cfg *config.OpenAIConfig, opts ...option.RequestOption) (*OpenAI, error) {
	var clientOpts []option.RequestOption

	switch cfg.Provider {
	case "azure":
		clientOpts = append(clientOpts,
			azure.WithEndpoint(cfg.APIEndpoint, cfg.APIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	default: // "openai"
		clientOpts = append(clientOpts,
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.APIEndpoint),
		)
	}
	if cfg.Timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAI{
		client: openai.NewClient(clientOpts...),
		cfg:    cfg,
	}, nil
}

// Client exposes the underlying API client for endpoints outside chat
// completions (moderation, chat sessions).
func (o *OpenAI) Client() *openai.Client {
	return o.client
}

// Run sends the unit's instructions plus history to the chat completions API
// and executes any requested tool calls until the model produces a final
// message or MaxSteps is reached.
func (o *OpenAI) Run(ctx context.Context, unit Unit, history []conversation.Entry, opts ...Option) (*Result, error) {
	options := &Options{
		Model:       o.cfg.Model,
		Temperature: unit.Settings.Temperature,
		TopP:        unit.Settings.TopP,
		MaxTokens:   unit.Settings.MaxTokens,
	}
	if unit.Model != "" {
		options.Model = unit.Model
	}
	for _, opt := range opts {
		opt(options)
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(unit.Instructions)}
	messages = append(messages, toMessages(history)...)

	params := openai.ChatCompletionNewParams{
		Model: openai.F(options.Model),
	}
	if options.Temperature != 0 {
		params.Temperature = openai.F(options.Temperature)
	}
	if options.TopP != 0 {
		params.TopP = openai.F(options.TopP)
	}
	if options.MaxTokens != 0 {
		params.MaxTokens = openai.F(options.MaxTokens)
	}
	if len(unit.Tools) > 0 {
		params.Tools = openai.F(toolParams(unit.Tools))
		if unit.Settings.ParallelToolCalls {
			params.ParallelToolCalls = openai.F(true)
		}
	}
	if unit.Output != nil {
		params.ResponseFormat = openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](responseFormat(unit.Output))
	}

	result := &Result{}
	for step := 0; step < o.cfg.MaxSteps; step++ {
		params.Messages = openai.F(messages)

		resp, err := o.client.Chat.Completions.New(ctx, params)
		if err != nil {
			slog.Error("LLM completion failed", "unit", unit.Name, "error", err)
			return nil, fmt.Errorf("%s: completion failed: %w", unit.Name, err)
		}
		result.Usage.add(Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		})
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%s: %w", unit.Name, ErrNoChoices)
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			result.NewEntries = append(result.NewEntries, conversation.AssistantText(msg.Content))
			result.FinalOutput = msg.Content
			slog.Debug("LLM provided final output", "unit", unit.Name, "steps", step+1)
			return result, nil
		}

		messages = append(messages, msg)
		callEntry := conversation.Entry{Role: conversation.RoleAssistant}
		var resultParts []conversation.ContentPart
		for _, tc := range msg.ToolCalls {
			slog.Debug("LLM requested function call", "unit", unit.Name, "function", tc.Function.Name, "arguments", tc.Function.Arguments)
			callEntry.Content = append(callEntry.Content, conversation.ContentPart{
				Kind: conversation.KindToolCall,
				ToolCall: &conversation.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: json.RawMessage(tc.Function.Arguments),
				},
			})

			out, err := o.invoke(ctx, unit, tc.Function.Name, json.RawMessage(tc.Function.Arguments))
			if err != nil {
				return nil, err
			}
			messages = append(messages, openai.ToolMessage(tc.ID, out))
			resultParts = append(resultParts, conversation.ContentPart{
				Kind:       conversation.KindToolResult,
				ToolCallID: tc.ID,
				Output:     out,
			})
		}
		result.NewEntries = append(result.NewEntries, callEntry, conversation.Entry{
			Role:    conversation.RoleTool,
			Content: resultParts,
		})
	}

	return nil, fmt.Errorf("%s: %w (%d)", unit.Name, ErrMaxSteps, o.cfg.MaxSteps)
}

// invoke runs one tool call. Unknown tools and tool errors are reported back
// to the model as the tool output rather than aborting the run.
func (o *OpenAI) invoke(ctx context.Context, unit Unit, name string, args json.RawMessage) (string, error) {
	tool, ok := unit.tool(name)
	if !ok {
		slog.Warn("LLM requested unknown tool", "unit", unit.Name, "function", name)
		return fmt.Sprintf("error: unknown function %q", name), nil
	}

	slog.Info("Executing function call", "unit", unit.Name, "function", name)
	out, err := tool.Invoke(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("Function execution failed", "function", name, "error", err)
		return fmt.Sprintf("error: %v", err), nil
	}

	jsonBytes, err := json.Marshal(out)
	if err != nil {
		slog.Error("Failed to marshal tool result to JSON", "error", err)
		return "error: failed to parse tool output", nil
	}
	return truncateString(string(jsonBytes), maxToolOutput), nil
}

func toMessages(history []conversation.Entry) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, e := range history {
		switch e.Role {
		case conversation.RoleUser:
			messages = append(messages, openai.UserMessage(e.Text()))
		case conversation.RoleSystem:
			messages = append(messages, openai.SystemMessage(e.Text()))
		case conversation.RoleTool:
			for _, p := range e.Content {
				if p.Kind == conversation.KindToolResult {
					messages = append(messages, openai.ToolMessage(p.ToolCallID, p.Output))
				}
			}
		case conversation.RoleAssistant:
			var calls []openai.ChatCompletionMessageToolCallParam
			for _, p := range e.Content {
				if p.Kind == conversation.KindToolCall && p.ToolCall != nil {
					calls = append(calls, openai.ChatCompletionMessageToolCallParam{
						ID:   openai.F(p.ToolCall.ID),
						Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
						Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      openai.F(p.ToolCall.Name),
							Arguments: openai.F(string(p.ToolCall.Arguments)),
						}),
					})
				}
			}
			if len(calls) > 0 {
				messages = append(messages, openai.ChatCompletionAssistantMessageParam{
					Role:      openai.F(openai.ChatCompletionAssistantMessageParamRoleAssistant),
					ToolCalls: openai.F(calls),
				})
				continue
			}
			messages = append(messages, openai.AssistantMessage(e.Text()))
		}
	}
	return messages
}

func toolParams(tools []Tool) []openai.ChatCompletionToolParam {
	params := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		params = append(params, openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.String(t.Name),
				Description: openai.String(t.Description),
				Parameters:  openai.F(openai.FunctionParameters(t.Parameters)),
			}),
		})
	}
	return params
}

func responseFormat(out *OutputSchema) openai.ResponseFormatJSONSchemaParam {
	var schema interface{} = out.Schema
	return openai.ResponseFormatJSONSchemaParam{
		Type: openai.F(openai.ResponseFormatJSONSchemaTypeJSONSchema),
		JSONSchema: openai.F(openai.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:        openai.F(out.Name),
			Description: openai.F(out.Description),
			Schema:      openai.F(schema),
			Strict:      openai.Bool(out.Strict),
		}),
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "\n[truncated]"
	}
	return s
}
