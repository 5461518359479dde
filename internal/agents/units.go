package agents

import (
	"context"
	"fmt"

	"github.com/mankinLew/milleu-agent/internal/conversation"
	"github.com/mankinLew/milleu-agent/internal/llm"
)

var defaultSettings = llm.Settings{
	Temperature: 1,
	TopP:        1,
	MaxTokens:   2048,
}

// Response is what a responder unit produced for one turn.
type Response struct {
	NewEntries []conversation.Entry
	Output     string
}

// Responder consumes the conversation so far and produces new entries and a
// final output. It never mutates the history it is given.
type Responder interface {
	Name() string
	Respond(ctx context.Context, history []conversation.Entry) (*Response, error)
}

// unitResponder runs a single llm unit.
type unitResponder struct {
	backend llm.Backend
	unit    llm.Unit
}

func (r *unitResponder) Name() string { return r.unit.Name }

func (r *unitResponder) Respond(ctx context.Context, history []conversation.Entry) (*Response, error) {
	res, err := r.backend.Run(ctx, r.unit, history)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.unit.Name, err)
	}
	return &Response{NewEntries: res.NewEntries, Output: res.FinalOutput}, nil
}

// NewReturnUnit offers the fixed remedy for device returns.
func NewReturnUnit(backend llm.Backend, model string) Responder {
	return &unitResponder{
		backend: backend,
		unit: llm.Unit{
			Name:         "Return agent",
			Instructions: "Offer a replacement device with free shipping.",
			Model:        model,
			Settings:     defaultSettings,
		},
	}
}

// NewInformationUnit answers from the static support policy only.
func NewInformationUnit(backend llm.Backend, model string) Responder {
	return &unitResponder{
		backend: backend,
		unit: llm.Unit{
			Name:         "Information agent",
			Instructions: informationInstructions,
			Model:        model,
			Settings:     defaultSettings,
		},
	}
}

// NewRetentionUnit tries to keep a cancelling customer, looking up offers
// through the get_retention_offers tool.
func NewRetentionUnit(backend llm.Backend, model string, offers OfferLookup) Responder {
	settings := defaultSettings
	settings.ParallelToolCalls = true
	return &unitResponder{
		backend: backend,
		unit: llm.Unit{
			Name: "Retention Agent",
			Instructions: "You are a customer retention conversational agent whose goal is to prevent subscription cancellations. " +
				"Ask for their current plan and reason for dissatisfaction. " +
				"Use the get_retention_offers tool to identify retention options and present the best one.",
			Model:    model,
			Settings: settings,
			Tools:    []llm.Tool{retentionOffersTool(offers)},
		},
	}
}
