package cli

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mankinLew/milleu-agent/internal/agents"
	"github.com/mankinLew/milleu-agent/internal/config"
	"github.com/mankinLew/milleu-agent/internal/guardrails"
	"github.com/mankinLew/milleu-agent/internal/llm"
	"github.com/mankinLew/milleu-agent/internal/workflow"
)

// app holds the process-wide collaborators built once at start-up.
type app struct {
	backend      *llm.OpenAI
	orchestrator *workflow.Orchestrator
}

func newApp(cfg *config.Config) (*app, error) {
	backend, err := llm.NewOpenAI(&cfg.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM backend: %w", err)
	}

	policy, err := guardrails.LoadPolicyFile(cfg.Workflow.PolicyPath)
	if err != nil {
		return nil, err
	}
	slog.Info("guardrail policy loaded", "path", cfg.Workflow.PolicyPath, "guardrails", len(policy.Guardrails))

	registry := guardrails.DefaultRegistry()
	// fail at start-up rather than on the first request
	if _, err := registry.Build(policy); err != nil {
		return nil, fmt.Errorf("invalid guardrail policy: %w", err)
	}

	rc := &guardrails.RunContext{
		Backend:    backend,
		Moderator:  guardrails.NewOpenAIModerator(backend.Client(), ""),
		HTTPClient: &http.Client{},
	}
	pipeline := guardrails.NewPipeline(registry, rc,
		guardrails.WithConcurrency(cfg.Workflow.CheckConcurrency),
		guardrails.WithRaiseOnError(cfg.Workflow.RaiseGuardrailErrs),
	)

	classifier, err := agents.NewClassifier(backend, cfg.OpenAI.Model, cfg.Workflow.EnableRetention)
	if err != nil {
		return nil, err
	}

	opts := []workflow.Option{
		workflow.WithApprovalPrompt(cfg.Workflow.ApprovalPrompt),
		workflow.WithStageTimeout(cfg.Workflow.StageTimeout),
	}
	if cfg.Workflow.EnableRetention {
		offers, err := offerLookup(cfg.Offers)
		if err != nil {
			return nil, err
		}
		opts = append(opts, workflow.WithRetention(agents.NewRetentionUnit(backend, cfg.OpenAI.Model, offers)))
	}

	orchestrator := workflow.New(pipeline, policy, classifier,
		agents.NewReturnUnit(backend, cfg.OpenAI.Model),
		agents.NewInformationUnit(backend, cfg.OpenAI.Model),
		opts...,
	)
	return &app{backend: backend, orchestrator: orchestrator}, nil
}

func offerLookup(cfg config.OffersConfig) (agents.OfferLookup, error) {
	if cfg.GraphQLEndpoint == "" {
		return agents.StaticOffers{}, nil
	}
	return agents.NewGraphQLOffers(cfg.GraphQLEndpoint, cfg.Timeout)
}
