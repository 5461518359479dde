// Package workflow runs one user turn through the guardrail pipeline, the
// intent classifier and the responder unit the intent selects.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mankinLew/milleu-agent/internal/agents"
	"github.com/mankinLew/milleu-agent/internal/conversation"
	"github.com/mankinLew/milleu-agent/internal/guardrails"
)

const instrumentationName = "github.com/mankinLew/milleu-agent/internal/workflow"

const (
	MessageReturnApproved = "Your return is on the way."
	MessageReturnDeclined = "What else can I help you with?"

	DefaultApprovalPrompt = "Does this work for you?"
)

// ErrEmptyOutput is returned when a responder unit produced no usable output.
var ErrEmptyOutput = errors.New("responder produced no output")

// Input is one user turn. Fields not named here pass through into the
// workflow state untouched.
type Input struct {
	InputAsText string
	Fields      map[string]any
}

func (in *Input) UnmarshalJSON(data []byte) error {
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	text, _ := all[conversation.KeyInputAsText].(string)
	delete(all, conversation.KeyInputAsText)
	*in = Input{InputAsText: text}
	if len(all) > 0 {
		in.Fields = all
	}
	return nil
}

type Orchestrator struct {
	pipeline   *guardrails.Pipeline
	policy     guardrails.Policy
	classifier *agents.Classifier

	returnUnit    agents.Responder
	infoUnit      agents.Responder
	retentionUnit agents.Responder

	approver       agents.Approver
	approvalPrompt string
	stageTimeout   time.Duration

	tracer trace.Tracer
	runs   metric.Int64Counter
}

type Option func(*Orchestrator)

// WithRetention routes cancel_subscription to the given unit. Without it the
// label falls back like any unrouted label.
func WithRetention(unit agents.Responder) Option {
	return func(o *Orchestrator) { o.retentionUnit = unit }
}

func WithApprover(a agents.Approver) Option {
	return func(o *Orchestrator) {
		if a != nil {
			o.approver = a
		}
	}
}

func WithApprovalPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		if prompt != "" {
			o.approvalPrompt = prompt
		}
	}
}

// WithStageTimeout bounds each external call of a run. Zero means no bound
// beyond the caller's context.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

func New(pipeline *guardrails.Pipeline, policy guardrails.Policy, classifier *agents.Classifier, returnUnit, infoUnit agents.Responder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pipeline:       pipeline,
		policy:         policy,
		classifier:     classifier,
		returnUnit:     returnUnit,
		infoUnit:       infoUnit,
		approver:       agents.AlwaysApprove,
		approvalPrompt: DefaultApprovalPrompt,
		tracer:         otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter("workflow.runs",
		metric.WithDescription("Number of completed workflow runs by outcome"))
	if err != nil {
		slog.Warn("failed to create run counter", "error", err)
	}
	o.runs = counter
	return o
}

// Run executes one turn. Each run owns its history and state. Any failure in
// the classify/dispatch chain aborts the run with an error instead of a
// partial result.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Result, error) {
	runID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "workflow.run", trace.WithAttributes(attribute.String("workflow.run_id", runID)))
	defer span.End()

	res, err := o.run(ctx, runID, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("workflow run failed", "run_id", runID, "error", err)
		o.count(ctx, "error")
		return nil, err
	}
	span.SetAttributes(attribute.String("workflow.outcome", res.Kind.String()))
	o.count(ctx, res.Kind.String())
	return res, nil
}

func (o *Orchestrator) count(ctx context.Context, outcome string) {
	if o.runs != nil {
		o.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow.outcome", outcome)))
	}
}

func (o *Orchestrator) run(ctx context.Context, runID string, in Input) (*Result, error) {
	log := slog.With("run_id", runID)

	history := conversation.NewHistory(conversation.UserText(in.InputAsText))
	state := conversation.NewState(in.InputAsText, in.Fields)
	result := func(kind Kind) *Result {
		return &Result{RunID: runID, Kind: kind, History: history.Entries(), State: state}
	}

	log.Debug("workflow stage", "stage", "guardrail_check")
	var outcome *guardrails.Outcome
	err := o.stage(ctx, "guardrail_check", func(ctx context.Context) error {
		var err error
		outcome, err = o.pipeline.Apply(ctx, in.InputAsText, o.policy, history, state)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("guardrails: %w", err)
	}
	if outcome.HasTripwire {
		log.Warn("guardrail tripwire triggered", "verdicts", len(outcome.Verdicts))
		r := result(KindFailure)
		report := outcome.FailOutput
		r.Failure = &report
		return r, nil
	}

	log.Debug("workflow stage", "stage", "classify")
	var cls *agents.Classification
	err = o.stage(ctx, "classify", func(ctx context.Context) error {
		var err error
		cls, err = o.classifier.Classify(ctx, history.Entries())
		return err
	})
	if err != nil {
		return nil, err
	}
	history.Append(cls.NewEntries...)

	unit, confirm := o.route(cls.Label)
	log.Debug("workflow stage", "stage", "dispatch", "intent", cls.Label.String())
	if unit == nil {
		fb, err := newFallback(cls.Raw, cls.Parsed)
		if err != nil {
			return nil, err
		}
		r := result(KindFallback)
		r.Fallback = fb
		return r, nil
	}

	var resp *agents.Response
	err = o.stage(ctx, strings.ToLower(strings.ReplaceAll(unit.Name(), " ", "_")), func(ctx context.Context) error {
		var err error
		resp, err = unit.Respond(ctx, history.Entries())
		return err
	})
	if err != nil {
		return nil, err
	}
	history.Append(resp.NewEntries...)
	if strings.TrimSpace(resp.Output) == "" {
		return nil, fmt.Errorf("%s: %w", unit.Name(), ErrEmptyOutput)
	}

	if confirm {
		log.Debug("workflow stage", "stage", "confirm")
		var approved bool
		err = o.stage(ctx, "confirm", func(ctx context.Context) error {
			var err error
			approved, err = o.approver(ctx, o.approvalPrompt)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("approval: %w", err)
		}
		r := result(KindMessage)
		r.Message = MessageReturnDeclined
		if approved {
			r.Message = MessageReturnApproved
		}
		return r, nil
	}

	r := result(KindMessage)
	r.Message = resp.Output
	return r, nil
}

// route selects the responder for a label and whether its flow ends with a
// confirmation step. A nil responder means fallback.
func (o *Orchestrator) route(label agents.Intent) (agents.Responder, bool) {
	switch label {
	case agents.IntentReturnItem:
		return o.returnUnit, true
	case agents.IntentGetInformation:
		return o.infoUnit, false
	case agents.IntentCancelSubscription:
		if o.retentionUnit != nil {
			return o.retentionUnit, false
		}
	}
	return nil, false
}

func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "workflow."+name)
	defer span.End()

	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
