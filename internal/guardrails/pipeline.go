package guardrails

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mankinLew/milleu-agent/internal/conversation"
)

const instrumentationName = "github.com/mankinLew/milleu-agent/internal/guardrails"

// Pipeline runs text through the checks a policy selects.
type Pipeline struct {
	registry     *Registry
	rc           *RunContext
	concurrency  int
	raiseOnError bool

	tracer    trace.Tracer
	tripwires metric.Int64Counter
}

type PipelineOption func(*Pipeline)

// WithConcurrency lets up to n independent checks run at once. Verdict order
// always follows policy order.
func WithConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRaiseOnError makes a failing check fail the whole evaluation. When
// false the failing check yields an untripped verdict with empty diagnostics.
func WithRaiseOnError(raise bool) PipelineOption {
	return func(p *Pipeline) { p.raiseOnError = raise }
}

func NewPipeline(registry *Registry, rc *RunContext, opts ...PipelineOption) *Pipeline {
	if rc == nil {
		rc = &RunContext{}
	}
	p := &Pipeline{
		registry:     registry,
		rc:           rc,
		concurrency:  1,
		raiseOnError: true,
		tracer:       otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(p)
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter("guardrail.tripwires",
		metric.WithDescription("Number of tripped guardrail verdicts"))
	if err != nil {
		slog.Warn("failed to create tripwire counter", "error", err)
	}
	p.tripwires = counter
	return p
}

// Evaluate returns one verdict per configured check, in policy order. It only
// reports; a tripped verdict never stops the other checks.
func (p *Pipeline) Evaluate(ctx context.Context, text string, policy Policy) ([]Verdict, error) {
	return p.evaluate(ctx, text, policy, p.raiseOnError)
}

func (p *Pipeline) evaluate(ctx context.Context, text string, policy Policy, raise bool) ([]Verdict, error) {
	checks, err := p.registry.Build(policy)
	if err != nil {
		return nil, err
	}

	verdicts := make([]Verdict, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := p.runCheck(gctx, c, text)
			if err != nil {
				// a check's own deadline is a check failure; only the caller's
				// cancellation aborts the run
				if raise || gctx.Err() != nil {
					return err
				}
				slog.Warn("guardrail check failed, treating as absent", "guardrail", c.Name(), "error", err)
				verdicts[i] = Verdict{CheckName: c.Name(), Err: err}
				return nil
			}
			verdicts[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

func (p *Pipeline) runCheck(ctx context.Context, c Check, text string) (Verdict, error) {
	ctx, span := p.tracer.Start(ctx, "guardrail.check", trace.WithAttributes(attribute.String("guardrail.name", c.Name())))
	defer span.End()

	v, err := c.Evaluate(ctx, text, p.rc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return Verdict{}, ctx.Err()
		}
		return Verdict{}, &CheckError{Check: c.Name(), Err: err}
	}
	if v.CheckName == "" {
		v.CheckName = c.Name()
	}
	if v.Diagnostics.Name() == "" {
		v.Diagnostics.GuardrailName = c.Name()
	}
	span.SetAttributes(attribute.Bool("guardrail.tripped", v.Tripped))
	if v.Tripped && p.tripwires != nil {
		p.tripwires.Add(ctx, 1, metric.WithAttributes(attribute.String("guardrail.name", c.Name())))
	}
	slog.Debug("guardrail evaluated", "guardrail", c.Name(), "tripped", v.Tripped)
	return v, nil
}

type PassOutput struct {
	SafeText string `json:"safe_text"`
}

// Outcome is the interpreted result of running the primary policy.
type Outcome struct {
	Verdicts    []Verdict
	HasTripwire bool
	SafeText    string
	FailOutput  FailureReport
	PassOutput  PassOutput
}

// Apply evaluates the primary policy over text. When nothing trips and the
// policy masks PII, history and both input fields of state are scrubbed. The
// tripwire decision is computed before, and is unaffected by, scrubbing.
func (p *Pipeline) Apply(ctx context.Context, text string, policy Policy, history *conversation.History, state conversation.State) (*Outcome, error) {
	verdicts, err := p.Evaluate(ctx, text, policy)
	if err != nil {
		return nil, err
	}

	safe := SafeText(verdicts, text)
	out := &Outcome{
		Verdicts:    verdicts,
		HasTripwire: HasTripwire(verdicts),
		SafeText:    safe,
		FailOutput:  BuildFailureReport(verdicts),
		PassOutput:  PassOutput{SafeText: orDefault(safe, text)},
	}

	if !out.HasTripwire && policy.MasksPII() {
		s := NewScrubber(p)
		s.ScrubHistory(ctx, history, policy)
		s.ScrubState(ctx, state, conversation.KeyInputAsText, policy)
		s.ScrubState(ctx, state, conversation.KeyInputText, policy)
	}
	return out, nil
}
