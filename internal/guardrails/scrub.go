package guardrails

import (
	"context"
	"log/slog"

	"github.com/mankinLew/milleu-agent/internal/conversation"
)

// Scrubber re-runs only the PII check over history and state fields and
// replaces each text with its sanitized form. It is best-effort: a failed
// attempt leaves that text unchanged and never fails the run.
type Scrubber struct {
	pipeline *Pipeline
}

func NewScrubber(p *Pipeline) *Scrubber {
	return &Scrubber{pipeline: p}
}

type scrubResult struct {
	text string
	err  error
}

func (s *Scrubber) scrub(ctx context.Context, text string, piiOnly Policy) scrubResult {
	verdicts, err := s.pipeline.evaluate(ctx, text, piiOnly, true)
	if err != nil {
		return scrubResult{text: text, err: err}
	}
	return scrubResult{text: SafeText(verdicts, text)}
}

// apply collapses a failed scrub into a no-op.
func (s *Scrubber) apply(ctx context.Context, text string, piiOnly Policy, where string) string {
	res := s.scrub(ctx, text, piiOnly)
	if res.err != nil {
		slog.Debug("pii scrub skipped", "target", where, "error", res.err)
		return text
	}
	return res.text
}

// ScrubHistory rewrites every text part of history in place.
func (s *Scrubber) ScrubHistory(ctx context.Context, history *conversation.History, policy Policy) {
	piiOnly, ok := policy.Only(NamePII)
	if !ok || history == nil {
		return
	}
	history.RewriteText(func(text string) string {
		return s.apply(ctx, text, piiOnly, "history")
	})
}

// ScrubState rewrites state[key] in place when it holds a string.
func (s *Scrubber) ScrubState(ctx context.Context, state conversation.State, key string, policy Policy) {
	piiOnly, ok := policy.Only(NamePII)
	if !ok || state == nil {
		return
	}
	value, ok := state.String(key)
	if !ok {
		return
	}
	state[key] = s.apply(ctx, value, piiOnly, key)
}
