package guardrails

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mankinLew/milleu-agent/internal/llm"
)

// Check evaluates one piece of text. Configuration is bound when the check is
// built from its ConfigEntry.
type Check interface {
	Name() string
	Evaluate(ctx context.Context, text string, rc *RunContext) (Verdict, error)
}

// Factory builds a check from its policy entry.
type Factory func(entry ConfigEntry) (Check, error)

// RunContext is the process-wide handle bag passed to every check. It is
// built once at start-up and never mutated afterwards.
type RunContext struct {
	// Backend serves model-judged checks.
	Backend llm.Backend
	// Moderator serves the Moderation check.
	Moderator Moderator
	// HTTPClient serves checks delegated to a remote guardrail service.
	HTTPClient *http.Client
}

// Registry is the named, ordered guardrail set.
type Registry struct {
	names     []string
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(name string, f Factory) error {
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateCheck, name)
	}
	r.names = append(r.names, name)
	r.factories[name] = f
	return nil
}

// MustRegister is like Register but panics on a duplicate name.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names lists registered checks in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Build instantiates the policy's checks in policy order. An entry carrying an
// "endpoint" parameter is evaluated by a remote guardrail service instead of
// the local implementation.
func (r *Registry) Build(policy Policy) ([]Check, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	checks := make([]Check, 0, len(policy.Guardrails))
	for _, entry := range policy.Guardrails {
		if entry.Config.String("endpoint", "") != "" {
			c, err := newRemoteCheck(entry)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", entry.Name, err)
			}
			checks = append(checks, c)
			continue
		}

		f, ok := r.factories[entry.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCheck, entry.Name)
		}
		c, err := f(entry)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name, err)
		}
		checks = append(checks, c)
	}
	return checks, nil
}

// DefaultRegistry registers every built-in check kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, reg := range []struct {
		name string
		f    Factory
	}{
		{NamePII, newPIICheck},
		{NameModeration, newModerationCheck},
		{NameJailbreak, judgedFactory(jailbreakKind)},
		{NameHallucination, judgedFactory(hallucinationKind)},
		{NameNSFW, judgedFactory(nsfwKind)},
		{NameURLFilter, newURLFilterCheck},
		{NameCustomPrompt, judgedFactory(customPromptKind)},
		{NamePromptInjection, judgedFactory(promptInjectionKind)},
	} {
		r.MustRegister(reg.name, reg.f)
	}
	return r
}
