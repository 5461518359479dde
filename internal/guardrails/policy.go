package guardrails

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/viper"
)

// Declared check names. The failure report looks verdicts up by these.
const (
	NamePII             = "Contains PII"
	NameModeration      = "Moderation"
	NameJailbreak       = "Jailbreak"
	NameHallucination   = "Hallucination Detection"
	NameNSFW            = "NSFW Text"
	NameURLFilter       = "URL Filter"
	NameCustomPrompt    = "Custom Prompt Check"
	NamePromptInjection = "Prompt Injection Detection"
)

var (
	ErrUnknownCheck   = errors.New("unknown guardrail")
	ErrDuplicateCheck = errors.New("duplicate guardrail")
)

// Params is the free-form configuration of one check with typed accessors.
type Params map[string]any

func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the value at key and whether it was explicitly set.
func (p Params) Bool(key string) (value bool, set bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, true
		}
	}
	return false, false
}

func (p Params) BoolDefault(key string, def bool) bool {
	if v, ok := p.Bool(key); ok {
		return v
	}
	return def
}

func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ConfigEntry configures one named check.
type ConfigEntry struct {
	Name   string `json:"name" mapstructure:"name"`
	Config Params `json:"config" mapstructure:"config"`
}

// Policy is an ordered set of config entries, unique by name. It is not
// modified during a pipeline run.
type Policy struct {
	Version    int           `json:"version" mapstructure:"version"`
	Guardrails []ConfigEntry `json:"guardrails" mapstructure:"guardrails"`
}

func (p Policy) Validate() error {
	seen := make(map[string]struct{}, len(p.Guardrails))
	for i, g := range p.Guardrails {
		if g.Name == "" {
			return fmt.Errorf("guardrail %d: name is required", i)
		}
		if _, ok := seen[g.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateCheck, g.Name)
		}
		seen[g.Name] = struct{}{}
	}
	return nil
}

func (p Policy) Lookup(name string) (ConfigEntry, bool) {
	for _, g := range p.Guardrails {
		if g.Name == name {
			return g, true
		}
	}
	return ConfigEntry{}, false
}

// Only returns a policy holding just the named entry, or false when the
// policy does not configure it.
func (p Policy) Only(name string) (Policy, bool) {
	entry, ok := p.Lookup(name)
	if !ok {
		return Policy{}, false
	}
	return Policy{Version: p.Version, Guardrails: []ConfigEntry{entry}}, true
}

// MasksPII reports whether the PII entry explicitly asks for masking instead
// of blocking (block: false). A missing block flag means blocking.
func (p Policy) MasksPII() bool {
	entry, ok := p.Lookup(NamePII)
	if !ok {
		return false
	}
	block, set := entry.Config.Bool("block")
	return set && !block
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		Version: 1,
		Guardrails: []ConfigEntry{
			{Name: NameJailbreak, Config: Params{"model": "gpt-5-nano", "confidence_threshold": 0.7}},
		},
	}
}

// LoadPolicyFile reads a YAML or JSON policy file. An empty path yields
// DefaultPolicy.
func LoadPolicyFile(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Policy{}, fmt.Errorf("read guardrail policy: %w", err)
	}

	var policy Policy
	if err := v.Unmarshal(&policy); err != nil {
		return Policy{}, fmt.Errorf("decode guardrail policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}
