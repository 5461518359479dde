package guardrails

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

type piiDetector struct {
	entity  string
	pattern *regexp.Regexp
	valid   func(match string) bool
}

// Detectors run in this order over progressively masked text, so a span
// claimed by an earlier entity is never re-reported by a later one.
var piiDetectors = []piiDetector{
	{entity: "EMAIL_ADDRESS", pattern: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{entity: "CREDIT_CARD", pattern: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), valid: luhnValid},
	{entity: "US_SSN", pattern: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{entity: "IP_ADDRESS", pattern: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
	{entity: "PHONE_NUMBER", pattern: regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?(?:\(\d{1,4}\)[\s.-]?)?\d{3,4}[\s.-]?\d{3,4}(?:[\s.-]?\d{2,4})?\b`), valid: phoneValid},
}

func knownPIIEntity(name string) bool {
	for _, d := range piiDetectors {
		if d.entity == name {
			return true
		}
	}
	return false
}

// piiCheck detects PII and reports a masked copy of the text. With block set
// (the default) any detection trips; otherwise it only masks.
type piiCheck struct {
	entities map[string]struct{}
	block    bool
}

func newPIICheck(entry ConfigEntry) (Check, error) {
	c := &piiCheck{
		entities: map[string]struct{}{},
		block:    entry.Config.BoolDefault("block", true),
	}
	for _, e := range entry.Config.Strings("entities") {
		e = strings.ToUpper(e)
		if !knownPIIEntity(e) {
			return nil, fmt.Errorf("unsupported pii entity %q", e)
		}
		c.entities[e] = struct{}{}
	}
	return c, nil
}

func (c *piiCheck) Name() string { return NamePII }

func (c *piiCheck) enabled(entity string) bool {
	if len(c.entities) == 0 {
		return true
	}
	_, ok := c.entities[entity]
	return ok
}

func (c *piiCheck) Evaluate(_ context.Context, text string, _ *RunContext) (Verdict, error) {
	detected := map[string][]string{}
	masked := text
	for _, d := range piiDetectors {
		if !c.enabled(d.entity) {
			continue
		}
		placeholder := "<" + d.entity + ">"
		masked = d.pattern.ReplaceAllStringFunc(masked, func(m string) string {
			if d.valid != nil && !d.valid(m) {
				return m
			}
			detected[d.entity] = append(detected[d.entity], m)
			return placeholder
		})
	}

	return Verdict{
		CheckName: NamePII,
		Tripped:   c.block && len(detected) > 0,
		Diagnostics: Diagnostics{
			GuardrailName:    NamePII,
			DetectedEntities: detected,
			CheckedText:      ptr(masked),
			Extra:            map[string]any{"block": c.block},
		},
	}, nil
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func luhnValid(s string) bool {
	digits := digitsOf(s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// phoneValid rejects bare digit runs such as order numbers: a phone number
// needs a leading "+" or at least one separator.
func phoneValid(s string) bool {
	n := len(digitsOf(s))
	if n < 9 || n > 15 {
		return false
	}
	return strings.HasPrefix(s, "+") || strings.ContainsAny(s, " .-()")
}
