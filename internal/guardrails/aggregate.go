package guardrails

import (
	"fmt"
	"sort"
)

// HasTripwire reports whether any verdict tripped.
func HasTripwire(verdicts []Verdict) bool {
	for _, v := range verdicts {
		if v.Tripped {
			return true
		}
	}
	return false
}

// SafeText resolves the sanitized form of fallback. The first verdict (in
// policy order) carrying checked text wins; only when none does is a second
// full pass made for anonymized text. A present but empty value resolves to
// fallback.
func SafeText(verdicts []Verdict, fallback string) string {
	for _, v := range verdicts {
		if v.Diagnostics.CheckedText != nil {
			return orDefault(*v.Diagnostics.CheckedText, fallback)
		}
	}
	for _, v := range verdicts {
		if v.Diagnostics.AnonymizedText != nil {
			return orDefault(*v.Diagnostics.AnonymizedText, fallback)
		}
	}
	return fallback
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

type CheckReport struct {
	Failed bool `json:"failed"`
}

type PIIReport struct {
	Failed         bool     `json:"failed"`
	DetectedCounts []string `json:"detected_counts"`
}

type ModerationReport struct {
	Failed            bool     `json:"failed"`
	FlaggedCategories []string `json:"flagged_categories"`
}

type HallucinationReport struct {
	Failed                 bool     `json:"failed"`
	Reasoning              *string  `json:"reasoning"`
	HallucinationType      *string  `json:"hallucination_type"`
	HallucinatedStatements []string `json:"hallucinated_statements"`
	VerifiedStatements     []string `json:"verified_statements"`
}

// FailureReport always carries every sub-record; a check that did not run
// reports failed=false with empty diagnostics.
type FailureReport struct {
	PII               PIIReport           `json:"pii"`
	Moderation        ModerationReport    `json:"moderation"`
	Jailbreak         CheckReport         `json:"jailbreak"`
	Hallucination     HallucinationReport `json:"hallucination"`
	NSFW              CheckReport         `json:"nsfw"`
	URLFilter         CheckReport         `json:"url_filter"`
	CustomPromptCheck CheckReport         `json:"custom_prompt_check"`
	PromptInjection   CheckReport         `json:"prompt_injection"`
}

// findVerdict looks a verdict up by the name its diagnostics declare.
func findVerdict(verdicts []Verdict, name string) *Verdict {
	for i := range verdicts {
		if verdicts[i].Diagnostics.Name() == name {
			return &verdicts[i]
		}
	}
	return nil
}

func tripped(v *Verdict) bool {
	return v != nil && v.Tripped
}

// BuildFailureReport assembles the report. PII and moderation can each be
// marked failed by their diagnostics alone, without a tripwire.
func BuildFailureReport(verdicts []Verdict) FailureReport {
	pii := findVerdict(verdicts, NamePII)
	mod := findVerdict(verdicts, NameModeration)
	hal := findVerdict(verdicts, NameHallucination)

	counts := []string{}
	if pii != nil {
		types := make([]string, 0, len(pii.Diagnostics.DetectedEntities))
		for k := range pii.Diagnostics.DetectedEntities {
			types = append(types, k)
		}
		sort.Strings(types)
		for _, k := range types {
			if n := len(pii.Diagnostics.DetectedEntities[k]); n > 0 {
				counts = append(counts, fmt.Sprintf("%s:%d", k, n))
			}
		}
	}

	flagged := []string{}
	if mod != nil && mod.Diagnostics.FlaggedCategories != nil {
		flagged = append(flagged, mod.Diagnostics.FlaggedCategories...)
	}

	report := FailureReport{
		PII:               PIIReport{Failed: len(counts) > 0 || tripped(pii), DetectedCounts: counts},
		Moderation:        ModerationReport{Failed: tripped(mod) || len(flagged) > 0, FlaggedCategories: flagged},
		Jailbreak:         CheckReport{Failed: tripped(findVerdict(verdicts, NameJailbreak))},
		Hallucination:     HallucinationReport{Failed: tripped(hal)},
		NSFW:              CheckReport{Failed: tripped(findVerdict(verdicts, NameNSFW))},
		URLFilter:         CheckReport{Failed: tripped(findVerdict(verdicts, NameURLFilter))},
		CustomPromptCheck: CheckReport{Failed: tripped(findVerdict(verdicts, NameCustomPrompt))},
		PromptInjection:   CheckReport{Failed: tripped(findVerdict(verdicts, NamePromptInjection))},
	}
	if hal != nil {
		report.Hallucination.Reasoning = hal.Diagnostics.Reasoning
		report.Hallucination.HallucinationType = hal.Diagnostics.HallucinationType
		report.Hallucination.HallucinatedStatements = hal.Diagnostics.HallucinatedStatements
		report.Hallucination.VerifiedStatements = hal.Diagnostics.VerifiedStatements
	}
	return report
}
