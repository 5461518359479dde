// Package guardrails runs text through a policy-selected set of safety checks
// and interprets their verdicts: tripwire detection, sanitized text
// resolution, the fixed-shape failure report and the PII scrub pass.
package guardrails

import (
	"encoding/json"
	"fmt"
)

// Verdict is the outcome of one check. Tripped is authoritative; Diagnostics
// are advisory. Err is set when the check failed to evaluate and the pipeline
// was configured to suppress check errors.
type Verdict struct {
	CheckName   string      `json:"check_name"`
	Tripped     bool        `json:"tripwire_triggered"`
	Diagnostics Diagnostics `json:"info"`
	Err         error       `json:"-"`
}

// Diagnostics is the structured payload a check reports. Known fields are
// named; anything else a check (or a remote backend) reports lands in Extra.
type Diagnostics struct {
	GuardrailName  string
	CheckedText    *string
	AnonymizedText *string

	DetectedEntities  map[string][]string
	FlaggedCategories []string
	Confidence        *float64
	Threshold         *float64
	Reasoning         *string

	HallucinationType      *string
	HallucinatedStatements []string
	VerifiedStatements     []string

	DetectedURLs []string
	BlockedURLs  []string

	Extra map[string]any
}

const (
	fieldGuardrailName       = "guardrail_name"
	fieldGuardrailNameLegacy = "guardrailName"
)

// Name returns the declared check name, accepting either historical spelling
// when it only arrived through Extra.
func (d Diagnostics) Name() string {
	if d.GuardrailName != "" {
		return d.GuardrailName
	}
	for _, key := range []string{fieldGuardrailName, fieldGuardrailNameLegacy} {
		if v, ok := d.Extra[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// IsEmpty reports whether the check produced no diagnostics at all.
func (d Diagnostics) IsEmpty() bool {
	return d.Name() == "" && d.CheckedText == nil && d.AnonymizedText == nil &&
		d.DetectedEntities == nil && d.FlaggedCategories == nil && d.Confidence == nil &&
		d.Threshold == nil && d.Reasoning == nil && d.HallucinationType == nil &&
		d.HallucinatedStatements == nil && d.VerifiedStatements == nil &&
		d.DetectedURLs == nil && d.BlockedURLs == nil && len(d.Extra) == 0
}

type diagnosticsWire struct {
	GuardrailName          string              `json:"guardrail_name,omitempty"`
	GuardrailNameLegacy    string              `json:"guardrailName,omitempty"`
	CheckedText            *string             `json:"checked_text,omitempty"`
	AnonymizedText         *string             `json:"anonymized_text,omitempty"`
	DetectedEntities       map[string][]string `json:"detected_entities,omitempty"`
	FlaggedCategories      []string            `json:"flagged_categories,omitempty"`
	Confidence             *float64            `json:"confidence,omitempty"`
	Threshold              *float64            `json:"threshold,omitempty"`
	Reasoning              *string             `json:"reasoning,omitempty"`
	HallucinationType      *string             `json:"hallucination_type,omitempty"`
	HallucinatedStatements []string            `json:"hallucinated_statements,omitempty"`
	VerifiedStatements     []string            `json:"verified_statements,omitempty"`
	DetectedURLs           []string            `json:"detected,omitempty"`
	BlockedURLs            []string            `json:"blocked,omitempty"`
}

var knownDiagnosticKeys = map[string]struct{}{
	"guardrail_name": {}, "guardrailName": {}, "checked_text": {}, "anonymized_text": {},
	"detected_entities": {}, "flagged_categories": {}, "confidence": {}, "threshold": {},
	"reasoning": {}, "hallucination_type": {}, "hallucinated_statements": {},
	"verified_statements": {}, "detected": {}, "blocked": {},
}

func (d Diagnostics) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range d.Extra {
		out[k] = v
	}

	known, err := json.Marshal(diagnosticsWire{
		GuardrailName:          d.Name(),
		CheckedText:            d.CheckedText,
		AnonymizedText:         d.AnonymizedText,
		DetectedEntities:       d.DetectedEntities,
		FlaggedCategories:      d.FlaggedCategories,
		Confidence:             d.Confidence,
		Threshold:              d.Threshold,
		Reasoning:              d.Reasoning,
		HallucinationType:      d.HallucinationType,
		HallucinatedStatements: d.HallucinatedStatements,
		VerifiedStatements:     d.VerifiedStatements,
		DetectedURLs:           d.DetectedURLs,
		BlockedURLs:            d.BlockedURLs,
	})
	if err != nil {
		return nil, err
	}
	var knownMap map[string]any
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		out[k] = v
	}
	delete(out, fieldGuardrailNameLegacy)
	return json.Marshal(out)
}

func (d *Diagnostics) UnmarshalJSON(data []byte) error {
	var wire diagnosticsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode diagnostics: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("decode diagnostics: %w", err)
	}

	*d = Diagnostics{
		GuardrailName:          wire.GuardrailName,
		CheckedText:            wire.CheckedText,
		AnonymizedText:         wire.AnonymizedText,
		DetectedEntities:       wire.DetectedEntities,
		FlaggedCategories:      wire.FlaggedCategories,
		Confidence:             wire.Confidence,
		Threshold:              wire.Threshold,
		Reasoning:              wire.Reasoning,
		HallucinationType:      wire.HallucinationType,
		HallucinatedStatements: wire.HallucinatedStatements,
		VerifiedStatements:     wire.VerifiedStatements,
		DetectedURLs:           wire.DetectedURLs,
		BlockedURLs:            wire.BlockedURLs,
	}
	if d.GuardrailName == "" {
		d.GuardrailName = wire.GuardrailNameLegacy
	}
	for k, v := range all {
		if _, ok := knownDiagnosticKeys[k]; ok {
			continue
		}
		if d.Extra == nil {
			d.Extra = map[string]any{}
		}
		d.Extra[k] = v
	}
	return nil
}

// CheckError wraps a failure inside a single check's evaluation.
type CheckError struct {
	Check string
	Err   error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("guardrail %q failed: %v", e.Check, e.Err)
}

func (e *CheckError) Unwrap() error { return e.Err }

func ptr[T any](v T) *T { return &v }
