package guardrails

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasTripwire(t *testing.T) {
	assert.False(t, HasTripwire(nil))
	assert.False(t, HasTripwire([]Verdict{{CheckName: "a"}, {CheckName: "b"}}))
	assert.True(t, HasTripwire([]Verdict{{CheckName: "a"}, {CheckName: "b", Tripped: true}}))
}

func TestSafeText(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []Verdict
		want     string
	}{
		{
			name: "no diagnostics",
			verdicts: []Verdict{
				{CheckName: "a"},
			},
			want: "original",
		},
		{
			name: "first checked text wins",
			verdicts: []Verdict{
				{Diagnostics: Diagnostics{AnonymizedText: ptr("anon")}},
				{Diagnostics: Diagnostics{CheckedText: ptr("first")}},
				{Diagnostics: Diagnostics{CheckedText: ptr("second")}},
			},
			want: "first",
		},
		{
			name: "anonymized used only when no checked text",
			verdicts: []Verdict{
				{Diagnostics: Diagnostics{}},
				{Diagnostics: Diagnostics{AnonymizedText: ptr("anon-1")}},
				{Diagnostics: Diagnostics{AnonymizedText: ptr("anon-2")}},
			},
			want: "anon-1",
		},
		{
			name: "empty checked text falls back to original",
			verdicts: []Verdict{
				{Diagnostics: Diagnostics{CheckedText: ptr("")}},
				{Diagnostics: Diagnostics{CheckedText: ptr("later")}},
			},
			want: "original",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeText(tt.verdicts, "original"))
		})
	}
}

func TestFailureReportHasEveryKey(t *testing.T) {
	report := BuildFailureReport(nil)

	b, err := json.Marshal(report)
	require.NoError(t, err)

	var m map[string]map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Len(t, m, 8)
	for _, key := range []string{"pii", "moderation", "jailbreak", "hallucination", "nsfw", "url_filter", "custom_prompt_check", "prompt_injection"} {
		require.Contains(t, m, key)
		assert.Equal(t, false, m[key]["failed"], key)
	}
	assert.Equal(t, []any{}, m["pii"]["detected_counts"])
	assert.Equal(t, []any{}, m["moderation"]["flagged_categories"])
	assert.Nil(t, m["hallucination"]["reasoning"])
	assert.Contains(t, m["hallucination"], "hallucinated_statements")
}

func TestFailureReportPIIAndModeration(t *testing.T) {
	verdicts := []Verdict{
		{
			CheckName: NamePII,
			Diagnostics: Diagnostics{
				GuardrailName: NamePII,
				DetectedEntities: map[string][]string{
					"PHONE_NUMBER":  {"555-123-4567"},
					"EMAIL_ADDRESS": {"a@x.com", "b@y.org"},
					"US_SSN":        {},
				},
			},
		},
		{
			CheckName: NameModeration,
			Diagnostics: Diagnostics{
				GuardrailName:     NameModeration,
				FlaggedCategories: []string{"harassment", "violence"},
			},
		},
	}

	report := BuildFailureReport(verdicts)
	assert.True(t, report.PII.Failed)
	assert.Equal(t, []string{"EMAIL_ADDRESS:2", "PHONE_NUMBER:1"}, report.PII.DetectedCounts)
	assert.True(t, report.Moderation.Failed)
	assert.Equal(t, []string{"harassment", "violence"}, report.Moderation.FlaggedCategories)
	assert.False(t, report.Jailbreak.Failed)
}

func TestFailureReportMatchesEitherNameSpelling(t *testing.T) {
	var legacy, current Diagnostics
	require.NoError(t, json.Unmarshal([]byte(`{"guardrailName":"Jailbreak","confidence":0.9}`), &legacy))
	require.NoError(t, json.Unmarshal([]byte(`{"guardrail_name":"NSFW Text"}`), &current))

	report := BuildFailureReport([]Verdict{
		{Tripped: true, Diagnostics: legacy},
		{Tripped: true, Diagnostics: current},
	})
	assert.True(t, report.Jailbreak.Failed)
	assert.True(t, report.NSFW.Failed)
	assert.False(t, report.URLFilter.Failed)
}

func TestFailureReportHallucination(t *testing.T) {
	report := BuildFailureReport([]Verdict{{
		Tripped: true,
		Diagnostics: Diagnostics{
			GuardrailName:          NameHallucination,
			Reasoning:              ptr("contradicts the policy"),
			HallucinationType:      ptr("factual_error"),
			HallucinatedStatements: []string{"returns take 90 days"},
			VerifiedStatements:     []string{"plans start at $50"},
		},
	}})

	assert.True(t, report.Hallucination.Failed)
	require.NotNil(t, report.Hallucination.Reasoning)
	assert.Equal(t, "contradicts the policy", *report.Hallucination.Reasoning)
	assert.Equal(t, "factual_error", *report.Hallucination.HallucinationType)
	assert.Equal(t, []string{"returns take 90 days"}, report.Hallucination.HallucinatedStatements)
}

func TestDiagnosticsJSONKeepsUnknownFields(t *testing.T) {
	var d Diagnostics
	require.NoError(t, json.Unmarshal([]byte(`{"guardrail_name":"URL Filter","detected":["https://a.io"],"blocked":[],"vendor_score":3}`), &d))
	assert.Equal(t, NameURLFilter, d.Name())
	assert.Equal(t, []string{"https://a.io"}, d.DetectedURLs)
	assert.Equal(t, float64(3), d.Extra["vendor_score"])

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"guardrail_name":"URL Filter","detected":["https://a.io"],"vendor_score":3}`, string(b))
}
