package guardrails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/openai/openai-go"
)

// Moderator classifies text against content categories.
type Moderator interface {
	Moderate(ctx context.Context, text string) (*ModerationResult, error)
}

type ModerationResult struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// OpenAIModerator calls the moderation endpoint.
type OpenAIModerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIModerator(client *openai.Client, model string) *OpenAIModerator {
	if model == "" {
		model = "omni-moderation-latest"
	}
	return &OpenAIModerator{client: client, model: model}
}

type moderationResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Results []ModerationResult `json:"results"`
}

func (m *OpenAIModerator) Moderate(ctx context.Context, text string) (*ModerationResult, error) {
	body, err := json.Marshal(map[string]string{"model": m.model, "input": text})
	if err != nil {
		return nil, err
	}

	var res moderationResponse
	if err := m.client.Post(ctx, "moderations", json.RawMessage(body), &res); err != nil {
		return nil, fmt.Errorf("moderation request: %w", err)
	}
	if len(res.Results) == 0 {
		return nil, errors.New("moderation returned no results")
	}
	return &res.Results[0], nil
}

// moderationCheck trips when any counted category is flagged. An empty
// categories list counts every category.
type moderationCheck struct {
	categories map[string]struct{}
}

func newModerationCheck(entry ConfigEntry) (Check, error) {
	c := &moderationCheck{categories: map[string]struct{}{}}
	for _, cat := range entry.Config.Strings("categories") {
		c.categories[cat] = struct{}{}
	}
	return c, nil
}

func (c *moderationCheck) Name() string { return NameModeration }

func (c *moderationCheck) Evaluate(ctx context.Context, text string, rc *RunContext) (Verdict, error) {
	if rc == nil || rc.Moderator == nil {
		return Verdict{}, errors.New("no moderator configured")
	}
	res, err := rc.Moderator.Moderate(ctx, text)
	if err != nil {
		return Verdict{}, err
	}

	flagged := []string{}
	for cat, hit := range res.Categories {
		if !hit {
			continue
		}
		if len(c.categories) > 0 {
			if _, ok := c.categories[cat]; !ok {
				continue
			}
		}
		flagged = append(flagged, cat)
	}
	sort.Strings(flagged)

	return Verdict{
		CheckName: NameModeration,
		Tripped:   len(flagged) > 0,
		Diagnostics: Diagnostics{
			GuardrailName:     NameModeration,
			FlaggedCategories: flagged,
			Extra:             map[string]any{"flagged": res.Flagged, "category_scores": res.CategoryScores},
		},
	}, nil
}
