package agents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mankinLew/milleu-agent/internal/conversation"
	"github.com/mankinLew/milleu-agent/internal/llm"
)

// fakeBackend answers through a function field so each test can script it.
type fakeBackend struct {
	run func(ctx context.Context, unit llm.Unit, history []conversation.Entry) (*llm.Result, error)
}

func (f *fakeBackend) Run(ctx context.Context, unit llm.Unit, history []conversation.Entry, _ ...llm.Option) (*llm.Result, error) {
	return f.run(ctx, unit, history)
}

func replying(output string) *fakeBackend {
	return &fakeBackend{run: func(context.Context, llm.Unit, []conversation.Entry) (*llm.Result, error) {
		return &llm.Result{FinalOutput: output, NewEntries: []conversation.Entry{conversation.AssistantText(output)}}, nil
	}}
}

func TestClassify(t *testing.T) {
	var seen llm.Unit
	backend := &fakeBackend{run: func(_ context.Context, unit llm.Unit, history []conversation.Entry) (*llm.Result, error) {
		seen = unit
		require.Len(t, history, 1)
		return &llm.Result{FinalOutput: `{"classification":"return_item"}`}, nil
	}}

	c, err := NewClassifier(backend, "gpt-4.1-mini", false)
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), []conversation.Entry{conversation.UserText("I want to return my broken phone")})
	require.NoError(t, err)
	assert.Equal(t, IntentReturnItem, got.Label)
	assert.JSONEq(t, `{"classification":"return_item"}`, string(got.Raw))
	assert.Equal(t, map[string]any{"classification": "return_item"}, got.Parsed)

	require.NotNil(t, seen.Output)
	assert.True(t, seen.Output.Strict)
	assert.NotContains(t, seen.Instructions, "cancel_subscription")
}

func TestClassifierInstructionsWithRetention(t *testing.T) {
	c, err := NewClassifier(replying(`{"classification":"cancel_subscription"}`), "", true)
	require.NoError(t, err)
	assert.Contains(t, c.unit.Instructions, "cancel_subscription")

	got, err := c.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, IntentCancelSubscription, got.Label)
}

func TestClassifyUnknownLabelIsNotAnError(t *testing.T) {
	c, err := NewClassifier(replying(`{"classification":"speak_to_human"}`), "", false)
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Intent("speak_to_human"), got.Label)
	assert.False(t, got.Label.Known())
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{name: "empty output", output: ""},
		{name: "empty label", output: `{"classification":""}`},
		{name: "missing label", output: `{}`},
		{name: "wrong type", output: `{"classification":3}`},
		{name: "extra fields", output: `{"classification":"return_item","why":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClassifier(replying(tt.output), "", false)
			require.NoError(t, err)
			_, err = c.Classify(context.Background(), nil)
			assert.ErrorIs(t, err, ErrNoIntent)
		})
	}

	boom := errors.New("upstream 500")
	c, err := NewClassifier(&fakeBackend{run: func(context.Context, llm.Unit, []conversation.Entry) (*llm.Result, error) {
		return nil, boom
	}}, "", false)
	require.NoError(t, err)
	_, err = c.Classify(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}

func TestResponderUnits(t *testing.T) {
	var units []llm.Unit
	backend := &fakeBackend{run: func(_ context.Context, unit llm.Unit, _ []conversation.Entry) (*llm.Result, error) {
		units = append(units, unit)
		return &llm.Result{FinalOutput: "ok"}, nil
	}}

	for _, r := range []Responder{
		NewReturnUnit(backend, "m"),
		NewInformationUnit(backend, "m"),
		NewRetentionUnit(backend, "m", StaticOffers{}),
	} {
		res, err := r.Respond(context.Background(), []conversation.Entry{conversation.UserText("hi")})
		require.NoError(t, err)
		assert.Equal(t, "ok", res.Output)
	}

	require.Len(t, units, 3)
	assert.Equal(t, "Offer a replacement device with free shipping.", units[0].Instructions)
	assert.Empty(t, units[0].Tools)
	assert.Contains(t, units[1].Instructions, "Milieu")
	assert.Empty(t, units[1].Tools)
	require.Len(t, units[2].Tools, 1)
	assert.Equal(t, "get_retention_offers", units[2].Tools[0].Name)
	assert.True(t, units[2].Settings.ParallelToolCalls)
}

func TestRetentionOffersTool(t *testing.T) {
	tool := retentionOffersTool(StaticOffers{})

	out, err := tool.Invoke(context.Background(), json.RawMessage(`{"customer_id":"c1","account_type":"personal","current_plan":"pro","tenure_months":14,"recent_complaints":true}`))
	require.NoError(t, err)
	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"offers":[{"type":"discount","value":"20% for 1 year","conditions":"standard eligibility"}]}`, string(b))

	_, err = tool.Invoke(context.Background(), json.RawMessage(`{"tenure_months":-1}`))
	assert.Error(t, err)

	_, err = tool.Invoke(context.Background(), json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestGraphQLOffers(t *testing.T) {
	var body struct {
		OperationName string         `json:"operationName"`
		Query         string         `json:"query"`
		Variables     map[string]any `json:"variables"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"retentionOffers":[{"type":"upgrade","value":"free month","conditions":"tenure over 12 months"}]}}`))
	}))
	defer ts.Close()

	g, err := NewGraphQLOffers(ts.URL, time.Second)
	require.NoError(t, err)

	offers, err := g.RetentionOffers(context.Background(), OfferRequest{CustomerID: "c1", CurrentPlan: "pro", TenureMonths: 13})
	require.NoError(t, err)
	assert.Equal(t, []Offer{{Type: "upgrade", Value: "free month", Conditions: "tenure over 12 months"}}, offers)
	assert.Equal(t, "RetentionOffers", body.OperationName)
	assert.Equal(t, "c1", body.Variables["customerId"])
	assert.Equal(t, float64(13), body.Variables["tenureMonths"])

	_, err = g.RetentionOffers(context.Background(), OfferRequest{TenureMonths: -2})
	assert.Error(t, err)
}

func TestGraphQLOffersErrors(t *testing.T) {
	_, err := NewGraphQLOffers("", time.Second)
	assert.Error(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"customer not found"}]}`))
	}))
	defer ts.Close()

	g, err := NewGraphQLOffers(ts.URL, time.Second)
	require.NoError(t, err)
	_, err = g.RetentionOffers(context.Background(), OfferRequest{CustomerID: "nobody"})
	assert.Error(t, err)
}

func TestAlwaysApprove(t *testing.T) {
	ok, err := AlwaysApprove(context.Background(), "Does this work for you?")
	require.NoError(t, err)
	assert.True(t, ok)
}
