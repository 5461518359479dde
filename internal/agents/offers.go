package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Khan/genqlient/graphql"

	"github.com/mankinLew/milleu-agent/internal/llm"
)

// OfferRequest describes the customer a retention offer is sought for.
type OfferRequest struct {
	CustomerID       string `json:"customer_id"`
	AccountType      string `json:"account_type"`
	CurrentPlan      string `json:"current_plan"`
	TenureMonths     int    `json:"tenure_months"`
	RecentComplaints bool   `json:"recent_complaints"`
}

func (r OfferRequest) Validate() error {
	if r.TenureMonths < 0 {
		return fmt.Errorf("tenure_months must be non-negative, got %d", r.TenureMonths)
	}
	return nil
}

type Offer struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	Conditions string `json:"conditions"`
}

// OfferLookup fetches retention offers for a customer.
type OfferLookup interface {
	RetentionOffers(ctx context.Context, req OfferRequest) ([]Offer, error)
}

// StaticOffers returns the standing discount to every customer.
type StaticOffers struct{}

func (StaticOffers) RetentionOffers(_ context.Context, req OfferRequest) ([]Offer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return []Offer{{Type: "discount", Value: "20% for 1 year", Conditions: "standard eligibility"}}, nil
}

const retentionOffersQuery = `query RetentionOffers($customerId: String!, $accountType: String!, $currentPlan: String!, $tenureMonths: Int!, $recentComplaints: Boolean!) {
  retentionOffers(customerId: $customerId, accountType: $accountType, currentPlan: $currentPlan, tenureMonths: $tenureMonths, recentComplaints: $recentComplaints) {
    type
    value
    conditions
  }
}`

type retentionOffersVars struct {
	CustomerID       string `json:"customerId"`
	AccountType      string `json:"accountType"`
	CurrentPlan      string `json:"currentPlan"`
	TenureMonths     int    `json:"tenureMonths"`
	RecentComplaints bool   `json:"recentComplaints"`
}

type retentionOffersData struct {
	RetentionOffers []Offer `json:"retentionOffers"`
}

// GraphQLOffers looks offers up in an offers service over GraphQL.
type GraphQLOffers struct {
	client graphql.Client
}

func NewGraphQLOffers(endpoint string, timeout time.Duration) (*GraphQLOffers, error) {
	slog.Info("Creating offers client", "endpoint", endpoint)
	if endpoint == "" {
		return nil, errors.New("offers endpoint cannot be empty")
	}
	httpClient := &http.Client{Timeout: timeout}
	return &GraphQLOffers{client: graphql.NewClient(endpoint, httpClient)}, nil
}

func (g *GraphQLOffers) RetentionOffers(ctx context.Context, req OfferRequest) ([]Offer, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	gqlReq := &graphql.Request{
		OpName: "RetentionOffers",
		Query:  retentionOffersQuery,
		Variables: retentionOffersVars{
			CustomerID:       req.CustomerID,
			AccountType:      req.AccountType,
			CurrentPlan:      req.CurrentPlan,
			TenureMonths:     req.TenureMonths,
			RecentComplaints: req.RecentComplaints,
		},
	}
	var data retentionOffersData
	resp := &graphql.Response{Data: &data}

	if err := g.client.MakeRequest(ctx, gqlReq, resp); err != nil {
		slog.Error("retention offers query failed", "error", err)
		return nil, fmt.Errorf("retention offers: %w", err)
	}
	return data.RetentionOffers, nil
}

func retentionOffersTool(offers OfferLookup) llm.Tool {
	return llm.Tool{
		Name:        "get_retention_offers",
		Description: "Retrieve retention offers for a customer considering cancellation",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"customer_id":       map[string]any{"type": "string"},
				"account_type":      map[string]any{"type": "string"},
				"current_plan":      map[string]any{"type": "string"},
				"tenure_months":     map[string]any{"type": "integer", "minimum": 0},
				"recent_complaints": map[string]any{"type": "boolean"},
			},
			"required":             []string{"customer_id", "account_type", "current_plan", "tenure_months", "recent_complaints"},
			"additionalProperties": false,
		},
		Invoke: func(ctx context.Context, arguments json.RawMessage) (any, error) {
			var req OfferRequest
			if err := json.Unmarshal(arguments, &req); err != nil {
				return nil, fmt.Errorf("invalid get_retention_offers arguments: %w", err)
			}
			list, err := offers.RetentionOffers(ctx, req)
			if err != nil {
				return nil, err
			}
			return map[string]any{"offers": list}, nil
		},
	}
}
