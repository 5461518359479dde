package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultRemoteTimeout = 2 * time.Second

// remoteCheck delegates a named check to an external guardrail service. The
// service answers with a verdict whose diagnostics may use either spelling of
// the guardrail name field.
type remoteCheck struct {
	name     string
	endpoint string
	timeout  time.Duration
	config   Params
}

type remoteRequest struct {
	Name   string `json:"name"`
	Text   string `json:"text"`
	Config Params `json:"config,omitempty"`
}

type remoteResponse struct {
	TripwireTriggered bool        `json:"tripwire_triggered"`
	Info              Diagnostics `json:"info"`
}

func newRemoteCheck(entry ConfigEntry) (Check, error) {
	timeout := defaultRemoteTimeout
	if ms := entry.Config.Float("timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	cfg := Params{}
	for k, v := range entry.Config {
		if k == "endpoint" || k == "timeout_ms" {
			continue
		}
		cfg[k] = v
	}
	return &remoteCheck{
		name:     entry.Name,
		endpoint: entry.Config.String("endpoint", ""),
		timeout:  timeout,
		config:   cfg,
	}, nil
}

func (c *remoteCheck) Name() string { return c.name }

func (c *remoteCheck) Evaluate(ctx context.Context, text string, rc *RunContext) (Verdict, error) {
	client := http.DefaultClient
	if rc != nil && rc.HTTPClient != nil {
		client = rc.HTTPClient
	}

	// fail fast: a slow guardrail service must not stall the run
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(remoteRequest{Name: c.name, Text: text, Config: c.config})
	if err != nil {
		return Verdict{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("guardrail service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Verdict{}, fmt.Errorf("guardrail service returned status: %d", resp.StatusCode)
	}

	var res remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Verdict{}, fmt.Errorf("decode guardrail response: %w", err)
	}
	return Verdict{CheckName: c.name, Tripped: res.TripwireTriggered, Diagnostics: res.Info}, nil
}
