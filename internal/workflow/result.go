package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/mankinLew/milleu-agent/internal/conversation"
	"github.com/mankinLew/milleu-agent/internal/guardrails"
)

// Kind tells the three terminal result shapes apart.
type Kind int

const (
	KindFailure Kind = iota + 1
	KindMessage
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindFailure:
		return "guardrail_failure"
	case KindMessage:
		return "message"
	case KindFallback:
		return "fallback"
	}
	return "unknown"
}

// Fallback carries the classifier's structured output when its label routed
// nowhere, both canonically serialized and parsed.
type Fallback struct {
	OutputText   string         `json:"output_text"`
	OutputParsed map[string]any `json:"output_parsed"`
}

func newFallback(raw json.RawMessage, parsed map[string]any) (*Fallback, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize classifier output: %w", err)
	}
	return &Fallback{OutputText: string(canonical), OutputParsed: parsed}, nil
}

// Result is the outcome of one run. It marshals to exactly one of the failure
// report, {"message": ...} or the fallback record.
type Result struct {
	RunID    string
	Kind     Kind
	Failure  *guardrails.FailureReport
	Message  string
	Fallback *Fallback

	// History and State as they stood when the run ended.
	History []conversation.Entry
	State   conversation.State
}

type messageBody struct {
	Message string `json:"message"`
}

func (r *Result) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindFailure:
		return json.Marshal(r.Failure)
	case KindMessage:
		return json.Marshal(messageBody{Message: r.Message})
	case KindFallback:
		return json.Marshal(r.Fallback)
	}
	return nil, fmt.Errorf("result has no shape: kind %d", r.Kind)
}
