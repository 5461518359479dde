package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// SessionIssuer creates hosted chat sessions for the browser widget.
type SessionIssuer interface {
	CreateSession(ctx context.Context, user string) (string, error)
}

// ChatKitSessions issues sessions for a hosted workflow through the OpenAI API.
type ChatKitSessions struct {
	client     *openai.Client
	workflowID string
}

func NewChatKitSessions(client *openai.Client, workflowID string) *ChatKitSessions {
	return &ChatKitSessions{client: client, workflowID: workflowID}
}

type chatKitWorkflow struct {
	ID string `json:"id"`
}

type chatKitSessionParams struct {
	Workflow chatKitWorkflow `json:"workflow"`
	User     string          `json:"user"`
}

type chatKitSession struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

func (c *ChatKitSessions) CreateSession(ctx context.Context, user string) (string, error) {
	if c.workflowID == "" {
		return "", errors.New("chat workflow id is not configured")
	}

	body, err := json.Marshal(chatKitSessionParams{Workflow: chatKitWorkflow{ID: c.workflowID}, User: user})
	if err != nil {
		return "", err
	}

	var session chatKitSession
	err = c.client.Post(ctx, "chatkit/sessions", json.RawMessage(body), &session,
		option.WithHeader("OpenAI-Beta", "chatkit_beta=v1"),
	)
	if err != nil {
		return "", fmt.Errorf("create chat session: %w", err)
	}
	if session.ClientSecret == "" {
		return "", errors.New("chat session returned no client secret")
	}
	return session.ClientSecret, nil
}
