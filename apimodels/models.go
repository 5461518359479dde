package apimodels

// SessionRequest asks for a chat session token. An absent user id issues the
// session for an anonymous user.
type SessionRequest struct {
	UserID *string `json:"user_id,omitempty"`
}

type SessionResponse struct {
	// Short-lived secret the browser widget uses to open the session
	ClientSecret string `json:"client_secret"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`

	// Run identifier when the failure happened inside a workflow run
	RunID string `json:"run_id,omitempty"`
}
