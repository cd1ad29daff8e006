package agent

import "time"

// Request is the canonical agent payload. UserID is a hard contract with
// the agent endpoint: it must be present and non-empty on every call.
type Request struct {
	Message       string         `json:"message" validate:"required"`
	MessageType   string         `json:"message_type,omitempty"`
	SessionID     string         `json:"session_id"`
	SessionName   string         `json:"session_name"`
	UserID        string         `json:"user_id" validate:"required"`
	User          *UserProfile   `json:"user,omitempty"`
	SessionOrigin string         `json:"session_origin,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// UserProfile is the optional richer user object. Its presence never
// replaces the top-level UserID.
type UserProfile struct {
	PhoneNumber string         `json:"phone_number,omitempty"`
	Email       string         `json:"email,omitempty"`
	UserData    map[string]any `json:"user_data,omitempty"`
}

// Reply is a successful agent response.
type Reply struct {
	Text      string
	SessionID string
	Duration  time.Duration
}

// wireResponse tolerates both "message" and "text" reply fields.
type wireResponse struct {
	Message   string `json:"message"`
	Text      string `json:"text"`
	Success   *bool  `json:"success"`
	SessionID string `json:"session_id"`
}

func (w wireResponse) replyText() string {
	if w.Message != "" {
		return w.Message
	}
	return w.Text
}

func (w wireResponse) succeeded() bool {
	return w.Success == nil || *w.Success
}
