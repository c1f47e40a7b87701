package model

type ChatMessage struct {
	Role    string        `json:"role" binding:"required"`
	Content []ContentItem `json:"content" binding:"required"`
}

type ChatRequest struct {
	Messages  []ChatMessage  `json:"messages" binding:"required"`
	SessionID string         `json:"session_id"`
	Stream    bool           `json:"stream"`
	Context   *ContextFilter `json:"context,omitempty"`
}

// NewChatRequest wraps one user turn for the streaming endpoint.
func NewChatRequest(sessionID string, content []ContentItem, filter *ContextFilter) ChatRequest {
	return ChatRequest{
		Messages:  []ChatMessage{{Role: string(KindUser), Content: content}},
		SessionID: sessionID,
		Stream:    true,
		Context:   filter,
	}
}

type CreateSessionRequest struct {
	Title    string         `json:"title,omitempty"`
	IsPublic bool           `json:"is_public,omitempty"`
	Context  *ContextFilter `json:"context,omitempty"`
}

type UpdateSessionRequest struct {
	Title    string         `json:"title,omitempty"`
	IsPublic *bool          `json:"is_public,omitempty"`
	Context  *ContextFilter `json:"context,omitempty"`
}
