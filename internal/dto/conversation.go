package dto

import (
	"github.com/eleven-am/vision-chat/internal/conversation"
	"github.com/eleven-am/vision-chat/internal/gate"
	"github.com/eleven-am/vision-chat/internal/media"
)

type CreateConversationRequest struct {
	Model string `json:"model"`
}

type ConversationResponse struct {
	ID        string              `json:"id"`
	Model     string              `json:"model"`
	State     gate.State          `json:"state"`
	Answer    string              `json:"current_answer"`
	Turns     []conversation.Turn `json:"turns"`
	Rendered  string              `json:"rendered"`
	Media     *media.Summary      `json:"media,omitempty"`
	CreatedAt string              `json:"created_at"`
	UpdatedAt string              `json:"updated_at"`
}

type ConversationListResponse struct {
	Conversations []conversation.Info `json:"conversations"`
	Count         int                 `json:"count"`
}

type MediaResponse struct {
	ConversationID string        `json:"conversation_id"`
	Media          media.Summary `json:"media"`
}

type SubmitMessageRequest struct {
	Question  string         `json:"question"`
	Model     string         `json:"model,omitempty"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Sampling  *bool          `json:"sampling,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type SubmitMessageResponse struct {
	ConversationID string     `json:"conversation_id"`
	RequestID      string     `json:"request_id"`
	State          gate.State `json:"state"`
}

type HistoryResponse struct {
	ConversationID string                     `json:"conversation_id"`
	Turns          []*conversation.TurnRecord `json:"turns"`
}

type ModelsResponse struct {
	Default    string   `json:"default"`
	Configured []string `json:"configured"`
	Installed  []string `json:"installed,omitempty"`
}

// SocketMessage is what a WebSocket client may send on the events stream.
type SocketMessage struct {
	Type string `json:"type"`
	SubmitMessageRequest
}
