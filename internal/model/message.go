package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is a single entry in a conversation. Messages are owned by their
// conversation and are never addressed on their own.
type Message struct {
	Role      Role      `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`

	// LLM metadata, assistant messages only
	Provider  string `json:"provider,omitempty" bson:"provider,omitempty"`
	Model     string `json:"model,omitempty" bson:"model,omitempty"`
	TokensIn  *int   `json:"tokensIn,omitempty" bson:"tokensIn,omitempty"`
	TokensOut *int   `json:"tokensOut,omitempty" bson:"tokensOut,omitempty"`
	LatencyMs *int64 `json:"latencyMs,omitempty" bson:"latencyMs,omitempty"`
}

// NewMessage builds a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// ChatRequest is the body of POST /agents/{agentId}/chat.
type ChatRequest struct {
	UserID         string `json:"userId"`
	Message        string `json:"message"`
	Provider       string `json:"provider,omitempty"`
	ChatName       string `json:"chatname,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// ReplyView is the reply part of a chat response.
type ReplyView struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatResponse is the response to a chat turn.
type ChatResponse struct {
	Reply          ReplyView `json:"reply"`
	ConversationID string    `json:"conversationId"`
}
