package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeTurnCompleted EventType = "turn_completed"
	EventTypeProviderError EventType = "provider_error"
	EventTypeDeleted       EventType = "deleted"
	EventTypeSummarized    EventType = "summarized"
	EventTypeProviderSet   EventType = "provider_set"
)

// ConversationEvent represents an event in a conversation.
type ConversationEvent struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	AgentID        string         `json:"agent_id"`
	Type           EventType      `json:"type"`
	Provider       string         `json:"provider,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
