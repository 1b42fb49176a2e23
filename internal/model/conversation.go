// Package model defines data structures for the agent chat service.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle status of a conversation.
type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Conversation is a chat thread between one user and one agent.
type Conversation struct {
	ID        string    `json:"conversationId" bson:"_id"`
	UserID    string    `json:"userId" bson:"userId"`
	AgentID   string    `json:"agentId" bson:"agentId"`
	Provider  string    `json:"provider" bson:"provider"`
	Name      string    `json:"chatname,omitempty" bson:"name,omitempty"`
	Summary   string    `json:"summary,omitempty" bson:"summary,omitempty"`
	Status    Status    `json:"status" bson:"status"`
	Messages  []Message `json:"messages" bson:"messages"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// NewConversationID returns an identifier derived from the user and agent
// with a random suffix, so one user can hold several conversations with the
// same agent.
func NewConversationID(userID, agentID string) string {
	suffix := strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
	return fmt.Sprintf("conv_%s_%s_%s", userID, agentID, suffix[len(suffix)-12:])
}

// IsDeleted reports whether the conversation has been soft-deleted.
func (c *Conversation) IsDeleted() bool {
	return c.Status == StatusDeleted
}

// Append adds messages to the end of the conversation in order.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	if n := len(msgs); n > 0 {
		c.UpdatedAt = msgs[n-1].CreatedAt
	}
}

// Clone returns a deep copy, so callers can mutate it without touching stored state.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	return &cp
}

// Window returns the last n messages in their original order.
func (c *Conversation) Window(n int) []Message {
	if n <= 0 || len(c.Messages) <= n {
		return append([]Message(nil), c.Messages...)
	}
	return append([]Message(nil), c.Messages[len(c.Messages)-n:]...)
}

// SetProviderRequest is the body of POST /conversations/{id}/provider.
type SetProviderRequest struct {
	Provider string `json:"provider"`
}

// DeleteConversationResponse is returned after a soft delete.
type DeleteConversationResponse struct {
	Message      string        `json:"message"`
	Conversation *Conversation `json:"conversation"`
}

// SummaryResponse is returned by the summarize endpoint.
type SummaryResponse struct {
	Summary string `json:"summary"`
}
