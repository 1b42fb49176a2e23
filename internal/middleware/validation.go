package middleware

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kaya7oast/FSDP-sub000/internal/errx"
)

const (
	maxMessageBytes = 100000
	maxIDLength     = 256
	maxChatName     = 256
)

// ValidateMessageContent validates the text of a user message.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: message cannot be empty", errx.ErrInvalidInput)
	}
	if len(content) > maxMessageBytes {
		return fmt.Errorf("%w: message exceeds maximum length", errx.ErrInvalidInput)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("%w: message must be valid UTF-8", errx.ErrInvalidInput)
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	return validateID("conversationId", id)
}

// ValidateUserID validates a user ID.
func ValidateUserID(id string) error {
	return validateID("userId", id)
}

// ValidateAgentID validates an agent ID.
func ValidateAgentID(id string) error {
	return validateID("agentId", id)
}

// ValidateChatName validates an optional conversation display name.
func ValidateChatName(name string) error {
	if len(name) > maxChatName {
		return fmt.Errorf("%w: chatname exceeds maximum length", errx.ErrInvalidInput)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: chatname must be valid UTF-8", errx.ErrInvalidInput)
	}
	return nil
}

func validateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s is required", errx.ErrInvalidInput, field)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: %s exceeds maximum length", errx.ErrInvalidInput, field)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: %s must be valid UTF-8", errx.ErrInvalidInput, field)
	}
	return nil
}
