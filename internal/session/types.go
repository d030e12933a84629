package session

import (
	"errors"
	"time"
)

var (
	// ErrConversationNotFound is returned when a conversation doesn't exist
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidConversation is returned when stored conversation data is invalid
	ErrInvalidConversation = errors.New("invalid conversation")
)

// StatusActive is the status assigned to every newly created conversation.
const StatusActive = "active"

// Conversation is one user's message thread with the analysis service.
type Conversation struct {
	ID        string                 `json:"id"`
	Email     string                 `json:"email"`
	Status    string                 `json:"status"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Messages  []Message              `json:"messages"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Message is a single turn in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// RecentMessages returns the most recent messages, oldest first.
func (c *Conversation) RecentMessages(count int) []Message {
	if len(c.Messages) <= count {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-count:]
}

// LastUserQuery returns the content of the newest user message, or "".
func (c *Conversation) LastUserQuery() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == "user" {
			return c.Messages[i].Content
		}
	}
	return ""
}
