// Package storage defines the persistence port for conversation history.
// The pipeline only requires durable append semantics once a generation
// completes; the storage format is the implementation's concern.
package storage

import (
	"context"
	"time"
)

// Message is one persisted conversation turn. Meta carries auxiliary
// channels (reasoning, citations, invoice snapshot) as opaque strings.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	Meta           map[string]string `json:"meta,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ConversationStore persists and replays conversation history.
type ConversationStore interface {
	// AppendMessage durably appends one message. At-least-once: callers
	// tolerate duplicates on retry.
	AppendMessage(ctx context.Context, msg *Message) error

	// History returns all messages of a conversation in append order.
	History(ctx context.Context, conversationID string) ([]*Message, error)

	Close() error
}
