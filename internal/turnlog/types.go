package turnlog

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Message is one side of a turn as persisted for call history.
type Message struct {
	ID          string    `json:"id"`
	CallID      string    `json:"call_id"`
	TenantID    string    `json:"tenant_id"`
	TurnID      string    `json:"turn_id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store appends and reads turn messages.
type Store interface {
	AppendTurnMessage(ctx context.Context, msg Message) error
	// Messages returns up to limit messages for a call in chronological order.
	// A non-positive limit returns all of them.
	Messages(ctx context.Context, callID string, limit int) ([]Message, error)
	Close() error
}
