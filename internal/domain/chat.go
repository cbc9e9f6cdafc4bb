package domain

import (
	"fmt"
	"strings"
	"time"
)

// ChatRole is the author of a chat message.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// Valid reports whether r is a known role.
func (r ChatRole) Valid() bool {
	return r == ChatRoleUser || r == ChatRoleAssistant
}

// ChatMessage is one turn of a session's conversation. Messages of a session
// are ordered by Seq, which the store assigns on append.
type ChatMessage struct {
	SessionID string
	Seq       int64
	Role      ChatRole
	Content   string
	CreatedAt time.Time
}

// Validate checks the fields a message needs before it is stored.
func (m *ChatMessage) Validate() error {
	if m.SessionID == "" {
		return NewValidationError("session_id", "session ID is required")
	}
	if !m.Role.Valid() {
		return NewValidationError("role", fmt.Sprintf("unknown role %q", m.Role))
	}
	if strings.TrimSpace(m.Content) == "" {
		return NewValidationError("content", "message content is required")
	}
	return nil
}
