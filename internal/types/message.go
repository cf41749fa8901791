package types

import (
	"fmt"
	"time"
)

// Role is the closed set of transcript entry kinds.
type Role int

const (
	RoleUser Role = iota + 1
	RoleAssistant
	RoleSystem
	RoleError
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	case RoleSystem:
		return "system"
	case RoleError:
		return "error"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	case "system":
		return RoleSystem, nil
	case "error":
		return RoleError, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Message is one transcript entry. Messages are values; once appended to a
// conversation they are never modified.
type Message struct {
	Role      Role
	Content   string // text, or an image reference when IsImage
	IsImage   bool
	Timestamp time.Time
}

// NewMessage stamps a text message with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// Conversation is one ordered transcript tied to a single reset boundary.
type Conversation struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
}

// DefaultConversationTitle is used until the first user message arrives.
const DefaultConversationTitle = "New Chat"

// Clone returns a copy whose message slice does not alias the original.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}
