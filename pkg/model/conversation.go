package model

import (
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// RewriteWindow is the number of most recent turns used as rewrite context,
// i.e. one user/assistant exchange.
const RewriteWindow = 2

// Turn is one message of the conversation.
type Turn struct {
	Role    Role
	Content string
}

// RecentTurns returns at most n trailing turns.
func RecentTurns(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// FormatTurns renders turns as "User: ..." / "Bot: ..." lines.
func FormatTurns(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			b.WriteString("User: ")
		default:
			b.WriteString("Bot: ")
		}
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}
