package domain

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned by session stores for unknown or evicted ids.
var ErrSessionNotFound = errors.New("domain: session not found")

// DefaultIdleTimeout is how long a session survives without a turn.
const DefaultIdleTimeout = 10 * time.Minute

// Turn is a single immutable conversation entry.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Document  string    `json:"document,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewUserTurn(text, document string, at time.Time) Turn {
	return Turn{Role: RoleUser, Text: text, Document: document, CreatedAt: at.UTC()}
}

func NewAssistantTurn(text string, at time.Time) Turn {
	return Turn{Role: RoleAssistant, Text: text, CreatedAt: at.UTC()}
}

func (t Turn) IsUser() bool { return t.Role == RoleUser }

// Conversation is an append-only sequence of turns. Append never touches the
// receiver's backing array, so a conversation handed out earlier stays valid
// after later appends.
type Conversation struct {
	Turns []Turn `json:"turns"`
}

func (c Conversation) Append(turns ...Turn) Conversation {
	out := make([]Turn, 0, len(c.Turns)+len(turns))
	out = append(out, c.Turns...)
	out = append(out, turns...)
	return Conversation{Turns: out}
}

func (c Conversation) Len() int { return len(c.Turns) }

// LastUser returns the most recent user turn.
func (c Conversation) LastUser() (Turn, bool) {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].IsUser() {
			return c.Turns[i], true
		}
	}
	return Turn{}, false
}

// Session owns one conversation for a bounded idle lifetime.
type Session struct {
	ID           string       `json:"id"`
	Conversation Conversation `json:"conversation"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
}

func NewSession(id string, now time.Time) *Session {
	now = now.UTC()
	return &Session{ID: id, CreatedAt: now, LastActivity: now}
}

// Expired reports whether more than idle has elapsed since the last turn.
func (s *Session) Expired(now time.Time, idle time.Duration) bool {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return now.Sub(s.LastActivity) > idle
}

// Clone returns a copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Conversation = Conversation{}.Append(s.Conversation.Turns...)
	return &cp
}
