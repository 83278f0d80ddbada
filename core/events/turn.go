package events

import (
	"fmt"

	"github.com/google/uuid"
)

// KindTurnCommitted identifies a committed conversation turn.
const KindTurnCommitted Kind = "conversation.turn_committed"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ConversationTurn is one committed contribution to the conversation.
//
// Role and Text do not change once the turn is emitted. Interrupted records
// whether playback or generation of the turn was cut off by a new user
// utterance.
type ConversationTurn struct {
	Base
	ID          string
	Role        Role
	Text        string
	Interrupted bool
}

func (t ConversationTurn) String() string {
	return fmt.Sprintf("[%s] %s (interrupted: %t)", t.Role, t.Text, t.Interrupted)
}

// NewConversationTurn creates a committed turn event with a fresh ID.
func NewConversationTurn(role Role, text string, interrupted bool, opts ...RebaseOption) ConversationTurn {
	base := NewBase(KindTurnCommitted)
	for _, opt := range opts {
		opt(&base)
	}

	return ConversationTurn{
		Base:        base,
		ID:          uuid.NewString(),
		Role:        role,
		Text:        text,
		Interrupted: interrupted,
	}
}

// WithID keeps the identifier assigned by the session, so that turns can be
// correlated with the items the language model reports.
func (t ConversationTurn) WithID(id string) ConversationTurn {
	if id != "" {
		t.ID = id
	}
	return t
}
