package orchestration

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/koscakluka/phonio/core/events"
)

// Turn is a committed conversation turn as recorded by the orchestrator.
type Turn struct {
	ID          string
	Role        events.Role
	Text        string
	Interrupted bool
	CommittedAt time.Time
}

// conversation is the log of committed turns, in the order the session
// committed them.
type conversation struct {
	mu    sync.RWMutex
	turns []Turn
}

// record appends a committed turn. A turn that was already recorded keeps
// its role and text, only a late interruption is applied to it. It reports
// whether the turn was new. Turns without an ID are always new and get one
// assigned.
func (c *conversation) record(turn events.ConversationTurn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].ID == turn.ID {
			if turn.Interrupted {
				c.turns[i].Interrupted = true
			}
			return false
		}
	}

	c.turns = append(c.turns, Turn{
		ID:          turn.ID,
		Role:        turn.Role,
		Text:        turn.Text,
		Interrupted: turn.Interrupted,
		CommittedAt: turn.Timestamp(),
	})
	return true
}

func (c *conversation) snapshot() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	turns := []Turn{}
	if err := copier.Copy(&turns, c.turns); err != nil {
		turns = make([]Turn, len(c.turns))
		copy(turns, c.turns)
	}
	return turns
}

func (c *conversation) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}
