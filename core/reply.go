package orchestration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	descriptionUserTurn = "user turn reply"
	descriptionGreeting = "greeting"

	defaultGreetingInstructions = "Greet the user in one short sentence."
)

func defaultUserTurnInstructions(text string) string {
	return fmt.Sprintf("You said: '%s'. Reply in one or two very short sentences.", text)
}

// ReplyRequest is a single reply-generation call waiting for, or holding,
// the reply gate. It is discarded once the call returns.
type ReplyRequest struct {
	ID           string
	Instructions string
	// Description tags the request in logs and traces, e.g. "greeting".
	Description string
	CreatedAt   time.Time
}

func newReplyRequest(instructions, description string) ReplyRequest {
	return ReplyRequest{
		ID:           uuid.NewString(),
		Instructions: instructions,
		Description:  description,
		CreatedAt:    time.Now(),
	}
}

// ReplyState is the position of a reply request in its lifecycle.
type ReplyState string

const (
	// ReplyStateQueued means the request waits for another reply to finish.
	ReplyStateQueued ReplyState = "queued"
	// ReplyStateExecuting means the request holds the gate and the language
	// model is producing the reply.
	ReplyStateExecuting ReplyState = "executing"
	// ReplyStateIdle means the request finished, failed or was abandoned.
	ReplyStateIdle ReplyState = "idle"
)

// ReplyStats counts reply requests since the orchestrator was created.
type ReplyStats struct {
	Scheduled int64
	Completed int64
	Failed    int64
	Abandoned int64
}
