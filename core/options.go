package orchestration

import (
	"log/slog"

	"github.com/koscakluka/phonio/core/events"
)

type OrchestratorOption func(*Orchestrator)

// WithGreetingInstructions replaces the instructions of the greeting spoken
// once the session is ready.
func WithGreetingInstructions(instructions string) OrchestratorOption {
	return func(o *Orchestrator) {
		if instructions != "" {
			o.greetingInstructions = instructions
		}
	}
}

// WithoutGreeting disables the greeting. Replies are then only generated for
// user turns.
func WithoutGreeting() OrchestratorOption {
	return func(o *Orchestrator) {
		o.greetingDisabled = true
	}
}

// WithUserTurnInstructions replaces how reply instructions are derived from
// the text of a committed user turn.
func WithUserTurnInstructions(instructions func(text string) string) OrchestratorOption {
	return func(o *Orchestrator) {
		if instructions != nil {
			o.userTurnInstructions = instructions
		}
	}
}

// WithLogger replaces the default OpenTelemetry backed logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTranscriptionCallback registers a callback for final, non-empty
// transcriptions reported by the session.
func WithTranscriptionCallback(callback func(transcript string)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.callbacks.onTranscription = callback
	}
}

// WithInterimTranscriptionCallback registers a callback for interim
// transcriptions. Interim transcriptions never trigger a reply.
func WithInterimTranscriptionCallback(callback func(transcript string)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.callbacks.onInterimTranscription = callback
	}
}

// WithTurnCallback registers a callback for every committed turn, including
// late interruption updates of turns already reported.
func WithTurnCallback(callback func(turn events.ConversationTurn)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.callbacks.onTurn = callback
	}
}

// WithReplyStateCallback registers a callback for reply lifecycle changes.
//
// The callback runs inline on the reply path and should not block.
func WithReplyStateCallback(callback func(request ReplyRequest, state ReplyState)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.callbacks.onReplyState = callback
	}
}

// WithEventCallback registers a callback receiving every session event
// before the orchestrator acts on it.
func WithEventCallback(callback func(event events.Event)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.callbacks.onEvent = callback
	}
}

type orchestratorCallbacks struct {
	onTranscription        func(transcript string)
	onInterimTranscription func(transcript string)
	onTurn                 func(turn events.ConversationTurn)
	onReplyState           func(request ReplyRequest, state ReplyState)
	onEvent                func(event events.Event)
}
