// Package session describes the voice session framework the reply
// orchestrator is attached to.
//
// A session owns audio transport, voice activity detection and speech
// recognition. It reports what happens through events and accepts reply
// generation calls.
package session

import (
	"context"
	"errors"

	"github.com/koscakluka/phonio/core/events"
	"github.com/koscakluka/phonio/core/llms"
)

var (
	// ErrNotStarted is returned by sessions that are used before Start.
	ErrNotStarted = errors.New("session not started")
	// ErrClosed is returned by sessions that are used after they ended.
	ErrClosed = errors.New("session closed")
)

// EventHandler receives session events. Handlers must not block: the session
// calls them from its read loop.
type EventHandler func(events.Event)

type Session interface {
	llms.ReplyGenerator

	// Start connects the session and begins delivering events to handler.
	// It returns once the session is ready for reply generation.
	Start(ctx context.Context, handler EventHandler) error
	// Done is closed once the session ended.
	Done() <-chan struct{}
	Close() error
}
