package orchestration

import (
	"errors"
	"fmt"
)

var (
	ErrOrchestratorClosed     = errors.New("orchestrator closed")
	ErrGeneratorNotConfigured = errors.New("reply generator not configured")
)

// SessionStartError reports a session that failed to initialise. It is
// terminal for the session: no greeting is attempted after it.
type SessionStartError struct {
	Err error
}

func (e *SessionStartError) Error() string {
	return fmt.Sprintf("failed to start session: %v", e.Err)
}

func (e *SessionStartError) Unwrap() error {
	return e.Err
}
