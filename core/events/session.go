package events

const (
	// KindSessionStarted identifies a session that finished starting.
	KindSessionStarted Kind = "session.started"
	// KindSessionFailed identifies a session that could not proceed.
	KindSessionFailed Kind = "session.failed"
	// KindSessionClosed identifies a session that ended.
	KindSessionClosed Kind = "session.closed"
	// KindAssistantAudioFrame identifies synthesized reply audio.
	KindAssistantAudioFrame Kind = "assistant_speech.frame"
	// KindUserSpeechStarted identifies start of user speech activity.
	KindUserSpeechStarted Kind = "user_input.speech_started"
	// KindUserSpeechEnded identifies end of user speech activity.
	KindUserSpeechEnded Kind = "user_input.speech_ended"
)

// SessionStarted marks the session as fully started.
type SessionStarted struct {
	Base
	SessionID string
}

func NewSessionStarted(sessionID string) SessionStarted {
	return SessionStarted{Base: NewBase(KindSessionStarted), SessionID: sessionID}
}

// SessionFailed carries an error that the session could not recover from.
type SessionFailed struct {
	Base
	Err error
}

func NewSessionFailed(err error) SessionFailed {
	return SessionFailed{Base: NewBase(KindSessionFailed), Err: err}
}

type SessionClosed struct{ Base }

func NewSessionClosed() SessionClosed {
	return SessionClosed{Base: NewBase(KindSessionClosed)}
}

// AssistantAudioFrame carries a chunk of PCM audio of the spoken reply.
type AssistantAudioFrame struct {
	Base
	Audio []byte
}

func NewAssistantAudioFrame(audio []byte) AssistantAudioFrame {
	return AssistantAudioFrame{Base: NewBase(KindAssistantAudioFrame), Audio: audio}
}

type UserSpeechStarted struct{ Base }

func NewUserSpeechStarted() UserSpeechStarted {
	return UserSpeechStarted{Base: NewBase(KindUserSpeechStarted)}
}

type UserSpeechEnded struct{ Base }

func NewUserSpeechEnded() UserSpeechEnded {
	return UserSpeechEnded{Base: NewBase(KindUserSpeechEnded)}
}
