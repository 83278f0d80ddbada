package events

import "strings"

const (
	// KindTranscriptInterim identifies a transcript that may still change.
	KindTranscriptInterim Kind = "user_input.transcript_interim"
	// KindTranscriptFinal identifies a settled transcript for the utterance.
	KindTranscriptFinal Kind = "user_input.transcript_final"
)

// TranscriptionUpdate carries a speech-to-text result for the current
// utterance. Updates are produced repeatedly per utterance and only final
// ones are acted upon.
type TranscriptionUpdate struct {
	Base
	Text    string
	IsFinal bool
}

func (t TranscriptionUpdate) String() string {
	if t.IsFinal {
		return t.Text
	}
	return t.Text + "..."
}

// NewInterimTranscription creates a transcription update that may still change.
func NewInterimTranscription(text string, opts ...RebaseOption) TranscriptionUpdate {
	return newTranscriptionUpdate(KindTranscriptInterim, text, false, opts...)
}

// NewFinalTranscription creates a settled transcription update.
func NewFinalTranscription(text string, opts ...RebaseOption) TranscriptionUpdate {
	return newTranscriptionUpdate(KindTranscriptFinal, text, true, opts...)
}

func newTranscriptionUpdate(kind Kind, text string, isFinal bool, opts ...RebaseOption) TranscriptionUpdate {
	base := NewBase(kind)
	for _, opt := range opts {
		opt(&base)
	}

	return TranscriptionUpdate{Base: base, Text: text, IsFinal: isFinal}
}

// IsNoise reports whether a transcript carries no speech worth acting on.
func IsNoise(text string) bool {
	return strings.TrimSpace(text) == ""
}
