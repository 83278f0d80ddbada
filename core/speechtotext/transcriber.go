package speechtotext

import (
	"context"
	"errors"

	"github.com/koscakluka/phonio/core/audio"
)

var (
	ErrEmptyAudio      = errors.New("no audio to transcribe")
	ErrStreamNotOpen   = errors.New("transcription stream not open")
	ErrMissingAPIKey   = errors.New("speech to text api key not configured")
	ErrNoTranscription = errors.New("no speech recognized")
)

// Transcriber turns a complete recording into text.
type Transcriber interface {
	TranscribeAll(ctx context.Context, pcm []byte, encoding audio.EncodingInfo) (string, error)
}

// StreamingTranscriber transcribes audio as it is captured and reports the
// results through the callbacks of TranscriptionOptions.
type StreamingTranscriber interface {
	Transcribe(ctx context.Context, opts ...TranscriptionOption) error
	SendAudio(audio []byte) error
	StopStream() error
}
