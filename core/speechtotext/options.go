package speechtotext

import "github.com/koscakluka/phonio/core/audio"

// TranscriptionOptions configure a live recognition stream. In phonio the
// stream only feeds captions, turn taking belongs to the realtime session,
// so every callback is optional and none of them may block for long.
type TranscriptionOptions struct {
	// Interim results, as the recognizer revises them. The partial variant
	// carries only the words of the current segment, the other one the whole
	// utterance so far. When both are set only the partial one is called.
	PartialInterimTranscriptionCallback func(transcript string)
	InterimTranscriptionCallback        func(transcript string)

	// Final results. Partial fires once per finalized segment, the other one
	// once the utterance ends.
	PartialTranscriptionCallback func(transcript string)
	TranscriptionCallback        func(transcript string)

	SpeechStartedCallback func()
	SpeechEndedCallback   func()

	// EncodingInfo describes the audio that will be streamed, it defaults to
	// 16 kHz linear16.
	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

// NewTranscriptionOptions applies opts over the default encoding.
func NewTranscriptionOptions(opts ...TranscriptionOption) TranscriptionOptions {
	options := TranscriptionOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.EncodingInfo = encodingInfo }
}

// WithTranscriptionCallback receives each finished utterance, the caption
// line that stays on screen.
func WithTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.TranscriptionCallback = callback }
}

func WithPartialTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.PartialTranscriptionCallback = callback }
}

// WithInterimTranscriptionCallback receives the live caption while the user
// is still speaking.
func WithInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.InterimTranscriptionCallback = callback }
}

func WithPartialInterimTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.PartialInterimTranscriptionCallback = callback }
}

func WithSpeechStartedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.SpeechStartedCallback = callback }
}

func WithSpeechEndedCallback(callback func()) TranscriptionOption {
	return func(o *TranscriptionOptions) { o.SpeechEndedCallback = callback }
}
