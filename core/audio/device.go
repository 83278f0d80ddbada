package audio

import "context"

// Device captures microphone audio and plays assistant audio on the local
// machine.
type Device interface {
	// Stream delivers captured frames to onAudio until ctx is done.
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	SendAudio(audio []byte) error
	ClearBuffer()
	// Drain blocks until queued playback audio was played.
	Drain(ctx context.Context) error
	EncodingInfo() EncodingInfo
	Close()
}
