package main

import (
	"context"
	"fmt"

	"github.com/koscakluka/phonio/core/audio"
	"github.com/koscakluka/phonio/core/audio/miniaudio"
	"github.com/koscakluka/phonio/core/audio/portaudio"
	"github.com/koscakluka/phonio/core/events"
	"github.com/koscakluka/phonio/core/speechtotext"
	"github.com/koscakluka/phonio/core/speechtotext/deepgram"
	"github.com/koscakluka/phonio/internal/config"
)

// openDevice returns nil when audio is disabled, the session then only
// exchanges text.
func openDevice(cfg config.AgentConfig, encoding audio.EncodingInfo) (audio.Device, error) {
	switch cfg.Audio {
	case "none":
		return nil, nil
	case "portaudio":
		device, err := portaudio.NewClient(encoding, cfg.PlaybackBufferSize)
		if err != nil {
			return nil, fmt.Errorf("failed to open portaudio device: %w", err)
		}
		return device, nil
	default:
		device, err := miniaudio.NewClient(encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to open miniaudio device: %w", err)
		}
		return device, nil
	}
}

// startCaptions transcribes the microphone locally so that the user sees
// what they say before the session commits the turn. Captions are display
// only, replies are still driven by the session.
func startCaptions(ctx context.Context, cfg *config.Config, forward func(events.Event)) (speechtotext.StreamingTranscriber, error) {
	if !cfg.Agent.LocalTranscription || cfg.Agent.Audio == "none" {
		return nil, nil
	}

	client := deepgram.NewTranscriptionClient(
		deepgram.WithAPIKey(cfg.Deepgram.APIKey),
		deepgram.WithModel(cfg.Deepgram.Model),
		deepgram.WithLanguage(cfg.Deepgram.Language),
	)
	err := client.Transcribe(ctx,
		speechtotext.WithEncodingInfo(audio.GetRealtimeEncodingInfo()),
		speechtotext.WithInterimTranscriptionCallback(func(transcript string) {
			forward(events.NewInterimTranscription(transcript))
		}),
		speechtotext.WithTranscriptionCallback(func(transcript string) {
			forward(events.NewFinalTranscription(transcript))
		}),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}
