package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/phonio/core/audio"
	"github.com/koscakluka/phonio/core/speechtotext"
	"github.com/koscakluka/phonio/internal/utils"
)

type callbackConfig struct {
	partialInterimTranscriptionCallback func(transcript string)
	interimTranscriptionCallback        func(transcript string)
	partialTranscriptionCallback        func(transcript string)
	transcriptionCallback               func(transcript string)
	startSpeechCallback                 func()
	endSpeechCallback                   func()

	hasPartialInterim  bool
	hasInterim         bool
	accumulateSegments bool
}

type websocketConfig struct {
	shouldDetectSpeechStart            bool
	shouldEnhanceSpeechEndingDetection bool
	shouldRequestInterimResults        bool
}

// newCallbackConfig replaces unset callbacks with no-ops and derives which
// optional server features the configured callbacks need.
func newCallbackConfig(options speechtotext.TranscriptionOptions) (callbackConfig, websocketConfig) {
	callbacks := callbackConfig{
		partialInterimTranscriptionCallback: options.PartialInterimTranscriptionCallback,
		interimTranscriptionCallback:        options.InterimTranscriptionCallback,
		partialTranscriptionCallback:        options.PartialTranscriptionCallback,
		transcriptionCallback:               options.TranscriptionCallback,
		startSpeechCallback:                 options.SpeechStartedCallback,
		endSpeechCallback:                   options.SpeechEndedCallback,

		hasPartialInterim:  options.PartialInterimTranscriptionCallback != nil,
		hasInterim:         options.InterimTranscriptionCallback != nil,
		accumulateSegments: options.TranscriptionCallback != nil,
	}

	noopTranscript := func(string) {}
	if callbacks.partialInterimTranscriptionCallback == nil {
		callbacks.partialInterimTranscriptionCallback = noopTranscript
	}
	if callbacks.interimTranscriptionCallback == nil {
		callbacks.interimTranscriptionCallback = noopTranscript
	}
	if callbacks.partialTranscriptionCallback == nil {
		callbacks.partialTranscriptionCallback = noopTranscript
	}
	if callbacks.transcriptionCallback == nil {
		callbacks.transcriptionCallback = noopTranscript
	}
	if callbacks.startSpeechCallback == nil {
		callbacks.startSpeechCallback = func() {}
	}
	if callbacks.endSpeechCallback == nil {
		callbacks.endSpeechCallback = func() {}
	}

	wsConfig := websocketConfig{
		shouldDetectSpeechStart: options.SpeechStartedCallback != nil,
		shouldEnhanceSpeechEndingDetection: options.TranscriptionCallback != nil ||
			options.SpeechEndedCallback != nil,
		shouldRequestInterimResults: options.InterimTranscriptionCallback != nil ||
			options.PartialInterimTranscriptionCallback != nil,
	}

	return callbacks, wsConfig
}

// Transcribe opens a live transcription stream. Audio is pushed with
// SendAudio and results are reported through the callbacks in opts until
// ctx is done or StopStream is called.
func (s *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) error {
	options := speechtotext.NewTranscriptionOptions(opts...)

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return fmt.Errorf("invalid encoding: %w", err)
	}
	if s.apiKey == "" {
		return speechtotext.ErrMissingAPIKey
	}

	callbacks, wsConfig := newCallbackConfig(options)
	conn, err := s.connectWebsocket(ctx, connectionOptions{
		sampleRate: encoding.SampleRate,
		encoding:   encoding.Format.Name(),

		detectSpeechStart:            wsConfig.shouldDetectSpeechStart,
		enhanceSpeechEndingDetection: wsConfig.shouldEnhanceSpeechEndingDetection,
		interimResults:               wsConfig.shouldRequestInterimResults,
	})
	if err != nil {
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.markAudioSent()

	go s.readAndProcessMessages(ctx, conn, callbacks, options.EncodingInfo)

	return nil
}

func (s *TranscriptionClient) connectWebsocket(ctx context.Context, options connectionOptions) (*websocket.Conn, error) {
	listenUrl, err := s.listenURL(options)
	if err != nil {
		return nil, err
	}

	conn, _, err := s.dialer.DialContext(ctx, listenUrl, s.header())
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

type controlMessage struct {
	Type string `json:"type"`
}

func (s *TranscriptionClient) sendKeepAlive() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	if err := s.conn.WriteJSON(controlMessage{Type: "KeepAlive"}); err != nil {
		logger.Warn("Failed to write keep alive to deepgram", "error", err)
	}
}

func (s *TranscriptionClient) SendAudio(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return speechtotext.ErrStreamNotOpen
	}

	s.markAudioSent()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (s *TranscriptionClient) sendSilence(audio []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return speechtotext.ErrStreamNotOpen
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// StopStream asks deepgram to flush pending results and close the stream.
func (s *TranscriptionClient) StopStream() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		if err := s.conn.WriteJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)}); err != nil {
			return fmt.Errorf("failed to close deepgram stream: %w", err)
		}
	}
	return nil
}

func (s *TranscriptionClient) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, callbacks callbackConfig, encoding audio.EncodingInfo) {
	silenceCtx, silenceCancel := context.WithCancel(ctx)
	defer silenceCancel()

	go s.generateSilence(silenceCtx, encoding)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Error("Failed to read deepgram websocket message", "error", err)
			}

			s.connMu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.connMu.Unlock()
			conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			s.processMessage(msg, callbacks)
		}
	}
}

func (s *TranscriptionClient) processMessage(msg []byte, callbacks callbackConfig) {
	var parsedMsg controlMessage
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("Failed to unmarshal deepgram message", "error", err)
		return
	}

	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("Failed to unmarshal deepgram results", "error", err)
			return
		}

		transcript := firstTranscript(msgResp)
		if msgResp.IsFinal {
			if len(transcript) > 0 {
				if callbacks.accumulateSegments {
					s.accumulatedTranscript += " " + transcript
				}
				callbacks.partialTranscriptionCallback(transcript)
			}
			if msgResp.SpeechFinal {
				s.onSpeechEnded(callbacks)
			}
			return
		}

		if len(transcript) > 0 {
			if callbacks.hasPartialInterim {
				callbacks.partialInterimTranscriptionCallback(transcript)
			} else if callbacks.hasInterim {
				callbacks.interimTranscriptionCallback(strings.TrimSpace(s.accumulatedTranscript + " " + transcript))
			}
		}

	case api.TypeUtteranceEndResponse:
		if s.unendedSegment {
			s.onSpeechEnded(callbacks)
		}

	case api.TypeSpeechStartedResponse:
		s.unendedSegment = true
		callbacks.startSpeechCallback()
	}
}

func firstTranscript(msgResp api.MessageResponse) string {
	if len(msgResp.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
}

func (s *TranscriptionClient) onSpeechEnded(callbacks callbackConfig) {
	s.unendedSegment = false
	fullTranscript := strings.TrimSpace(s.accumulatedTranscript)
	s.accumulatedTranscript = ""
	if len(fullTranscript) > 0 {
		callbacks.transcriptionCallback(fullTranscript)
	}
	callbacks.endSpeechCallback()
}

// generateSilence keeps the stream alive while no audio is captured: it
// sends a second of silence so the last utterance is finalized, then
// periodic KeepAlive messages.
func (s *TranscriptionClient) generateSilence(ctx context.Context, encoding audio.EncodingInfo) {
	type silenceGeneratorState string
	const (
		silenceGeneratorStateWaiting   silenceGeneratorState = "waiting"
		silenceGeneratorStateSilence   silenceGeneratorState = "silence"
		silenceGeneratorStateKeepAlive silenceGeneratorState = "keepAlive"
	)

	const chunkDuration = 50 * time.Millisecond
	ticker := time.NewTicker(chunkDuration)
	defer ticker.Stop()

	chunk := make([]byte, encoding.BytesFor(chunkDuration))
	for i := range chunk {
		chunk[i] = encoding.SilenceValue()
	}

	var state = silenceGeneratorStateWaiting
	var firstSilenceTime *time.Time
	var lastKeepAliveTime *time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			switch state {
			case silenceGeneratorStateWaiting:
				if s.sinceLastAudio() > chunkDuration {
					state = silenceGeneratorStateSilence
					firstSilenceTime = utils.Ptr(time.Now())
					continue
				}

			case silenceGeneratorStateSilence:
				if s.sinceLastAudio() < chunkDuration {
					state = silenceGeneratorStateWaiting
					firstSilenceTime = nil
					continue
				}
				if time.Since(*firstSilenceTime) >= time.Second {
					state = silenceGeneratorStateKeepAlive
					lastKeepAliveTime = utils.Ptr(time.Now())
					firstSilenceTime = nil
					continue
				}

				if err := s.sendSilence(chunk); err != nil && !errors.Is(err, speechtotext.ErrStreamNotOpen) {
					logger.Warn("Failed to send silence to deepgram", "error", err)
				}

			case silenceGeneratorStateKeepAlive:
				if s.sinceLastAudio() < chunkDuration {
					state = silenceGeneratorStateWaiting
					continue
				}

				if time.Since(*lastKeepAliveTime) >= 5*time.Second {
					lastKeepAliveTime = utils.Ptr(time.Now())
					s.sendKeepAlive()
				}
			}
		}
	}
}
