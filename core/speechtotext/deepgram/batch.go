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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const batchChunkDuration = 100 * time.Millisecond

// TranscribeAll streams a complete PCM recording over its own connection
// and returns the final segments joined by spaces. A recording without
// speech yields an empty string.
func (s *TranscriptionClient) TranscribeAll(ctx context.Context, pcm []byte, encoding audio.EncodingInfo) (transcript string, err error) {
	ctx, span := tracer.Start(ctx, "transcribe recording", trace.WithAttributes(
		attribute.Int("audio.bytes", len(pcm)),
		attribute.Int("audio.sample_rate", encoding.SampleRate),
		attribute.String("stt.model", s.model),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(pcm) == 0 {
		return "", speechtotext.ErrEmptyAudio
	}
	if s.apiKey == "" {
		return "", speechtotext.ErrMissingAPIKey
	}

	deepgramEncoding, err := convertEncoding(encoding)
	if err != nil {
		return "", fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := s.connectWebsocket(ctx, connectionOptions{
		sampleRate: deepgramEncoding.SampleRate,
		encoding:   deepgramEncoding.Format.Name(),
	})
	if err != nil {
		return "", err
	}
	defer conn.Close()

	group, groupCtx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(groupCtx, func() { conn.Close() })
	defer stop()

	group.Go(func() error {
		return writeRecording(conn, pcm, encoding.BytesFor(batchChunkDuration))
	})

	segments := []string{}
	group.Go(func() error {
		var readErr error
		segments, readErr = readFinalSegments(conn)
		return readErr
	})

	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("transcription cancelled: %w", ctx.Err())
		}
		return "", err
	}

	transcript = strings.Join(segments, " ")
	span.SetAttributes(attribute.Int("stt.segments", len(segments)))
	return transcript, nil
}

func writeRecording(conn *websocket.Conn, pcm []byte, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = len(pcm)
	}

	for start := 0; start < len(pcm); start += chunkSize {
		end := min(start+chunkSize, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[start:end]); err != nil {
			return fmt.Errorf("failed to write audio to deepgram: %w", err)
		}
	}

	if err := conn.WriteJSON(controlMessage{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	return nil
}

// readFinalSegments collects final results until deepgram closes the
// stream.
func readFinalSegments(conn *websocket.Conn) ([]string, error) {
	segments := []string{}
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return segments, nil
			}
			return nil, fmt.Errorf("failed to read deepgram results: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			continue
		}

		var parsedMsg controlMessage
		if err := json.Unmarshal(msg, &parsedMsg); err != nil {
			logger.Warn("Failed to unmarshal deepgram message", "error", err)
			continue
		}
		if api.TypeResponse(parsedMsg.Type) != api.TypeMessageResponse {
			continue
		}

		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("Failed to unmarshal deepgram results", "error", err)
			continue
		}
		if transcript := firstTranscript(msgResp); msgResp.IsFinal && transcript != "" {
			segments = append(segments, transcript)
		}
	}
}
