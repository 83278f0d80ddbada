// Package deepgram synthesizes speech with Deepgram's speak websocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/phonio/core/audio"
	"github.com/koscakluka/phonio/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/speak"

	// mulaw at 8 kHz is the audio/basic media type.
	speechSampleRate  = 8000
	speechContentType = "audio/basic"
)

var (
	ErrMissingAPIKey = errors.New("deepgram api key not configured")
	ErrInvalidVoice  = errors.New("invalid voice")
)

type Voice string

const (
	VoiceThalia    Voice = "aura-2-thalia-en"
	VoiceAndromeda Voice = "aura-2-andromeda-en"
	VoiceHelena    Voice = "aura-2-helena-en"
	VoiceApollo    Voice = "aura-2-apollo-en"
	VoiceArcas     Voice = "aura-2-arcas-en"
	VoiceAries     Voice = "aura-2-aries-en"

	defaultVoice = VoiceThalia
)

func GetAvailableVoices() []Voice {
	return []Voice{VoiceThalia, VoiceAndromeda, VoiceHelena, VoiceApollo, VoiceArcas, VoiceAries}
}

type TextToSpeechClient struct {
	apiKey   string
	endpoint string
	voice    Voice
	dialer   *websocket.Dialer
}

type ClientOption func(*TextToSpeechClient)

// WithAPIKey sets the API key. Without it DEEPGRAM_API_KEY is used.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

func WithEndpoint(endpoint string) ClientOption {
	return func(c *TextToSpeechClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

func NewTextToSpeechClient(voice Voice, opts ...ClientOption) (*TextToSpeechClient, error) {
	if voice == "" {
		voice = defaultVoice
	}
	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVoice, voice)
	}

	client := &TextToSpeechClient{
		endpoint: defaultEndpoint,
		voice:    voice,
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.apiKey == "" {
		client.apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}

	return client, nil
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type serverMessage struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	ErrCode     string `json:"err_code,omitempty"`
	ErrMsg      string `json:"err_msg,omitempty"`
}

// Synthesize speaks text over a fresh websocket and returns the audio once
// deepgram confirms the text was flushed.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string) (_ texttospeech.Speech, err error) {
	ctx, span := tracer.Start(ctx, "synthesize speech", trace.WithAttributes(
		attribute.String("tts.voice", string(c.voice)),
		attribute.Int("tts.text_length", len(text)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := texttospeech.ValidateText(text); err != nil {
		return texttospeech.Speech{}, err
	}
	if c.apiKey == "" {
		return texttospeech.Speech{}, ErrMissingAPIKey
	}

	conn, err := c.connectWebsocket(ctx)
	if err != nil {
		return texttospeech.Speech{}, fmt.Errorf("failed to open websocket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, msg := range []speakMessage{{Type: "Speak", Text: text}, {Type: "Flush"}} {
		if err := conn.WriteJSON(msg); err != nil {
			return texttospeech.Speech{}, fmt.Errorf("failed to write to deepgram: %w", err)
		}
	}

	speech, err := readSpeech(conn)
	if err != nil {
		if ctx.Err() != nil {
			return texttospeech.Speech{}, ctx.Err()
		}
		return texttospeech.Speech{}, err
	}

	if err := conn.WriteJSON(speakMessage{Type: "Close"}); err != nil {
		logger.Warn("Failed to close deepgram speak stream", "error", err)
	}
	return texttospeech.Speech{Audio: speech, ContentType: speechContentType}, nil
}

func (c *TextToSpeechClient) connectWebsocket(ctx context.Context) (*websocket.Conn, error) {
	speakUrl, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid speak endpoint: %w", err)
	}
	urlValues := url.Values{}
	urlValues.Set("model", string(c.voice))
	urlValues.Set("encoding", audio.EncodingMulaw.Name())
	urlValues.Set("sample_rate", strconv.Itoa(speechSampleRate))
	speakUrl.RawQuery = urlValues.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+c.apiKey)

	conn, _, err := c.dialer.DialContext(ctx, speakUrl.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

func readSpeech(conn *websocket.Conn) ([]byte, error) {
	var speech []byte
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read deepgram speech: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			speech = append(speech, msg...)
			continue
		}

		var parsed serverMessage
		if err := json.Unmarshal(msg, &parsed); err != nil {
			logger.Warn("Failed to unmarshal deepgram message", "error", err)
			continue
		}
		switch parsed.Type {
		case "Flushed":
			return speech, nil
		case "Warning":
			logger.Warn("Deepgram speak warning", "description", parsed.Description)
		case "Error":
			return nil, fmt.Errorf("deepgram speak error %s: %s", parsed.ErrCode, parsed.ErrMsg)
		}
	}
}

var _ texttospeech.Synthesizer = (*TextToSpeechClient)(nil)
