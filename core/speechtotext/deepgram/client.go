// Package deepgram transcribes audio with Deepgram's listen websocket API,
// either live as audio is captured or for a complete recording.
package deepgram

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/phonio/core/speechtotext"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en-US"
)

type TranscriptionClient struct {
	apiKey   string
	endpoint string
	model    string
	language string
	dialer   *websocket.Dialer

	conn   *websocket.Conn
	connMu sync.Mutex

	// lastMsgTs holds the unix nanoseconds of the last audio frame sent.
	lastMsgTs atomic.Int64

	transcriptMu          sync.Mutex
	accumulatedTranscript string
	unendedSegment        bool
}

type ClientOption func(*TranscriptionClient)

// WithAPIKey sets the API key. Without it DEEPGRAM_API_KEY is used.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TranscriptionClient) {
		c.apiKey = apiKey
	}
}

// WithEndpoint replaces the listen endpoint, mostly useful for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *TranscriptionClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithLanguage(language string) ClientOption {
	return func(c *TranscriptionClient) {
		if language != "" {
			c.language = language
		}
	}
}

func NewTranscriptionClient(opts ...ClientOption) *TranscriptionClient {
	c := &TranscriptionClient{
		endpoint: defaultEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("DEEPGRAM_API_KEY")
	}
	return c
}

type connectionOptions struct {
	sampleRate int
	encoding   string

	detectSpeechStart            bool
	enhanceSpeechEndingDetection bool
	interimResults               bool
}

func (c *TranscriptionClient) listenURL(options connectionOptions) (string, error) {
	listenUrl, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram endpoint: %w", err)
	}

	queryParams := listenUrl.Query()
	queryParams.Set("encoding", options.encoding)
	queryParams.Set("sample_rate", strconv.Itoa(options.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("language", c.language)
	queryParams.Set("smart_format", "true")
	if options.enhanceSpeechEndingDetection {
		queryParams.Set("utterance_end_ms", "1000")
		queryParams.Set("interim_results", "true")
	} else if options.interimResults {
		queryParams.Set("interim_results", "true")
	}
	queryParams.Set("endpointing", "300")
	if options.detectSpeechStart || options.enhanceSpeechEndingDetection {
		queryParams.Set("vad_events", "true")
	}

	listenUrl.RawQuery = queryParams.Encode()
	return listenUrl.String(), nil
}

func (c *TranscriptionClient) header() http.Header {
	return http.Header{"Authorization": {"Token " + c.apiKey}}
}

func (c *TranscriptionClient) markAudioSent() {
	c.lastMsgTs.Store(time.Now().UnixNano())
}

func (c *TranscriptionClient) sinceLastAudio() time.Duration {
	return time.Since(time.Unix(0, c.lastMsgTs.Load()))
}

var (
	_ speechtotext.Transcriber          = (*TranscriptionClient)(nil)
	_ speechtotext.StreamingTranscriber = (*TranscriptionClient)(nil)
)
