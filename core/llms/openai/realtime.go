package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/phonio/core/events"
	"github.com/koscakluka/phonio/core/llms"
	"github.com/koscakluka/phonio/core/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRealtimeEndpoint = "wss://api.openai.com/v1/realtime"
	defaultRealtimeModel    = "gpt-4o-mini-realtime-preview"
	defaultVoice            = "coral"
	defaultInstructions     = "You are Phonio, a concise voice AI assistant. " +
		"Keep every reply to one or two short sentences."
	defaultTranscriptionModel = "whisper-1"
	defaultMaxOutputTokens    = 40
	defaultTemperature        = 0.8
	defaultHandshakeTimeout   = 10 * time.Second
)

var (
	ErrMissingAPIKey       = errors.New("openai api key not configured")
	ErrSessionStarted      = errors.New("realtime session already started")
	ErrReplyInProgress     = errors.New("a reply is already in progress")
	ErrUnexpectedHandshake = errors.New("unexpected realtime handshake")
)

type realtimeConfig struct {
	apiKey             string
	endpoint           string
	model              string
	voice              string
	instructions       string
	transcriptionModel string
	eagerness          string
	temperature        float64
	maxOutputTokens    int
	handshakeTimeout   time.Duration
}

type RealtimeOption func(*realtimeConfig)

// WithAPIKey sets the API key. Without it OPENAI_API_KEY is used.
func WithAPIKey(apiKey string) RealtimeOption {
	return func(c *realtimeConfig) { c.apiKey = apiKey }
}

// WithEndpoint replaces the realtime websocket endpoint.
func WithEndpoint(endpoint string) RealtimeOption {
	return func(c *realtimeConfig) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

func WithModel(model string) RealtimeOption {
	return func(c *realtimeConfig) {
		if model != "" {
			c.model = model
		}
	}
}

func WithVoice(voice string) RealtimeOption {
	return func(c *realtimeConfig) {
		if voice != "" {
			c.voice = voice
		}
	}
}

// WithInstructions sets the assistant persona used for every reply.
func WithInstructions(instructions string) RealtimeOption {
	return func(c *realtimeConfig) {
		if instructions != "" {
			c.instructions = instructions
		}
	}
}

func WithTranscriptionModel(model string) RealtimeOption {
	return func(c *realtimeConfig) {
		if model != "" {
			c.transcriptionModel = model
		}
	}
}

// WithTurnEagerness tunes how quickly semantic turn detection commits a
// user turn: low, medium, high or auto.
func WithTurnEagerness(eagerness string) RealtimeOption {
	return func(c *realtimeConfig) {
		if eagerness != "" {
			c.eagerness = eagerness
		}
	}
}

func WithTemperature(temperature float64) RealtimeOption {
	return func(c *realtimeConfig) {
		if temperature > 0 {
			c.temperature = temperature
		}
	}
}

func WithMaxOutputTokens(tokens int) RealtimeOption {
	return func(c *realtimeConfig) {
		if tokens > 0 {
			c.maxOutputTokens = tokens
		}
	}
}

// RealtimeSession is a voice session backed by the OpenAI Realtime API.
//
// The API detects user turns and transcribes them, but it never answers on
// its own: replies are only produced through GenerateReply, so whoever
// drives the session decides when and how often the assistant speaks.
type RealtimeSession struct {
	config realtimeConfig
	dialer *websocket.Dialer

	conn      *websocket.Conn
	writeMu   sync.Mutex
	handler   session.EventHandler
	sessionID string

	startMu   sync.Mutex
	started   bool
	closing   bool
	done      chan struct{}
	closeOnce sync.Once

	mu              sync.Mutex
	pending         *pendingReply
	activeResponse  string
	interrupted     map[string]bool
	assistantTurns  map[string]events.ConversationTurn
	userTranscripts map[string]string
}

func NewRealtimeSession(opts ...RealtimeOption) *RealtimeSession {
	config := realtimeConfig{
		endpoint:           defaultRealtimeEndpoint,
		model:              defaultRealtimeModel,
		voice:              defaultVoice,
		instructions:       defaultInstructions,
		transcriptionModel: defaultTranscriptionModel,
		eagerness:          "auto",
		temperature:        defaultTemperature,
		maxOutputTokens:    defaultMaxOutputTokens,
		handshakeTimeout:   defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.apiKey == "" {
		config.apiKey = os.Getenv("OPENAI_API_KEY")
	}

	return &RealtimeSession{
		config:          config,
		dialer:          &websocket.Dialer{HandshakeTimeout: config.handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		done:            make(chan struct{}),
		interrupted:     map[string]bool{},
		assistantTurns:  map[string]events.ConversationTurn{},
		userTranscripts: map[string]string{},
	}
}

// Start connects to the realtime API, configures the session and begins
// delivering events to handler.
func (s *RealtimeSession) Start(ctx context.Context, handler session.EventHandler) (err error) {
	ctx, span := tracer.Start(ctx, "start realtime session", trace.WithAttributes(
		attribute.String("llm.model", s.config.model),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return ErrSessionStarted
	}
	if s.closing {
		return session.ErrClosed
	}
	if s.config.apiKey == "" {
		return ErrMissingAPIKey
	}
	if handler == nil {
		handler = func(events.Event) {}
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	sessionID, err := s.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	s.conn = conn
	s.handler = handler
	s.sessionID = sessionID
	s.started = true
	span.SetAttributes(attribute.String("realtime.session_id", sessionID))

	logger.InfoContext(ctx, "Realtime session started", "session_id", sessionID, "model", s.config.model)
	s.emit(events.NewSessionStarted(sessionID))

	go s.readLoop(conn)
	return nil
}

func (s *RealtimeSession) dial(ctx context.Context) (*websocket.Conn, error) {
	realtimeUrl, err := url.Parse(s.config.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime endpoint: %w", err)
	}
	query := realtimeUrl.Query()
	query.Set("model", s.config.model)
	realtimeUrl.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.config.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := s.dialer.DialContext(ctx, realtimeUrl.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime api (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime api: %w", err)
	}
	return conn, nil
}

// handshake waits for session.created and sends the session configuration.
func (s *RealtimeSession) handshake(ctx context.Context, conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(s.config.handshakeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("failed to set handshake deadline: %w", err)
	}

	var created serverEvent
	if err := conn.ReadJSON(&created); err != nil {
		return "", fmt.Errorf("failed to read realtime handshake: %w", err)
	}
	switch {
	case created.Type == eventError:
		return "", fmt.Errorf("realtime api rejected session: %s", created.Error.String())
	case created.Type != eventSessionCreated:
		return "", fmt.Errorf("%w: got %q", ErrUnexpectedHandshake, created.Type)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("failed to clear handshake deadline: %w", err)
	}

	update := sessionUpdateEvent{Type: eventSessionUpdate, Session: s.sessionConfig()}
	if err := conn.WriteJSON(update); err != nil {
		return "", fmt.Errorf("failed to configure realtime session: %w", err)
	}

	sessionID := ""
	if created.Session != nil {
		sessionID = created.Session.ID
	}
	return sessionID, nil
}

func (s *RealtimeSession) sessionConfig() sessionConfig {
	return sessionConfig{
		Modalities:              []string{"audio", "text"},
		Instructions:            s.config.instructions,
		Voice:                   s.config.voice,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &inputTranscription{Model: s.config.transcriptionModel},
		TurnDetection: &turnDetection{
			Type:              "semantic_vad",
			Eagerness:         s.config.eagerness,
			CreateResponse:    false,
			InterruptResponse: true,
		},
		Temperature:             s.config.temperature,
		MaxResponseOutputTokens: s.config.maxOutputTokens,
	}
}

func (s *RealtimeSession) Done() <-chan struct{} {
	return s.done
}

// Close disconnects the session. Only the first call has an effect, later
// calls return session.ErrClosed.
func (s *RealtimeSession) Close() error {
	alreadyClosed := true
	s.closeOnce.Do(func() {
		alreadyClosed = false

		s.startMu.Lock()
		s.closing = true
		conn := s.conn
		started := s.started
		s.startMu.Unlock()

		if !started || conn == nil {
			close(s.done)
			return
		}

		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		conn.Close()
	})
	if alreadyClosed {
		return session.ErrClosed
	}
	return nil
}

// SendAudio appends 24 kHz PCM16 microphone audio to the input buffer.
func (s *RealtimeSession) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return s.send(inputAudioAppendEvent{
		Type:  eventInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

func (s *RealtimeSession) send(event any) error {
	s.startMu.Lock()
	conn := s.conn
	started := s.started
	closing := s.closing
	s.startMu.Unlock()

	switch {
	case closing:
		return session.ErrClosed
	case !started || conn == nil:
		return session.ErrNotStarted
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to write to realtime api: %w", err)
	}
	return nil
}

func (s *RealtimeSession) emit(event events.Event) {
	if s.handler != nil {
		s.handler(event)
	}
}

func (s *RealtimeSession) readLoop(conn *websocket.Conn) {
	var readErr error
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		var event serverEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			logger.Warn("Failed to unmarshal realtime event", "error", err)
			continue
		}
		s.handleServerEvent(event)
	}

	s.startMu.Lock()
	closing := s.closing
	s.closing = true
	s.startMu.Unlock()

	if !closing && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		logger.Error("Realtime connection lost", "error", readErr)
		s.emit(events.NewSessionFailed(fmt.Errorf("%w: %v", llms.ErrModelUnavailable, readErr)))
	}
	s.failPending(session.ErrClosed)
	s.emit(events.NewSessionClosed())

	// The peer went away first, Close would otherwise find the once spent.
	s.closeOnce.Do(func() {})
	conn.Close()
	close(s.done)
}

func (s *RealtimeSession) handleServerEvent(event serverEvent) {
	switch event.Type {
	case eventSessionUpdated:
		logger.Debug("Realtime session configured")

	case eventError:
		logger.Error("Realtime api reported an error", "error", event.Error.String())
		s.failUnacknowledged(fmt.Errorf("%w: %s", llms.ErrModelUnavailable, event.Error.String()))

	case eventSpeechStarted:
		s.onSpeechStarted()
		s.emit(events.NewUserSpeechStarted())

	case eventSpeechStopped:
		s.emit(events.NewUserSpeechEnded())

	case eventInputTranscriptionDelta:
		s.mu.Lock()
		s.userTranscripts[event.ItemID] += event.Delta
		transcript := s.userTranscripts[event.ItemID]
		s.mu.Unlock()
		if !events.IsNoise(transcript) {
			s.emit(events.NewInterimTranscription(strings.TrimSpace(transcript)))
		}

	case eventInputTranscriptionDone:
		s.mu.Lock()
		delete(s.userTranscripts, event.ItemID)
		s.mu.Unlock()

		transcript := strings.TrimSpace(event.Transcript)
		s.emit(events.NewFinalTranscription(transcript))
		if !events.IsNoise(transcript) {
			s.emit(events.NewConversationTurn(events.RoleUser, transcript, false).WithID(event.ItemID))
		}

	case eventInputTranscriptionFailed:
		s.mu.Lock()
		delete(s.userTranscripts, event.ItemID)
		s.mu.Unlock()
		logger.Warn("Realtime transcription failed", "item_id", event.ItemID, "error", event.Error.String())

	case eventResponseCreated:
		if event.Response == nil {
			return
		}
		s.mu.Lock()
		s.activeResponse = event.Response.ID
		if s.pending != nil && s.pending.responseID == "" {
			s.pending.responseID = event.Response.ID
		}
		s.mu.Unlock()

	case eventResponseAudioDelta, eventResponseOutputAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(event.Delta)
		if err != nil {
			logger.Warn("Failed to decode realtime audio", "error", err)
			return
		}
		s.emit(events.NewAssistantAudioFrame(audio))

	case eventResponseAudioTranscript, eventResponseOutputTranscript:
		s.onAssistantTranscript(event)

	case eventResponseDone:
		s.onResponseDone(event.Response)
	}
}

func (s *RealtimeSession) onSpeechStarted() {
	s.mu.Lock()
	responseID := s.activeResponse
	if responseID == "" {
		s.mu.Unlock()
		return
	}
	s.interrupted[responseID] = true
	turn, reported := s.assistantTurns[responseID]
	s.mu.Unlock()

	if reported && !turn.Interrupted {
		turn.Interrupted = true
		s.mu.Lock()
		s.assistantTurns[responseID] = turn
		s.mu.Unlock()
		s.emit(turn)
	}
}

func (s *RealtimeSession) onAssistantTranscript(event serverEvent) {
	transcript := strings.TrimSpace(event.Transcript)
	if transcript == "" {
		return
	}

	s.mu.Lock()
	turn := events.NewConversationTurn(events.RoleAssistant, transcript, s.interrupted[event.ResponseID]).WithID(event.ItemID)
	if event.ResponseID == s.activeResponse {
		s.assistantTurns[event.ResponseID] = turn
	}
	s.mu.Unlock()

	s.emit(turn)
}

func (s *RealtimeSession) onResponseDone(response *responseInfo) {
	if response == nil {
		return
	}

	s.mu.Lock()
	if s.activeResponse == response.ID {
		s.activeResponse = ""
	}
	delete(s.interrupted, response.ID)
	delete(s.assistantTurns, response.ID)
	pending := s.pending
	if pending != nil && pending.responseID != response.ID {
		pending = nil
	}
	if pending != nil {
		s.pending = nil
	}
	s.mu.Unlock()

	if pending != nil {
		pending.finish(responseError(response))
	}
}

// responseError maps the final status of a response to the outcome of the
// reply. Responses cut off by the user or by the token limit still count as
// delivered.
func responseError(response *responseInfo) error {
	switch response.Status {
	case responseStatusCompleted, responseStatusIncomplete:
		return nil
	case responseStatusCancelled:
		if response.StatusDetails != nil && response.StatusDetails.Reason == cancelReasonTurnDetected {
			return nil
		}
		return fmt.Errorf("%w: response cancelled", llms.ErrModelUnavailable)
	default:
		detail := response.Status
		if response.StatusDetails != nil && response.StatusDetails.Error != nil {
			detail = response.StatusDetails.Error.String()
		}
		return fmt.Errorf("%w: response %s", llms.ErrModelUnavailable, detail)
	}
}

func (s *RealtimeSession) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending != nil {
		pending.finish(err)
	}
}

// failUnacknowledged fails a reply the api has not created a response for,
// errors reported after that belong to other requests.
func (s *RealtimeSession) failUnacknowledged(err error) {
	s.mu.Lock()
	pending := s.pending
	if pending == nil || pending.responseID != "" {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.mu.Unlock()

	pending.finish(err)
}
