package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/phonio/core/events"
	"github.com/koscakluka/phonio/core/llms"
	"github.com/koscakluka/phonio/core/session"
)

type clientMessage map[string]any

func (m clientMessage) eventType() string {
	eventType, _ := m["type"].(string)
	return eventType
}

// realtimeServer plays the realtime api: it accepts one connection, sends
// session.created and then relays whatever the test scripts.
type realtimeServer struct {
	*httptest.Server

	headers  chan http.Header
	received chan clientMessage
	send     chan any
	drop     chan struct{}
}

func newRealtimeServer(t *testing.T, handshake any) *realtimeServer {
	t.Helper()

	server := &realtimeServer{
		headers:  make(chan http.Header, 1),
		received: make(chan clientMessage, 64),
		send:     make(chan any, 64),
		drop:     make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.headers <- r.Header.Clone()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(handshake); err != nil {
			return
		}

		readerDone := make(chan struct{})
		go func() {
			defer close(readerDone)
			for {
				var msg clientMessage
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				server.received <- msg
			}
		}()

		for {
			select {
			case event := <-server.send:
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-server.drop:
				return
			case <-readerDone:
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func (s *realtimeServer) endpoint() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *realtimeServer) expect(t *testing.T, eventType string) clientMessage {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-s.received:
			if msg.eventType() == eventType {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for client event %s", eventType)
		}
	}
}

func sessionCreated(id string) map[string]any {
	return map[string]any{"type": "session.created", "session": map[string]any{"id": id}}
}

type eventRecorder chan events.Event

func (r eventRecorder) handle(event events.Event) {
	r <- event
}

func (r eventRecorder) next(t *testing.T, kind events.Kind) events.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-r:
			if event.Kind() == kind {
				return event
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event %s", kind)
		}
	}
}

func startSession(t *testing.T, server *realtimeServer) (*RealtimeSession, eventRecorder) {
	t.Helper()

	recorder := make(eventRecorder, 128)
	s := NewRealtimeSession(WithAPIKey("test-key"), WithEndpoint(server.endpoint()))
	if err := s.Start(context.Background(), recorder.handle); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	server.expect(t, eventSessionUpdate)
	return s, recorder
}

func TestRealtimeSessionStartConfiguresSession(t *testing.T) {
	server := newRealtimeServer(t, sessionCreated("sess_1"))

	recorder := make(eventRecorder, 16)
	s := NewRealtimeSession(WithAPIKey("test-key"), WithEndpoint(server.endpoint()), WithVoice("sage"))
	defer s.Close()

	if err := s.Start(context.Background(), recorder.handle); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	headers := <-server.headers
	if got := headers.Get("Authorization"); got != "Bearer test-key" {
		t.Fatalf("unexpected authorization header %q", got)
	}
	if got := headers.Get("OpenAI-Beta"); got != "realtime=v1" {
		t.Fatalf("unexpected beta header %q", got)
	}

	update := server.expect(t, eventSessionUpdate)
	config, _ := update["session"].(map[string]any)
	if config["voice"] != "sage" {
		t.Fatalf("expected voice to be configured, got %v", config["voice"])
	}
	turnDetection, _ := config["turn_detection"].(map[string]any)
	if turnDetection["create_response"] != false {
		t.Fatalf("expected replies not to be created automatically, got %v", turnDetection)
	}
	if turnDetection["interrupt_response"] != true || turnDetection["type"] != "semantic_vad" {
		t.Fatalf("unexpected turn detection %v", turnDetection)
	}

	started := recorder.next(t, events.KindSessionStarted).(events.SessionStarted)
	if started.SessionID != "sess_1" {
		t.Fatalf("expected session id sess_1, got %q", started.SessionID)
	}

	if err := s.Start(context.Background(), recorder.handle); !errors.Is(err, ErrSessionStarted) {
		t.Fatalf("expected ErrSessionStarted on second start, got %v", err)
	}
}

func TestRealtimeSessionStartFailures(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		s := NewRealtimeSession()
		if err := s.Start(context.Background(), nil); !errors.Is(err, ErrMissingAPIKey) {
			t.Fatalf("expected ErrMissingAPIKey, got %v", err)
		}
	})

	t.Run("rejected handshake", func(t *testing.T) {
		server := newRealtimeServer(t, map[string]any{
			"type":  "error",
			"error": map[string]any{"code": "invalid_api_key", "message": "Incorrect API key"},
		})
		s := NewRealtimeSession(WithAPIKey("bad"), WithEndpoint(server.endpoint()))
		err := s.Start(context.Background(), nil)
		if err == nil || !strings.Contains(err.Error(), "invalid_api_key") {
			t.Fatalf("expected handshake rejection, got %v", err)
		}
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		s := NewRealtimeSession(WithAPIKey("key"), WithEndpoint("ws://127.0.0.1:1"))
		if err := s.Start(context.Background(), nil); err == nil {
			t.Fatalf("expected dial failure")
		}
	})

	t.Run("use before start", func(t *testing.T) {
		s := NewRealtimeSession(WithAPIKey("key"))
		if err := s.SendAudio([]byte{1, 2}); !errors.Is(err, session.ErrNotStarted) {
			t.Fatalf("expected ErrNotStarted, got %v", err)
		}
		handle, err := s.GenerateReply(context.Background(), "hi")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := handle.Start(context.Background()); !errors.Is(err, session.ErrNotStarted) {
			t.Fatalf("expected ErrNotStarted, got %v", err)
		}
	})
}

func TestRealtimeSessionReportsUserTurns(t *testing.T) {
	server := newRealtimeServer(t, sessionCreated("sess_1"))
	_, recorder := startSession(t, server)

	server.send <- map[string]any{"type": eventSpeechStarted, "item_id": "item_u1"}
	server.send <- map[string]any{"type": eventInputTranscriptionDelta, "item_id": "item_u1", "delta": "hel"}
	server.send <- map[string]any{"type": eventInputTranscriptionDelta, "item_id": "item_u1", "delta": "lo"}
	server.send <- map[string]any{"type": eventSpeechStopped, "item_id": "item_u1"}
	server.send <- map[string]any{"type": eventInputTranscriptionDone, "item_id": "item_u1", "transcript": " hello "}

	recorder.next(t, events.KindUserSpeechStarted)
	first := recorder.next(t, events.KindTranscriptInterim).(events.TranscriptionUpdate)
	second := recorder.next(t, events.KindTranscriptInterim).(events.TranscriptionUpdate)
	if first.Text != "hel" || second.Text != "hello" {
		t.Fatalf("unexpected interim transcripts %q, %q", first.Text, second.Text)
	}
	recorder.next(t, events.KindUserSpeechEnded)

	final := recorder.next(t, events.KindTranscriptFinal).(events.TranscriptionUpdate)
	if !final.IsFinal || final.Text != "hello" {
		t.Fatalf("unexpected final transcript %+v", final)
	}
	turn := recorder.next(t, events.KindTurnCommitted).(events.ConversationTurn)
	if turn.Role != events.RoleUser || turn.Text != "hello" || turn.ID != "item_u1" {
		t.Fatalf("unexpected user turn %+v", turn)
	}
}

func TestRealtimeSessionSkipsEmptyUserTurns(t *testing.T) {
	server := newRealtimeServer(t, sessionCreated("sess_1"))
	_, recorder := startSession(t, server)

	server.send <- map[string]any{"type": eventInputTranscriptionDone, "item_id": "item_u1", "transcript": "  "}
	server.send <- map[string]any{"type": eventInputTranscriptionDone, "item_id": "item_u2", "transcript": "next"}

	turn := recorder.next(t, events.KindTurnCommitted).(events.ConversationTurn)
	if turn.ID != "item_u2" {
		t.Fatalf("expected whitespace transcript not to commit a turn, got %+v", turn)
	}
}

func respond(server *realtimeServer, responseID, itemID, transcript, status string, details map[string]any) {
	server.send <- map[string]any{"type": eventResponseCreated, "response": map[string]any{"id": responseID, "status": "in_progress"}}
	server.send <- map[string]any{
		"type":        eventResponseAudioDelta,
		"response_id": responseID,
		"item_id":     itemID,
		"delta":       base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}),
	}
	if transcript != "" {
		server.send <- map[string]any{
			"type":        eventResponseAudioTranscript,
			"response_id": responseID,
			"item_id":     itemID,
			"transcript":  transcript,
		}
	}
	response := map[string]any{"id": responseID, "status": status}
	if details != nil {
		response["status_details"] = details
	}
	server.send <- map[string]any{"type": eventResponseDone, "response": response}
}

func startReply(t *testing.T, s *RealtimeSession, instructions string) chan error {
	t.Helper()

	handle, err := s.GenerateReply(context.Background(), instructions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result := make(chan error, 1)
	go func() { result <- handle.Start(context.Background()) }()
	return result
}

func awaitReply(t *testing.T, result chan error) error {
	t.Helper()

	select {
	case err := <-result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reply")
		return nil
	}
}

func TestRealtimeReplyWaitsForResponse(t *testing.T) {
	server := newRealtimeServer(t, sessionCreated("sess_1"))
	s, recorder := startSession(t, server)

	result := startReply(t, s, "Greet the user in one short sentence.")

	create := server.expect(t, eventResponseCreate)
	response, _ := create["response"].(map[string]any)
	if response["instructions"] != "Greet the user in one short sentence." {
		t.Fatalf("unexpected response.create %v", create)
	}

	select {
	case err := <-result:
		t.Fatalf("expected reply to wait for response.done, returned %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	respond(server, "resp_1", "item_a1", "Hi there!", responseStatusCompleted, nil)
	if err := awaitReply(t, result); err != nil {
		t.Fatalf("expected reply to succeed, got %v", err)
	}

	frame := recorder.next(t, events.KindAssistantAudioFrame).(events.AssistantAudioFrame)
	if len(frame.Audio) != 4 {
		t.Fatalf("expected decoded audio, got %v", frame.Audio)
	}
	turn := recorder.next(t, events.KindTurnCommitted).(events.ConversationTurn)
	if turn.Role != events.RoleAssistant || turn.Text != "Hi there!" || turn.Interrupted {
		t.Fatalf("unexpected assistant turn %+v", turn)
	}
}

func TestRealtimeReplyOutcomes(t *testing.T) {
	testCases := []struct {
		name        string
		status      string
		details     map[string]any
		expectedErr error
	}{
		{name: "completed", status: responseStatusCompleted},
		{name: "token limit", status: responseStatusIncomplete, details: map[string]any{"reason": "max_output_tokens"}},
		{name: "interrupted by user", status: responseStatusCancelled, details: map[string]any{"reason": "turn_detected"}},
		{name: "cancelled by client", status: responseStatusCancelled, details: map[string]any{"reason": "client_cancelled"}, expectedErr: llms.ErrModelUnavailable},
		{
			name:        "failed",
			status:      responseStatusFailed,
			details:     map[string]any{"error": map[string]any{"code": "server_error", "message": "boom"}},
			expectedErr: llms.ErrModelUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := newRealtimeServer(t, sessionCreated("sess_1"))
			s, _ := startSession(t, server)

			result := startReply(t, s, "reply")
			server.expect(t, eventResponseCreate)
			respond(server, "resp_1", "item_a1", "", tc.status, tc.details)

			err := awaitReply(t, result)
			if tc.expectedErr == nil && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if tc.expectedErr != nil && !errors.Is(err, tc.expectedErr) {
				t.Fatalf("expected %v, got %v", tc.expectedErr, err)
			}
		})
	}
}

func TestRealtimeReplyFailsOnRejectedRequest(t *testing.T) {
	server := newRealtimeServer(t, sessionCreated("sess_1"))
	s, _ := startSession(t, server)

	result := startReply(t, s, "reply")
	server.expect(t, eventResponseCreate)
	server.send <- map[string]any{
		"type":  eventError,
		"error": map[string]any{"code": "rate_limit_exceeded", "message": "slow down"},
	}

	if err := awaitReply(t, result); !errors.Is(err, llms.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}

	result = startReply(t, s, "again")
	server.expect(t, eventResponseCreate)
	respond(server, "resp_2", "item_a2", "Back again.", responseStatusCompleted, nil)
	if err := awaitReply(t, result); err != nil {
		t.Fatalf("expected session to stay usable, got %v", err)
	}
}

func TestRealtimeSessionMarksInterruptedAssistantTurn(t *testing.T) {
	server := newRealtimeServer(t, sessionCreated("sess_1"))
	s, recorder := startSession(t, server)

	result := startReply(t, s, "reply")
	server.expect(t, eventResponseCreate)
	server.send <- map[string]any{"type": eventResponseCreated, "response": map[string]any{"id": "resp_1"}}
	server.send <- map[string]any{
		"type":        eventResponseAudioTranscript,
		"response_id": "resp_1",
		"item_id":     "item_a1",
		"transcript":  "Let me tell you a long story",
	}
	server.send <- map[string]any{"type": eventSpeechStarted, "item_id": "item_u2"}
	server.send <- map[string]any{
		"type":     eventResponseDone,
		"response": map[string]any{"id": "resp_1", "status": "cancelled", "status_details": map[string]any{"reason": "turn_detected"}},
	}

	first := recorder.next(t, events.KindTurnCommitted).(events.ConversationTurn)
	if first.Interrupted {
		t.Fatalf("expected the turn to be reported uninterrupted first")
	}
	second := recorder.next(t, events.KindTurnCommitted).(events.ConversationTurn)
	if second.ID != first.ID || !second.Interrupted || second.Text != first.Text {
		t.Fatalf("expected the same turn to be reported interrupted, got %+v", second)
	}

	if err := awaitReply(t, result); err != nil {
		t.Fatalf("expected interrupted reply to count as delivered, got %v", err)
	}
}

func TestRealtimeSessionSendsAudio(t *testing.T) {
	server := newRealtimeServer(t, sessionCreated("sess_1"))
	s, _ := startSession(t, server)

	if err := s.SendAudio([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := server.expect(t, eventInputAudioAppend)
	audio, err := base64.StdEncoding.DecodeString(msg["audio"].(string))
	if err != nil || len(audio) != 2 || audio[0] != 0x01 {
		t.Fatalf("unexpected audio payload %v (%v)", msg["audio"], err)
	}
}

func TestRealtimeSessionConnectionLoss(t *testing.T) {
	server := newRealtimeServer(t, sessionCreated("sess_1"))
	s, recorder := startSession(t, server)

	result := startReply(t, s, "reply")
	server.expect(t, eventResponseCreate)
	close(server.drop)

	failed := recorder.next(t, events.KindSessionFailed).(events.SessionFailed)
	if !errors.Is(failed.Err, llms.ErrModelUnavailable) {
		t.Fatalf("expected connection loss to be reported as model unavailable, got %v", failed.Err)
	}
	recorder.next(t, events.KindSessionClosed)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected session to be done")
	}
	if err := awaitReply(t, result); err == nil {
		t.Fatalf("expected in-flight reply to fail")
	}
	if _, err := s.GenerateReply(context.Background(), "late"); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	s.startMu.Lock()
	conn := s.conn
	s.startMu.Unlock()
	if err := conn.UnderlyingConn().SetReadDeadline(time.Now()); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected dropped connection to be closed, got %v", err)
	}
	if err := s.Close(); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("expected ErrClosed after connection loss, got %v", err)
	}
}

func TestRealtimeSessionClose(t *testing.T) {
	server := newRealtimeServer(t, sessionCreated("sess_1"))
	s, recorder := startSession(t, server)

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected session to be done after close")
	}
	recorder.next(t, events.KindSessionClosed)

	if err := s.Close(); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("expected ErrClosed on second close, got %v", err)
	}
	if err := s.SendAudio([]byte{1}); !errors.Is(err, session.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestResponseErrorMessage(t *testing.T) {
	err := responseError(&responseInfo{
		Status:        responseStatusFailed,
		StatusDetails: &responseStatusDetails{Error: &realtimeError{Code: "server_error", Message: "boom"}},
	})
	if err == nil || !strings.Contains(err.Error(), "server_error: boom") {
		t.Fatalf("expected error detail in message, got %v", err)
	}

	raw, _ := json.Marshal(sessionUpdateEvent{Type: eventSessionUpdate, Session: NewRealtimeSession().sessionConfig()})
	if !strings.Contains(string(raw), `"create_response":false`) {
		t.Fatalf("expected create_response to be serialized, got %s", raw)
	}
}
