package openai

// Server event types handled by the realtime session.
const (
	eventSessionCreated           = "session.created"
	eventSessionUpdated           = "session.updated"
	eventError                    = "error"
	eventSpeechStarted            = "input_audio_buffer.speech_started"
	eventSpeechStopped            = "input_audio_buffer.speech_stopped"
	eventInputTranscriptionDelta  = "conversation.item.input_audio_transcription.delta"
	eventInputTranscriptionDone   = "conversation.item.input_audio_transcription.completed"
	eventInputTranscriptionFailed = "conversation.item.input_audio_transcription.failed"
	eventResponseCreated          = "response.created"
	eventResponseDone             = "response.done"
	eventResponseAudioDelta       = "response.audio.delta"
	eventResponseAudioTranscript  = "response.audio_transcript.done"
	eventResponseOutputAudioDelta = "response.output_audio.delta"
	eventResponseOutputTranscript = "response.output_audio_transcript.done"
)

// Client event types sent by the realtime session.
const (
	eventSessionUpdate    = "session.update"
	eventResponseCreate   = "response.create"
	eventResponseCancel   = "response.cancel"
	eventInputAudioAppend = "input_audio_buffer.append"
)

const (
	responseStatusCompleted  = "completed"
	responseStatusCancelled  = "cancelled"
	responseStatusFailed     = "failed"
	responseStatusIncomplete = "incomplete"

	cancelReasonTurnDetected = "turn_detected"
)

type serverEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	Session  *sessionInfo   `json:"session,omitempty"`
	Response *responseInfo  `json:"response,omitempty"`
	Error    *realtimeError `json:"error,omitempty"`

	ItemID     string `json:"item_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type sessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model,omitempty"`
}

type responseInfo struct {
	ID            string                 `json:"id"`
	Status        string                 `json:"status"`
	StatusDetails *responseStatusDetails `json:"status_details,omitempty"`
}

type responseStatusDetails struct {
	Type   string         `json:"type,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Error  *realtimeError `json:"error,omitempty"`
}

type realtimeError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	EventID string `json:"event_id,omitempty"`
}

func (e *realtimeError) String() string {
	if e == nil {
		return "unknown error"
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *inputTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection      `json:"turn_detection,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	MaxResponseOutputTokens int                 `json:"max_response_output_tokens,omitempty"`
}

type inputTranscription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string `json:"type"`
	Eagerness         string `json:"eagerness,omitempty"`
	CreateResponse    bool   `json:"create_response"`
	InterruptResponse bool   `json:"interrupt_response"`
}

type responseCreateEvent struct {
	Type     string         `json:"type"`
	Response responseConfig `json:"response"`
}

type responseConfig struct {
	Instructions string `json:"instructions,omitempty"`
}

type inputAudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}
