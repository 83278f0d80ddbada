package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Groq      GroqConfig      `yaml:"groq"`
	Deepgram  DeepgramConfig  `yaml:"deepgram"`
	TTS       TTSConfig       `yaml:"tts"`
	Server    ServerConfig    `yaml:"server"`
	LiveKit   LiveKitConfig   `yaml:"livekit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AgentConfig configures the voice agent binary.
type AgentConfig struct {
	Audio              string `yaml:"audio" jsonschema:"enum=miniaudio,enum=portaudio,enum=none"`
	PlaybackBufferSize int    `yaml:"playback_buffer_size"`
	// LocalTranscription additionally transcribes the microphone with
	// deepgram to show captions before the session commits a turn.
	LocalTranscription bool   `yaml:"local_transcription"`
	Identity           string `yaml:"identity"`
}

type OpenAIConfig struct {
	APIKey             string  `yaml:"api_key"`
	RealtimeEndpoint   string  `yaml:"realtime_endpoint"`
	RealtimeModel      string  `yaml:"realtime_model"`
	Voice              string  `yaml:"voice"`
	Instructions       string  `yaml:"instructions"`
	TranscriptionModel string  `yaml:"transcription_model"`
	TurnEagerness      string  `yaml:"turn_eagerness" jsonschema:"enum=low,enum=medium,enum=high,enum=auto"`
	Temperature        float64 `yaml:"temperature"`
	MaxOutputTokens    int     `yaml:"max_output_tokens"`
	PromptModel        string  `yaml:"prompt_model"`
}

type GeminiConfig struct {
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

type GroqConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type DeepgramConfig struct {
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	Voice    string `yaml:"voice"`
}

type TTSConfig struct {
	Provider        string  `yaml:"provider" jsonschema:"enum=google,enum=deepgram"`
	CredentialsFile string  `yaml:"credentials_file"`
	LanguageCode    string  `yaml:"language_code"`
	Voice           string  `yaml:"voice"`
	SpeakingRate    float64 `yaml:"speaking_rate"`
	Pitch           float64 `yaml:"pitch"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	// TranscribeSampleRate is the rate uploads are normalized to before
	// transcription.
	TranscribeSampleRate int           `yaml:"transcribe_sample_rate"`
	MaxUploadBytes       int64         `yaml:"max_upload_bytes"`
	AskProvider          string        `yaml:"ask_provider" jsonschema:"enum=gemini,enum=openai,enum=groq"`
	AskRateLimit         float64       `yaml:"ask_rate_limit"`
	AskBurst             int           `yaml:"ask_burst"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
}

type LiveKitConfig struct {
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	Room      string        `yaml:"room"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	// StdoutLogs prints structured logs to stdout.
	StdoutLogs bool `yaml:"stdout_logs"`
}

func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Audio:              "miniaudio",
			PlaybackBufferSize: 2048,
		},
		OpenAI: OpenAIConfig{
			RealtimeModel:      "gpt-4o-mini-realtime-preview",
			Voice:              "coral",
			TranscriptionModel: "whisper-1",
			TurnEagerness:      "auto",
			Temperature:        0.8,
			MaxOutputTokens:    40,
			PromptModel:        "gpt-4o-mini",
		},
		Gemini: GeminiConfig{
			Model:           "gemini-2.0-flash",
			MaxOutputTokens: 10,
		},
		Groq: GroqConfig{
			Model:     "llama-3.1-8b-instant",
			MaxTokens: 60,
		},
		Deepgram: DeepgramConfig{
			Model:    "nova-3",
			Language: "en-US",
			Voice:    "aura-2-thalia-en",
		},
		TTS: TTSConfig{
			Provider:     "google",
			LanguageCode: "en-US",
			Voice:        "en-US-Wavenet-F",
			SpeakingRate: 1.1,
			Pitch:        2.0,
		},
		Server: ServerConfig{
			Port:                 8000,
			FFmpegPath:           "ffmpeg",
			TranscribeSampleRate: 16000,
			MaxUploadBytes:       25 << 20,
			AskProvider:          "gemini",
			AskRateLimit:         2,
			AskBurst:             5,
			ShutdownTimeout:      5 * time.Second,
		},
		LiveKit: LiveKitConfig{
			Room:     "Duply-Talk-rdx",
			TokenTTL: 6 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "phonio",
			StdoutLogs:  true,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty), the given .env files and the environment.
func Load(path string, envFiles ...string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// loadEnvFiles loads .env files without overriding variables that are
// already set. Missing files are skipped.
func loadEnvFiles(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	stringVars := map[string]*string{
		"OPENAI_API_KEY":                 &c.OpenAI.APIKey,
		"GEMINI_API_KEY":                 &c.Gemini.APIKey,
		"GROQ_API_KEY":                   &c.Groq.APIKey,
		"DEEPGRAM_API_KEY":               &c.Deepgram.APIKey,
		"LIVEKIT_API_KEY":                &c.LiveKit.APIKey,
		"LIVEKIT_API_SECRET":             &c.LiveKit.APISecret,
		"ROOM_NAME":                      &c.LiveKit.Room,
		"IDENTITY":                       &c.Agent.Identity,
		"GOOGLE_APPLICATION_CREDENTIALS": &c.TTS.CredentialsFile,
		"OTEL_EXPORTER_OTLP_ENDPOINT":    &c.Telemetry.OTLPEndpoint,
		"OTEL_SERVICE_NAME":              &c.Telemetry.ServiceName,
		"PHONIO_AUDIO":                   &c.Agent.Audio,
	}
	for key, target := range stringVars {
		if value, ok := lookup(key); ok && value != "" {
			*target = value
		}
	}

	if value, ok := lookup("PORT"); ok && value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", value, err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent config: %w", err)
	}
	if err := c.OpenAI.Validate(); err != nil {
		return fmt.Errorf("openai config: %w", err)
	}
	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if c.LiveKit.TokenTTL <= 0 {
		return fmt.Errorf("livekit config: token_ttl must be positive, got %s", c.LiveKit.TokenTTL)
	}
	return nil
}

func (a *AgentConfig) Validate() error {
	switch a.Audio {
	case "miniaudio", "portaudio", "none":
	default:
		return fmt.Errorf("audio must be one of [miniaudio, portaudio, none], got '%s'", a.Audio)
	}
	if a.PlaybackBufferSize < 256 {
		return fmt.Errorf("playback_buffer_size must be at least 256 frames, got %d", a.PlaybackBufferSize)
	}
	return nil
}

func (o *OpenAIConfig) Validate() error {
	switch o.TurnEagerness {
	case "low", "medium", "high", "auto":
	default:
		return fmt.Errorf("turn_eagerness must be one of [low, medium, high, auto], got '%s'", o.TurnEagerness)
	}
	// The realtime api only accepts temperatures in this range.
	if o.Temperature < 0.6 || o.Temperature > 1.2 {
		return fmt.Errorf("temperature must be between 0.6 and 1.2, got %.2f", o.Temperature)
	}
	if o.MaxOutputTokens < 1 {
		return fmt.Errorf("max_output_tokens must be at least 1, got %d", o.MaxOutputTokens)
	}
	return nil
}

func (t *TTSConfig) Validate() error {
	switch t.Provider {
	case "google", "deepgram":
	default:
		return fmt.Errorf("provider must be 'google' or 'deepgram', got '%s'", t.Provider)
	}
	if t.SpeakingRate < 0.25 || t.SpeakingRate > 4 {
		return fmt.Errorf("speaking_rate must be between 0.25 and 4, got %.2f", t.SpeakingRate)
	}
	if t.Pitch < -20 || t.Pitch > 20 {
		return fmt.Errorf("pitch must be between -20 and 20, got %.2f", t.Pitch)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}
	if s.TranscribeSampleRate < 8000 {
		return fmt.Errorf("transcribe_sample_rate must be at least 8000 Hz, got %d", s.TranscribeSampleRate)
	}
	if s.MaxUploadBytes < 1 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", s.MaxUploadBytes)
	}
	switch s.AskProvider {
	case "gemini", "openai", "groq":
	default:
		return fmt.Errorf("ask_provider must be one of [gemini, openai, groq], got '%s'", s.AskProvider)
	}
	if s.AskRateLimit <= 0 || s.AskBurst < 1 {
		return fmt.Errorf("ask_rate_limit must be positive and ask_burst at least 1, got %.2f/%d", s.AskRateLimit, s.AskBurst)
	}
	return nil
}

// ListenAddress returns the host:port the gateway listens on.
func (s *ServerConfig) ListenAddress() string {
	return s.Address + ":" + strconv.Itoa(s.Port)
}

// Schema returns the JSON schema of the YAML configuration file.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "phonio configuration"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config schema: %w", err)
	}
	return data, nil
}
