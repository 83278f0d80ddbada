// Command phonio-server runs the HTTP gateway: upload transcription, one-off
// prompts, speech synthesis and LiveKit room tokens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koscakluka/phonio/core/audio"
	"github.com/koscakluka/phonio/core/audio/ffmpeg"
	"github.com/koscakluka/phonio/core/llms"
	"github.com/koscakluka/phonio/core/llms/gemini"
	"github.com/koscakluka/phonio/core/llms/groq"
	"github.com/koscakluka/phonio/core/llms/openai"
	"github.com/koscakluka/phonio/core/speechtotext/deepgram"
	"github.com/koscakluka/phonio/core/texttospeech"
	ttsdeepgram "github.com/koscakluka/phonio/core/texttospeech/deepgram"
	"github.com/koscakluka/phonio/core/texttospeech/google"
	"github.com/koscakluka/phonio/internal/config"
	"github.com/koscakluka/phonio/internal/metrics"
	"github.com/koscakluka/phonio/internal/server"
	"github.com/koscakluka/phonio/internal/telemetry"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var logger = otelslog.NewLogger("github.com/koscakluka/phonio/cmd/phonio-server")

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "phonio-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	providers, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to flush telemetry: %v\n", err)
		}
	}()

	// A provider without credentials only disables its routes.
	opts := []server.Option{
		server.WithTokenIssuer(server.NewTokenIssuer(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.Room, cfg.LiveKit.TokenTTL)),
		server.WithMetrics(metrics.New()),
		server.WithAskRateLimit(cfg.Server.AskRateLimit, cfg.Server.AskBurst),
		server.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
	}

	if prompter, err := newPrompter(ctx, cfg); err != nil {
		logger.Warn("Prompt routes disabled", "provider", cfg.Server.AskProvider, "error", err)
	} else {
		opts = append(opts, server.WithPrompter(cfg.Server.AskProvider, prompter))
	}

	if synthesizer, closeSynthesizer, err := newSynthesizer(ctx, cfg); err != nil {
		logger.Warn("Speech synthesis disabled", "provider", cfg.TTS.Provider, "error", err)
	} else {
		defer closeSynthesizer()
		opts = append(opts, server.WithSynthesizer(synthesizer))
	}

	encoding := audio.EncodingInfo{SampleRate: cfg.Server.TranscribeSampleRate, Format: audio.EncodingLinear16}
	normalizer := ffmpeg.NewNormalizer(ffmpeg.WithBinary(cfg.Server.FFmpegPath), ffmpeg.WithEncoding(encoding))
	transcriber := deepgram.NewTranscriptionClient(
		deepgram.WithAPIKey(cfg.Deepgram.APIKey),
		deepgram.WithModel(cfg.Deepgram.Model),
		deepgram.WithLanguage(cfg.Deepgram.Language),
	)

	gateway := server.New(append(opts, server.WithTranscription(normalizer, transcriber))...)

	logger.Info("Starting gateway",
		"address", cfg.Server.ListenAddress(),
		"ask_provider", cfg.Server.AskProvider,
		"tts_provider", cfg.TTS.Provider)
	return gateway.ListenAndServe(ctx, cfg.Server.ListenAddress(), cfg.Server.ShutdownTimeout)
}

func newPrompter(ctx context.Context, cfg *config.Config) (llms.Prompter, error) {
	switch cfg.Server.AskProvider {
	case "groq":
		return groq.NewClient(
			groq.WithAPIKey(cfg.Groq.APIKey),
			groq.WithModel(cfg.Groq.Model),
			groq.WithMaxTokens(cfg.Groq.MaxTokens),
		), nil
	case "openai":
		return openai.NewPromptClient(
			openai.WithPromptAPIKey(cfg.OpenAI.APIKey),
			openai.WithPromptModel(cfg.OpenAI.PromptModel),
		), nil
	default:
		client, err := gemini.NewClient(ctx,
			gemini.WithAPIKey(cfg.Gemini.APIKey),
			gemini.WithModel(cfg.Gemini.Model),
			gemini.WithMaxOutputTokens(cfg.Gemini.MaxOutputTokens),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return client, nil
	}
}

func newSynthesizer(ctx context.Context, cfg *config.Config) (texttospeech.Synthesizer, func(), error) {
	switch cfg.TTS.Provider {
	case "deepgram":
		client, err := ttsdeepgram.NewTextToSpeechClient(ttsdeepgram.Voice(cfg.Deepgram.Voice),
			ttsdeepgram.WithAPIKey(cfg.Deepgram.APIKey))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create deepgram speech client: %w", err)
		}
		return client, func() {}, nil
	default:
		client, err := google.NewClient(ctx,
			google.WithCredentialsFile(cfg.TTS.CredentialsFile),
			google.WithVoice(cfg.TTS.LanguageCode, cfg.TTS.Voice),
			google.WithSpeakingRate(cfg.TTS.SpeakingRate),
			google.WithPitch(cfg.TTS.Pitch),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google speech client: %w", err)
		}
		return client, func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close speech client", "error", err)
			}
		}, nil
	}
}
