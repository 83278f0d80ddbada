// Command phonio-agent holds a spoken conversation with the OpenAI Realtime
// API through the microphone and speakers of the local machine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/phonio/core"
	"github.com/koscakluka/phonio/core/audio"
	"github.com/koscakluka/phonio/core/events"
	"github.com/koscakluka/phonio/core/llms/openai"
	"github.com/koscakluka/phonio/internal/config"
	"github.com/koscakluka/phonio/internal/telemetry"
	"github.com/koscakluka/phonio/internal/tui"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"golang.org/x/sync/errgroup"
)

var logger = otelslog.NewLogger("github.com/koscakluka/phonio/cmd/phonio-agent")

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	audioBackend := flag.String("audio", "", "Audio backend: miniaudio, portaudio or none")
	useTUI := flag.Bool("tui", false, "Show the conversation in a terminal UI")
	printSchema := flag.Bool("print-config-schema", false, "Print the JSON schema of the configuration and exit")
	flag.Parse()

	if *printSchema {
		schema, err := config.Schema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate schema: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(append(schema, '\n'))
		return
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *audioBackend != "" {
		cfg.Agent.Audio = *audioBackend
		if err := cfg.Agent.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -audio flag: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *useTUI); err != nil {
		fmt.Fprintf(os.Stderr, "phonio-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, useTUI bool) error {
	var logWriter io.Writer = os.Stderr
	if useTUI {
		// Logs would tear the terminal UI apart.
		logFile, err := os.OpenFile("phonio-agent.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logFile.Close()
		logWriter = logFile
	}

	providers, err := telemetry.Init(ctx, cfg.Telemetry, telemetry.WithLogWriter(logWriter))
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

	device, err := openDevice(cfg.Agent, audio.GetRealtimeEncodingInfo())
	if err != nil {
		return err
	}
	if device != nil {
		defer device.Close()
	}

	realtime := openai.NewRealtimeSession(
		openai.WithAPIKey(cfg.OpenAI.APIKey),
		openai.WithEndpoint(cfg.OpenAI.RealtimeEndpoint),
		openai.WithModel(cfg.OpenAI.RealtimeModel),
		openai.WithVoice(cfg.OpenAI.Voice),
		openai.WithInstructions(cfg.OpenAI.Instructions),
		openai.WithTranscriptionModel(cfg.OpenAI.TranscriptionModel),
		openai.WithTurnEagerness(cfg.OpenAI.TurnEagerness),
		openai.WithTemperature(cfg.OpenAI.Temperature),
		openai.WithMaxOutputTokens(cfg.OpenAI.MaxOutputTokens),
	)

	var program *tea.Program
	if useTUI {
		program = tea.NewProgram(tui.New(), tea.WithContext(ctx))
	}
	forward := func(events.Event) {}
	if program != nil {
		forward = tui.Forward(program)
	}

	orchestrator := orchestration.NewOrchestrator(realtime,
		orchestration.WithEventCallback(func(event events.Event) {
			route(event, device)
			forward(event)
		}),
	)
	defer orchestrator.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return orchestrator.Run(ctx, realtime)
	})

	captions, err := startCaptions(ctx, cfg, forward)
	if err != nil {
		logger.Warn("Local transcription disabled", "error", err)
	}

	if device != nil {
		g.Go(func() error {
			return device.Stream(ctx, func(pcm []byte) {
				if err := realtime.SendAudio(pcm); err != nil {
					logger.Debug("Dropping microphone audio", "error", err)
				}
				if captions != nil {
					_ = captions.SendAudio(pcm)
				}
			})
		})
	}

	if program != nil {
		g.Go(func() error {
			defer cancel()
			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("terminal UI failed: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if captions != nil {
		_ = captions.StopStream()
	}
	if device != nil {
		// Let the last reply finish playing.
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), 3*time.Second)
		_ = device.Drain(drainCtx)
		cancelDrain()
	}

	stats := orchestrator.Stats()
	logger.Info("Agent stopped",
		"replies_completed", stats.Completed,
		"replies_failed", stats.Failed,
		"turns", len(orchestrator.Conversation()))

	return err
}

// route plays assistant audio and flushes playback when the user starts
// speaking over it.
func route(event events.Event, device audio.Device) {
	if device == nil {
		return
	}

	switch e := event.(type) {
	case events.AssistantAudioFrame:
		if err := device.SendAudio(e.Audio); err != nil {
			logger.Warn("Failed to play assistant audio", "error", err)
		}
	case events.UserSpeechStarted:
		device.ClearBuffer()
	}
}
