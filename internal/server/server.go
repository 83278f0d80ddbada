// Package server is the HTTP gateway next to the voice agent. It transcribes
// uploads, answers one-off prompts, synthesizes speech and hands out LiveKit
// room tokens.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/koscakluka/phonio/core/audio"
	"github.com/koscakluka/phonio/core/llms"
	"github.com/koscakluka/phonio/core/speechtotext"
	"github.com/koscakluka/phonio/core/texttospeech"
	"github.com/koscakluka/phonio/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// Normalizer converts an uploaded file into PCM the transcriber accepts.
type Normalizer interface {
	Normalize(ctx context.Context, input []byte) ([]byte, error)
	EncodingInfo() audio.EncodingInfo
}

type Server struct {
	engine *gin.Engine

	normalizer     Normalizer
	transcriber    speechtotext.Transcriber
	prompter       llms.Prompter
	promptProvider string
	synthesizer    texttospeech.Synthesizer
	tokens         *TokenIssuer
	metrics        *metrics.Metrics
	limiter        *rate.Limiter
	maxUploadBytes int64
	now            func() time.Time
}

type Option func(*Server)

func WithTranscription(normalizer Normalizer, transcriber speechtotext.Transcriber) Option {
	return func(s *Server) {
		s.normalizer = normalizer
		s.transcriber = transcriber
	}
}

// WithPrompter answers /ask requests, provider only labels metrics and logs.
func WithPrompter(provider string, prompter llms.Prompter) Option {
	return func(s *Server) {
		s.promptProvider = provider
		s.prompter = prompter
	}
}

func WithSynthesizer(synthesizer texttospeech.Synthesizer) Option {
	return func(s *Server) {
		s.synthesizer = synthesizer
	}
}

func WithTokenIssuer(tokens *TokenIssuer) Option {
	return func(s *Server) {
		s.tokens = tokens
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAskRateLimit limits prompt requests to r per second with the given
// burst, shared by all clients.
func WithAskRateLimit(r float64, burst int) Option {
	return func(s *Server) {
		if r > 0 && burst > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		metrics:        metrics.New(),
		limiter:        rate.NewLimiter(rate.Inf, 0),
		maxUploadBytes: 25 << 20,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.cors(), s.observe())
	s.engine.MaxMultipartMemory = s.maxUploadBytes
	s.register(s.engine)
	return s
}

func (s *Server) register(r *gin.Engine) {
	r.POST("/transcribe", s.handleTranscribe)
	r.POST("/stt", s.handleSTT)
	r.POST("/ask", s.handleAsk)
	r.POST("/ask-gemini", s.handleAsk)
	r.GET("/tts", s.handleTTS)
	r.GET("/token", s.handleToken)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// Handler returns the gateway wrapped in HTTP tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.engine, "phonio-gateway")
}

// ListenAndServe serves on addr until ctx is done, then drains in-flight
// requests for at most shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP gateway listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	logger.Info("HTTP gateway stopped")
	return nil
}
