package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/koscakluka/phonio/core/texttospeech"
	"github.com/koscakluka/phonio/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errNotConfigured = errors.New("not configured")

type askRequest struct {
	Prompt string `json:"prompt"`
}

// handleTranscribe always answers 200, failures are reported in the error
// field so that browser clients can show them inline.
func (s *Server) handleTranscribe(c *gin.Context) {
	text, err := s.transcribeUpload(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (s *Server) handleSTT(c *gin.Context) {
	text, err := s.transcribeUpload(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "STT failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (s *Server) transcribeUpload(c *gin.Context) (text string, err error) {
	ctx, span := tracer.Start(c.Request.Context(), "transcribe upload")
	defer func() {
		s.metrics.Transcriptions.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			logger.WarnContext(ctx, "Transcription failed", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if s.normalizer == nil || s.transcriber == nil {
		return "", fmt.Errorf("transcription %w", errNotConfigured)
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("missing audio file: %w", err)
	}
	defer file.Close()
	span.SetAttributes(attribute.String("file.name", header.Filename), attribute.Int64("file.size", header.Size))

	upload, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}

	pcm, err := s.normalizer.Normalize(ctx, upload)
	if err != nil {
		return "", err
	}

	text, err = s.transcriber.TranscribeAll(ctx, pcm, s.normalizer.EncodingInfo())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (s *Server) handleAsk(c *gin.Context) {
	if s.rateLimited(c) {
		return
	}

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing prompt"})
		return
	}

	text, err := s.prompt(c.Request.Context(), req.Prompt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "AI generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (s *Server) prompt(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := tracer.Start(ctx, "answer prompt", trace.WithAttributes(
		attribute.String("prompt.provider", s.promptProvider),
	))
	defer func() {
		s.metrics.Prompts.WithLabelValues(s.promptProvider, metrics.Result(err)).Inc()
		if err != nil {
			logger.WarnContext(ctx, "Prompt failed", "provider", s.promptProvider, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if s.prompter == nil {
		return "", fmt.Errorf("prompter %w", errNotConfigured)
	}
	return s.prompter.Prompt(ctx, prompt)
}

func (s *Server) handleTTS(c *gin.Context) {
	text := c.Query("text")
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing text parameter"})
		return
	}

	speech, err := s.synthesize(c.Request.Context(), text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "TTS synthesis failed"})
		return
	}
	c.Data(http.StatusOK, speech.ContentType, speech.Audio)
}

func (s *Server) synthesize(ctx context.Context, text string) (speech texttospeech.Speech, err error) {
	ctx, span := tracer.Start(ctx, "synthesize speech", trace.WithAttributes(
		attribute.Int("text.length", len(text)),
	))
	defer func() {
		s.metrics.Syntheses.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			logger.WarnContext(ctx, "Speech synthesis failed", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if s.synthesizer == nil {
		return texttospeech.Speech{}, fmt.Errorf("synthesizer %w", errNotConfigured)
	}
	return s.synthesizer.Synthesize(ctx, text)
}

func (s *Server) handleToken(c *gin.Context) {
	if s.tokens == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token generation failed"})
		return
	}

	token, identity, room, err := s.tokens.Issue(c.Query("identity"), c.Query("room"), s.now())
	if err != nil {
		logger.WarnContext(c.Request.Context(), "Token generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "identity": identity, "roomName": room})
}
