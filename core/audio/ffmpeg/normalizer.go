// Package ffmpeg converts uploaded audio of any container or codec into the
// raw mono PCM the recognizers expect.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/koscakluka/phonio/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrEmptyInput       = errors.New("empty audio input")
	ErrNormalizerFailed = errors.New("audio normalization failed")
)

type Normalizer struct {
	binary   string
	encoding audio.EncodingInfo
}

type NormalizerOption func(*Normalizer)

// WithBinary selects the ffmpeg executable, looked up in PATH when it is not
// a path.
func WithBinary(binary string) NormalizerOption {
	return func(n *Normalizer) {
		if binary != "" {
			n.binary = binary
		}
	}
}

// WithEncoding selects the output sample rate. Only linear16 output is
// produced.
func WithEncoding(encoding audio.EncodingInfo) NormalizerOption {
	return func(n *Normalizer) {
		if !encoding.IsZero() {
			n.encoding = encoding
		}
	}
}

func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		binary:   "ffmpeg",
		encoding: audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) EncodingInfo() audio.EncodingInfo {
	return n.encoding
}

// Normalize decodes input and returns mono 16 bit little-endian PCM at the
// configured sample rate.
func (n *Normalizer) Normalize(ctx context.Context, input []byte) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "normalize audio", trace.WithAttributes(
		attribute.Int("audio.input_bytes", len(input)),
		attribute.Int("audio.sample_rate", n.encoding.SampleRate),
	))
	defer span.End()

	if len(input) == 0 {
		span.SetStatus(codes.Error, ErrEmptyInput.Error())
		return nil, ErrEmptyInput
	}

	cmd := exec.CommandContext(ctx, n.binary, n.args()...)
	cmd.Stdin = bytes.NewReader(input)
	stdout := bytes.Buffer{}
	stderr := bytes.Buffer{}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		err = fmt.Errorf("%w: %v: %s", ErrNormalizerFailed, err, strings.TrimSpace(stderr.String()))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "ffmpeg failed", "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("audio.output_bytes", stdout.Len()))
	return stdout.Bytes(), nil
}

func (n *Normalizer) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(n.encoding.SampleRate),
		"pipe:1",
	}
}
