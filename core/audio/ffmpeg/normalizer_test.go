package ffmpeg

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/koscakluka/phonio/core/audio"
)

func TestNormalizerArgs(t *testing.T) {
	testCases := []struct {
		name     string
		opts     []NormalizerOption
		expected string
	}{
		{name: "default", expected: "16000"},
		{name: "realtime", opts: []NormalizerOption{WithEncoding(audio.GetRealtimeEncodingInfo())}, expected: "24000"},
		{name: "zero encoding keeps default", opts: []NormalizerOption{WithEncoding(audio.EncodingInfo{})}, expected: "16000"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			args := NewNormalizer(tc.opts...).args()

			index := slices.Index(args, "-ar")
			if index < 0 || index+1 >= len(args) {
				t.Fatalf("expected -ar flag in %v", args)
			}
			if args[index+1] != tc.expected {
				t.Fatalf("expected sample rate %s, got %s", tc.expected, args[index+1])
			}
			for _, required := range []string{"pipe:0", "pipe:1", "s16le", "pcm_s16le"} {
				if !slices.Contains(args, required) {
					t.Fatalf("expected %q in %v", required, args)
				}
			}
			if args[len(args)-1] != "pipe:1" {
				t.Fatalf("expected output to stdout last, got %v", args)
			}
		})
	}
}

func TestNormalizeRejectsEmptyInput(t *testing.T) {
	_, err := NewNormalizer().Normalize(context.Background(), nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestNormalizeReportsMissingBinary(t *testing.T) {
	normalizer := NewNormalizer(WithBinary("phonio-missing-ffmpeg-binary"))

	_, err := normalizer.Normalize(context.Background(), []byte("RIFF"))
	if !errors.Is(err, ErrNormalizerFailed) {
		t.Fatalf("expected ErrNormalizerFailed, got %v", err)
	}
}
