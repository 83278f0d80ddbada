// Package texttospeech holds the contract shared by speech synthesis
// clients.
package texttospeech

import (
	"context"
	"errors"
	"strings"
)

var ErrEmptyText = errors.New("no text provided to text-to-speech")

// Speech is synthesized audio together with the media type it is encoded
// in.
type Speech struct {
	Audio       []byte
	ContentType string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Speech, error)
}

// ValidateText rejects text that would produce no speech.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}
