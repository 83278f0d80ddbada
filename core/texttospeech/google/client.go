// Package google synthesizes speech with Google Cloud Text-to-Speech.
package google

import (
	"context"
	"fmt"

	texttospeechapi "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/koscakluka/phonio/core/texttospeech"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

const (
	defaultLanguageCode = "en-US"
	defaultVoice        = "en-US-Wavenet-F"
	defaultSpeakingRate = 1.1
	defaultPitch        = 2.0
)

// speechClient is the part of the generated client the synthesizer uses.
type speechClient interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

type Client struct {
	client speechClient

	languageCode string
	voice        string
	speakingRate float64
	pitch        float64
}

type Option func(*options)

type options struct {
	credentialsFile string
	languageCode    string
	voice           string
	speakingRate    float64
	pitch           float64
	client          speechClient
}

// WithCredentialsFile authenticates with a service account key. Without it
// application default credentials are used.
func WithCredentialsFile(path string) Option {
	return func(o *options) { o.credentialsFile = path }
}

func WithVoice(languageCode, voice string) Option {
	return func(o *options) {
		if languageCode != "" {
			o.languageCode = languageCode
		}
		if voice != "" {
			o.voice = voice
		}
	}
}

func WithSpeakingRate(rate float64) Option {
	return func(o *options) {
		if rate > 0 {
			o.speakingRate = rate
		}
	}
}

func WithPitch(pitch float64) Option {
	return func(o *options) { o.pitch = pitch }
}

func withSpeechClient(client speechClient) Option {
	return func(o *options) { o.client = client }
}

func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	o := options{
		languageCode: defaultLanguageCode,
		voice:        defaultVoice,
		speakingRate: defaultSpeakingRate,
		pitch:        defaultPitch,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.client == nil {
		var clientOpts []option.ClientOption
		if o.credentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(o.credentialsFile))
		}
		client, err := texttospeechapi.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
		}
		o.client = client
	}

	return &Client{
		client:       o.client,
		languageCode: o.languageCode,
		voice:        o.voice,
		speakingRate: o.speakingRate,
		pitch:        o.pitch,
	}, nil
}

// Synthesize returns MP3 encoded speech for text.
func (c *Client) Synthesize(ctx context.Context, text string) (_ texttospeech.Speech, err error) {
	ctx, span := tracer.Start(ctx, "synthesize speech", trace.WithAttributes(
		attribute.String("tts.voice", c.voice),
		attribute.Int("tts.text_length", len(text)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := texttospeech.ValidateText(text); err != nil {
		return texttospeech.Speech{}, err
	}

	resp, err := c.client.SynthesizeSpeech(ctx, c.request(text))
	if err != nil {
		return texttospeech.Speech{}, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		logger.WarnContext(ctx, "Text-to-speech returned no audio", "voice", c.voice)
	}

	return texttospeech.Speech{Audio: resp.GetAudioContent(), ContentType: "audio/mpeg"}, nil
}

func (c *Client) request(text string) *texttospeechpb.SynthesizeSpeechRequest {
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: c.languageCode,
			Name:         c.voice,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_FEMALE,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  c.speakingRate,
			Pitch:         c.pitch,
		},
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

var _ texttospeech.Synthesizer = (*Client)(nil)
