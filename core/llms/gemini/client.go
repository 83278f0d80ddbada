// Package gemini answers short text prompts with Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/koscakluka/phonio/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

const (
	defaultModel           = "gemini-2.0-flash"
	defaultMaxOutputTokens = 10
)

var (
	ErrMissingAPIKey = errors.New("gemini api key not configured")
	ErrEmptyPrompt   = errors.New("prompt is empty")
)

// contentGenerator is the part of *genai.Models the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	models          contentGenerator
	model           string
	maxOutputTokens int32
}

type Option func(*options)

type options struct {
	apiKey          string
	model           string
	maxOutputTokens int32
	models          contentGenerator
}

// WithAPIKey sets the API key. Without it GEMINI_API_KEY is used.
func WithAPIKey(apiKey string) Option {
	return func(o *options) { o.apiKey = apiKey }
}

func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

func WithMaxOutputTokens(tokens int) Option {
	return func(o *options) {
		if tokens > 0 {
			o.maxOutputTokens = int32(tokens)
		}
	}
}

func withContentGenerator(models contentGenerator) Option {
	return func(o *options) { o.models = models }
}

func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	o := options{model: defaultModel, maxOutputTokens: defaultMaxOutputTokens}
	for _, opt := range opts {
		opt(&o)
	}

	if o.models == nil {
		if o.apiKey == "" {
			o.apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if o.apiKey == "" {
			return nil, ErrMissingAPIKey
		}

		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  o.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		o.models = client.Models
	}

	return &Client{
		models:          o.models,
		model:           o.model,
		maxOutputTokens: o.maxOutputTokens,
	}, nil
}

// Prompt answers prompt with a near-deterministic, very short reply.
func (c *Client) Prompt(ctx context.Context, prompt string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "prompt", trace.WithAttributes(
		attribute.String("llm.model", c.model),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), c.generateConfig())
	if err != nil {
		return "", fmt.Errorf("%w: %v", llms.ErrModelUnavailable, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: empty response", llms.ErrModelUnavailable)
	}

	text := resp.Text()
	if text == "" {
		logger.WarnContext(ctx, "Gemini returned no text", "model", c.model)
	}
	return text, nil
}

func (c *Client) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.1),
		TopK:            genai.Ptr[float32](1),
		TopP:            genai.Ptr[float32](0.1),
		MaxOutputTokens: c.maxOutputTokens,
		SafetySettings:  safetySettings(),
	}
}

func safetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}

	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  category,
			Threshold: genai.HarmBlockThresholdBlockMediumAndAbove,
		})
	}
	return settings
}

var _ llms.Prompter = (*Client)(nil)
