// Package groq answers single prompts with models hosted by Groq, through
// its OpenAI compatible chat completions endpoint.
package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/koscakluka/phonio/core/llms"
	"github.com/koscakluka/phonio/internal/utils"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultURL       = "https://api.groq.com/openai/v1/chat/completions"
	defaultModel     = "llama-3.1-8b-instant"
	defaultMaxTokens = 60
	defaultTimeout   = 15 * time.Second

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

var (
	ErrEmptyPrompt   = errors.New("prompt is empty")
	ErrMissingAPIKey = errors.New("groq api key not configured")
)

type Client struct {
	apiKey       string
	url          string
	model        string
	instructions string
	maxTokens    *int
	temperature  *float64
	httpClient   *http.Client

	tokens metric.Int64Counter
}

type Option func(*Client)

// WithAPIKey sets the API key. Without it GROQ_API_KEY is used.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) { c.apiKey = apiKey }
}

func WithURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.url = url
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithInstructions(instructions string) Option {
	return func(c *Client) { c.instructions = instructions }
}

func WithMaxTokens(tokens int) Option {
	return func(c *Client) {
		if tokens > 0 {
			c.maxTokens = utils.Ptr(tokens)
		}
	}
}

// WithTemperature sets the sampling temperature, the model default is used
// when it is not set.
func WithTemperature(temperature float64) Option {
	return func(c *Client) { c.temperature = utils.Ptr(temperature) }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		url:       defaultURL,
		model:     defaultModel,
		maxTokens: utils.Ptr(defaultMaxTokens),
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("GROQ_API_KEY")
	}

	tokens, err := meter.Int64Counter("groq.tokens",
		metric.WithDescription("Tokens used by prompts"),
		metric.WithUnit("{token}"))
	if err != nil {
		logger.Warn("Failed to create token counter", "error", err)
	}
	c.tokens = tokens
	return c
}

// Prompt streams a completion for prompt and returns the whole answer.
func (c *Client) Prompt(ctx context.Context, prompt string) (text string, err error) {
	ctx, span := tracer.Start(ctx, "prompt groq", trace.WithAttributes(
		attribute.String("llm.model", c.model),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	requestBodyBytes, err := json.Marshal(requestBody{
		Model:       c.model,
		Messages:    toMessages(c.instructions, prompt),
		Stream:      true,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: error sending request: %w", llms.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: groq returned %s: %s", llms.ErrModelUnavailable, resp.Status, strings.TrimSpace(string(body)))
	}

	text, err = c.readStream(ctx, resp.Body)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", llms.ErrModelUnavailable)
	}
	return text, nil
}

func (c *Client) readStream(ctx context.Context, body io.Reader) (string, error) {
	var response strings.Builder
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
		if len(chunk) == 0 {
			continue
		}
		if chunk == endMessage {
			break
		}

		var responseBody streamingResponseBody
		if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
			logger.WarnContext(ctx, "Skipping malformed chunk", "error", err)
			continue
		}
		c.recordUsage(ctx, responseBody.reportedUsage())
		if len(responseBody.Choices) == 0 {
			continue
		}
		response.WriteString(responseBody.Choices[0].Delta.Content)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: error reading streamed response: %w", llms.ErrModelUnavailable, err)
	}

	return strings.TrimSpace(response.String()), nil
}

func (c *Client) recordUsage(ctx context.Context, u *usage) {
	if u == nil || c.tokens == nil {
		return
	}
	model := attribute.String("llm.model", c.model)
	c.tokens.Add(ctx, int64(u.PromptTokens), metric.WithAttributes(model, attribute.String("token.type", "prompt")))
	c.tokens.Add(ctx, int64(u.CompletionTokens), metric.WithAttributes(model, attribute.String("token.type", "completion")))
}

var _ llms.Prompter = (*Client)(nil)

type requestBody struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   *int      `json:"max_completion_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Role         string  `json:"role,omitempty"`
			Content      string  `json:"content,omitempty"`
			FinishReason *string `json:"finish_reason,omitempty"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
	// Groq reports usage of streamed completions here instead.
	XGroq *struct {
		Usage *usage `json:"usage"`
	} `json:"x_groq,omitempty"`
}

func (b streamingResponseBody) reportedUsage() *usage {
	if b.Usage != nil {
		return b.Usage
	}
	if b.XGroq != nil {
		return b.XGroq.Usage
	}
	return nil
}
