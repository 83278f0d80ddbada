package openai

import (
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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultResponsesURL  = "https://api.openai.com/v1/responses"
	defaultPromptModel   = "gpt-4o-mini"
	defaultPromptTokens  = 60
	defaultPromptTimeout = 15 * time.Second
)

var ErrEmptyPrompt = errors.New("prompt is empty")

type promptConfig struct {
	apiKey          string
	url             string
	model           string
	instructions    string
	maxOutputTokens int
	httpClient      *http.Client
}

type PromptOption func(*promptConfig)

func WithPromptAPIKey(apiKey string) PromptOption {
	return func(c *promptConfig) { c.apiKey = apiKey }
}

// WithResponsesURL replaces the Responses API endpoint.
func WithResponsesURL(url string) PromptOption {
	return func(c *promptConfig) {
		if url != "" {
			c.url = url
		}
	}
}

func WithPromptModel(model string) PromptOption {
	return func(c *promptConfig) {
		if model != "" {
			c.model = model
		}
	}
}

func WithPromptInstructions(instructions string) PromptOption {
	return func(c *promptConfig) { c.instructions = instructions }
}

func WithPromptMaxOutputTokens(tokens int) PromptOption {
	return func(c *promptConfig) {
		if tokens > 0 {
			c.maxOutputTokens = tokens
		}
	}
}

func WithHTTPClient(client *http.Client) PromptOption {
	return func(c *promptConfig) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// PromptClient answers single text prompts through the Responses API.
type PromptClient struct {
	config promptConfig
}

func NewPromptClient(opts ...PromptOption) *PromptClient {
	config := promptConfig{
		url:             defaultResponsesURL,
		model:           defaultPromptModel,
		maxOutputTokens: defaultPromptTokens,
		httpClient: &http.Client{
			Timeout:   defaultPromptTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.apiKey == "" {
		config.apiKey = os.Getenv("OPENAI_API_KEY")
	}

	return &PromptClient{config: config}
}

func (c *PromptClient) Prompt(ctx context.Context, prompt string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "prompt", trace.WithAttributes(
		attribute.String("llm.model", c.config.model),
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
	if c.config.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	reqBody := requestBody{
		Model:           c.config.model,
		Input:           toOpenAIMessages(c.config.instructions, prompt),
		MaxOutputTokens: c.config.maxOutputTokens,
	}
	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.apiKey)

	resp, err := c.config.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: error sending request: %v", llms.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errorBody errorResponseBody
		if json.Unmarshal(bodyBytes, &errorBody) == nil && errorBody.Error.Message != "" {
			return "", fmt.Errorf("%w: %s: %s", llms.ErrModelUnavailable, resp.Status, errorBody.Error.Message)
		}
		return "", fmt.Errorf("%w: non-OK HTTP status: %s", llms.ErrModelUnavailable, resp.Status)
	}

	var responseBody generalResponseBody
	if err := json.Unmarshal(bodyBytes, &responseBody); err != nil {
		return "", fmt.Errorf("error unmarshalling response body: %w", err)
	}

	return responseBody.text()
}

type requestBody struct {
	Model           string          `json:"model"`
	Input           []openAIMessage `json:"input"`
	Stream          bool            `json:"stream"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
}

type errorResponseBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type generalResponseBody struct {
	Output []generalResponseBodyOutput `json:"output"`
}

type generalResponseBodyOutput struct {
	// Type is the type of the output item. Only messages carry text.
	Type    string                             `json:"type"`
	Content []generalResponseBodyOutputContent `json:"content,omitempty"`
}

type generalResponseBodyOutputContent struct {
	// Type is 'output_text' or 'refusal'.
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Refusal string `json:"refusal,omitempty"`
}

func (b generalResponseBody) text() (string, error) {
	var parts []string
	for _, output := range b.Output {
		if output.Type != "message" {
			continue
		}
		for _, content := range output.Content {
			switch content.Type {
			case "output_text":
				parts = append(parts, content.Text)
			case "refusal":
				parts = append(parts, content.Refusal)
			}
		}
	}

	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", fmt.Errorf("%w: response contained no text", llms.ErrModelUnavailable)
	}
	return text, nil
}

var _ llms.Prompter = (*PromptClient)(nil)
