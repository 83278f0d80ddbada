package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/koscakluka/phonio/core/llms"
	"google.golang.org/genai"
)

type generatorStub struct {
	response *genai.GenerateContentResponse
	err      error

	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (g *generatorStub) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	g.model = model
	g.contents = contents
	g.config = config
	return g.response, g.err
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(text, genai.RoleModel),
		}},
	}
}

func TestPromptSendsGenerationConfig(t *testing.T) {
	stub := &generatorStub{response: textResponse("Hello!")}
	client, err := NewClient(context.Background(), withContentGenerator(stub))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text, err := client.Prompt(context.Background(), "Say hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello!" {
		t.Fatalf("unexpected text %q", text)
	}

	if stub.model != defaultModel {
		t.Fatalf("expected model %s, got %s", defaultModel, stub.model)
	}
	if len(stub.contents) != 1 || stub.contents[0].Parts[0].Text != "Say hello" {
		t.Fatalf("unexpected contents %+v", stub.contents)
	}
	if stub.config.MaxOutputTokens != defaultMaxOutputTokens {
		t.Fatalf("expected %d output tokens, got %d", defaultMaxOutputTokens, stub.config.MaxOutputTokens)
	}
	if *stub.config.Temperature != 0.1 || *stub.config.TopK != 1 || *stub.config.TopP != 0.1 {
		t.Fatalf("unexpected sampling config %+v", stub.config)
	}
	if len(stub.config.SafetySettings) != 4 {
		t.Fatalf("expected four safety settings, got %d", len(stub.config.SafetySettings))
	}
	for _, setting := range stub.config.SafetySettings {
		if setting.Threshold != genai.HarmBlockThresholdBlockMediumAndAbove {
			t.Fatalf("unexpected threshold for %s: %s", setting.Category, setting.Threshold)
		}
	}
}

func TestPromptErrors(t *testing.T) {
	testCases := []struct {
		name        string
		prompt      string
		stub        *generatorStub
		expectedErr error
	}{
		{name: "empty prompt", prompt: " ", stub: &generatorStub{}, expectedErr: ErrEmptyPrompt},
		{name: "api failure", prompt: "hi", stub: &generatorStub{err: errors.New("quota exceeded")}, expectedErr: llms.ErrModelUnavailable},
		{name: "no response", prompt: "hi", stub: &generatorStub{}, expectedErr: llms.ErrModelUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), withContentGenerator(tc.stub))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, err := client.Prompt(context.Background(), tc.prompt); !errors.Is(err, tc.expectedErr) {
				t.Fatalf("expected %v, got %v", tc.expectedErr, err)
			}
		})
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := NewClient(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestWithMaxOutputTokens(t *testing.T) {
	stub := &generatorStub{response: textResponse("ok")}
	client, err := NewClient(context.Background(), withContentGenerator(stub), WithMaxOutputTokens(64), WithModel("gemini-2.5-flash"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Prompt(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.config.MaxOutputTokens != 64 || stub.model != "gemini-2.5-flash" {
		t.Fatalf("expected overrides to apply, got %d tokens on %s", stub.config.MaxOutputTokens, stub.model)
	}
}
