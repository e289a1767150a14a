package infer

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/aethercode/aether/pkg/sir"
)

// DefaultGeminiModel is used when neither config nor override names one.
const DefaultGeminiModel = "gemini-2.0-flash"

// ErrMissingAPIKey is returned when a keyed provider is selected but its
// environment variable is empty.
var ErrMissingAPIKey = errors.New("infer: api key environment variable is empty")

// GeminiProvider generates SIRs through the Gemini API via the genai SDK.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider constructs a provider from a raw API key.
func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("infer: create genai client: %w", err)
	}

	return &GeminiProvider{client: client, model: model}, nil
}

// Model returns the configured model name.
func (p *GeminiProvider) Model() string { return p.model }

// Summarize implements the drift analyzer's Summarizer contract: compress
// a mechanical diff description into one natural-language sentence.
func (p *GeminiProvider) Summarize(ctx context.Context, mechanicalSummary string) (string, error) {
	prompt := "Summarize this code-behavior change in one short sentence, plain prose, no markdown:\n\n" +
		mechanicalSummary

	response, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("infer: gemini summarize: %w", err)
	}

	text := response.Text()
	if text == "" {
		return "", errors.New("infer: gemini returned no summary")
	}

	return text, nil
}

// GenerateSIR implements sir.Provider with strict-JSON response forcing
// and the shared parse-retry loop.
func (p *GeminiProvider) GenerateSIR(ctx context.Context, language, declaration, body string) (sir.SIR, error) {
	prompt := buildStrictJSONPrompt(language, declaration, body)

	return generateWithParseRetries(ctx, func(ctx context.Context) (string, error) {
		response, err := p.client.Models.GenerateContent(ctx, p.model,
			genai.Text(prompt),
			&genai.GenerateContentConfig{
				ResponseMIMEType: "application/json",
				Temperature:      genai.Ptr[float32](0),
			})
		if err != nil {
			return "", fmt.Errorf("infer: gemini generate: %w", err)
		}

		text := response.Text()
		if text == "" {
			return "", errors.New("infer: gemini returned no text candidate")
		}

		return text, nil
	})
}
