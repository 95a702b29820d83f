// Package gemini adapts google.golang.org/genai's GenerateContent API to
// the ModelProvider interface, generalizing the teacher's hand-rolled
// ai/providers/gemini HTTP client into a multimodal_remote family adapter:
// one credential fans out to a fixed set of model-scoped provider keys
// (spec §4.5's Google-family fan-out, SPEC_FULL.md supplemented feature #1).
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/provider"
)

func init() {
	provider.RegisterFactory(factory{})
}

// familyModels is the fixed set of Gemini models a single API key fans out
// to on AddCredential, keyed as "google-<model>".
var familyModels = []string{"gemini-1.5-flash", "gemini-1.5-pro", "gemini-2.0-flash"}

type factory struct{}

func (factory) Family() string         { return "google" }
func (factory) Kind() provider.Kind    { return provider.MultimodalRemote }
func (factory) FamilyModels() []string { return familyModels }

// Build constructs a single model-scoped provider. name is expected to be
// "google-<model>"; config may override "model" directly for callers that
// construct a provider outside the family fan-out (e.g. tests).
func (factory) Build(name string, credential string, config map[string]string) (provider.ModelProvider, error) {
	if credential == "" {
		return nil, fmt.Errorf("gemini: provider %q requires a credential", name)
	}
	model := config["model"]
	if model == "" {
		model = modelFromName(name)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  credential,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Provider{name: name, model: model, client: client}, nil
}

func modelFromName(name string) string {
	const prefix = "google-"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return "gemini-1.5-flash"
}

// Provider is a multimodal_remote ModelProvider backed by a single Gemini
// model via the native GenerateContent API.
type Provider struct {
	name   string
	model  string
	client *genai.Client
}

func (p *Provider) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	return p.generate(ctx, []*genai.Part{genai.NewPartFromText(prompt)}, options)
}

func (p *Provider) ProcessImage(ctx context.Context, image []byte, prompt string, options *core.AIOptions) (string, error) {
	resp, err := p.generate(ctx, []*genai.Part{
		genai.NewPartFromBytes(image, detectMIMEType(image)),
		genai.NewPartFromText(prompt),
	}, options)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *Provider) ProcessImages(ctx context.Context, images [][]byte, prompt string, options *core.AIOptions) (string, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img, detectMIMEType(img)))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	resp, err := p.generate(ctx, parts, options)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *Provider) generate(ctx context.Context, parts []*genai.Part, options *core.AIOptions) (*core.AIResponse, error) {
	config := &genai.GenerateContentConfig{}
	if options != nil {
		if options.SystemPrompt != "" {
			config.SystemInstruction = genai.NewContentFromText(options.SystemPrompt, genai.RoleUser)
		}
		if options.Temperature > 0 {
			t := options.Temperature
			config.Temperature = &t
		}
		if options.MaxTokens > 0 {
			mt := int32(options.MaxTokens)
			config.MaxOutputTokens = mt
		}
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, []*genai.Content{{Parts: parts, Role: genai.RoleUser}}, config)
	if err != nil {
		return nil, classifyError(p.name, err)
	}
	text := result.Text()
	if text == "" {
		return nil, core.NewProviderError(p.name, core.ProviderErrUpstream, errors.New("gemini: empty response"))
	}

	resp := &core.AIResponse{Content: text, Model: p.model}
	if result.UsageMetadata != nil {
		resp.Usage = core.TokenUsage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(result.UsageMetadata.TotalTokenCount),
		}
	}
	return resp, nil
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.name, Kind: provider.MultimodalRemote, Model: p.model, SupportsVision: true}
}

func (p *Provider) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func detectMIMEType(data []byte) string {
	switch {
	case len(data) >= 8 && data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G':
		return "image/png"
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case len(data) >= 6 && string(data[0:3]) == "GIF":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func classifyError(name string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return core.NewProviderError(name, core.ProviderErrAuthFailed, err)
		case 429:
			return core.NewProviderError(name, core.ProviderErrRateLimited, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewProviderError(name, core.ProviderErrTimeout, err)
	}
	return core.NewProviderError(name, core.ProviderErrUpstream, err)
}
