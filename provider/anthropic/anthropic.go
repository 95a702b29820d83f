// Package anthropic adapts anthropic-sdk-go's Messages API to the
// ModelProvider interface, generalizing the teacher's hand-rolled
// ai/providers/anthropic HTTP client into a multimodal_remote adapter that
// also implements core.VisionCapable/MultiImageCapable.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/provider"
)

func init() {
	provider.RegisterFactory(factory{})
}

type factory struct{}

func (factory) Family() string      { return "anthropic" }
func (factory) Kind() provider.Kind { return provider.MultimodalRemote }

// Build constructs a multimodal_remote provider. config may set "model"
// (default claude-3-5-sonnet) and "max_tokens" handling is left to
// GenerateOptions at call time; the adapter applies its own default.
func (factory) Build(name string, credential string, config map[string]string) (provider.ModelProvider, error) {
	if credential == "" {
		return nil, fmt.Errorf("anthropic: provider %q requires a credential", name)
	}
	model := config["model"]
	if model == "" {
		model = string(anthropic.ModelClaude3_5SonnetLatest)
	}
	return &Provider{
		name:   name,
		model:  anthropic.Model(model),
		client: anthropic.NewClient(option.WithAPIKey(credential)),
	}, nil
}

// Provider is a multimodal_remote ModelProvider backed by Anthropic's
// native Messages API.
type Provider struct {
	name   string
	model  anthropic.Model
	client *anthropic.Client
}

const defaultMaxTokens = 1024

func (p *Provider) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(p.model),
		MaxTokens: anthropic.F(int64(resolveMaxTokens(options))),
		Messages:  anthropic.F([]anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))}),
	}
	applyCommonOptions(&params, options)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(p.name, err)
	}
	return toAIResponse(p.name, p.model, msg)
}

func (p *Provider) ProcessImage(ctx context.Context, image []byte, prompt string, options *core.AIOptions) (string, error) {
	resp, err := p.processImages(ctx, [][]byte{image}, prompt, options)
	if err != nil {
		return "", err
	}
	return resp, nil
}

func (p *Provider) ProcessImages(ctx context.Context, images [][]byte, prompt string, options *core.AIOptions) (string, error) {
	return p.processImages(ctx, images, prompt, options)
}

func (p *Provider) processImages(ctx context.Context, images [][]byte, prompt string, options *core.AIOptions) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
	for _, img := range images {
		encoded := base64.StdEncoding.EncodeToString(img)
		blocks = append(blocks, anthropic.NewImageBlockBase64(detectMediaType(img), encoded))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(p.model),
		MaxTokens: anthropic.F(int64(resolveMaxTokens(options))),
		Messages:  anthropic.F([]anthropic.MessageParam{anthropic.NewUserMessage(blocks...)}),
	}
	applyCommonOptions(&params, options)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyError(p.name, err)
	}
	resp, err := toAIResponse(p.name, p.model, msg)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.name, Kind: provider.MultimodalRemote, Model: string(p.model), SupportsVision: true}
}

func (p *Provider) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func resolveMaxTokens(options *core.AIOptions) int {
	if options != nil && options.MaxTokens > 0 {
		return options.MaxTokens
	}
	return defaultMaxTokens
}

func applyCommonOptions(params *anthropic.MessageNewParams, options *core.AIOptions) {
	if options == nil {
		return
	}
	if options.SystemPrompt != "" {
		params.System = anthropic.F(options.SystemPrompt)
	}
	if options.Temperature > 0 {
		params.Temperature = anthropic.F(float64(options.Temperature))
	}
}

func toAIResponse(name string, model anthropic.Model, msg *anthropic.Message) (*core.AIResponse, error) {
	var content string
	for _, block := range msg.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}
	if content == "" {
		return nil, core.NewProviderError(name, core.ProviderErrUpstream, errors.New("anthropic: no text content in response"))
	}
	return &core.AIResponse{
		Content: content,
		Model:   string(model),
		Usage: core.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// detectMediaType sniffs the handful of image formats Claude accepts. The
// ImageIngestPipeline (spec §4.8) always hands this adapter already-decoded
// bytes, so a light magic-number check is enough — it never needs to cover
// arbitrary file types.
func detectMediaType(data []byte) string {
	switch {
	case len(data) >= 8 && data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G':
		return "image/png"
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case len(data) >= 6 && string(data[0:3]) == "GIF":
		return "image/gif"
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func classifyError(name string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
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
