// Package openai adapts the sashabaranov/go-openai client to the
// ModelProvider interface, covering the OpenAI family and its
// OpenAI-compatible aliases (groq, deepseek, together) via BaseURL
// override — the same alias-resolution idiom the teacher's
// ai/provider.go WithProviderAlias option uses for AIConfig.
package openai

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/provider"
)

func init() {
	provider.RegisterFactory(factory{})
}

type factory struct{}

func (factory) Family() string      { return "openai" }
func (factory) Kind() provider.Kind { return provider.TextRemote }

// Build constructs a text_remote provider. config may set "model"
// (default gpt-4o-mini), "base_url" (for an OpenAI-compatible alias),
// and "alias" (a human label, e.g. "groq", surfaced via Info).
func (factory) Build(name string, credential string, config map[string]string) (provider.ModelProvider, error) {
	if credential == "" {
		return nil, fmt.Errorf("openai: provider %q requires a credential", name)
	}
	model := config["model"]
	if model == "" {
		model = "gpt-4o-mini"
	}
	baseURL := config["base_url"]
	if baseURL == "" && config["alias"] != "" {
		baseURL = defaultBaseURLFromEnv(config["alias"])
	}

	clientConfig := openai.DefaultConfig(credential)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &Provider{
		name:   name,
		model:  model,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// Provider is a text_remote ModelProvider backed by the OpenAI chat
// completions API (or any OpenAI-compatible endpoint via base_url).
type Provider struct {
	name   string
	model  string
	client *openai.Client
}

func (p *Provider) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}}
	if options != nil && options.SystemPrompt != "" {
		messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: options.SystemPrompt},
		}, messages...)
	}

	req := openai.ChatCompletionRequest{Model: p.model, Messages: messages}
	if options != nil {
		req.Temperature = options.Temperature
		req.MaxTokens = options.MaxTokens
		if options.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, options.Timeout)
			defer cancel()
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewProviderError(p.name, core.ProviderErrUpstream, fmt.Errorf("openai: empty choices"))
	}

	return &core.AIResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   p.model,
		Usage: core.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.name, Kind: provider.TextRemote, Model: p.model, SupportsVision: false}
}

func (p *Provider) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// classifyError maps an OpenAI SDK error onto the four-kind taxonomy
// spec §4.6 requires every adapter to surface, so no provider-specific
// error type leaks above the ModelProvider interface.
func classifyError(err error) error {
	if apiErr, ok := err.(*openai.APIError); ok {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return core.NewProviderError("openai", core.ProviderErrAuthFailed, err)
		case apiErr.HTTPStatusCode == 429:
			return core.NewProviderError("openai", core.ProviderErrRateLimited, err)
		}
	}
	if err == context.DeadlineExceeded {
		return core.NewProviderError("openai", core.ProviderErrTimeout, err)
	}
	return core.NewProviderError("openai", core.ProviderErrUpstream, err)
}

// defaultBaseURLFromEnv supports OpenAI-compatible aliases the same way
// the teacher's WithProviderAlias does: only consult the env var when
// the caller (registry config) left base_url unset.
func defaultBaseURLFromEnv(alias string) string {
	switch alias {
	case "groq":
		return firstNonEmpty(os.Getenv("GROQ_BASE_URL"), "https://api.groq.com/openai/v1")
	case "deepseek":
		return firstNonEmpty(os.Getenv("DEEPSEEK_BASE_URL"), "https://api.deepseek.com")
	case "together":
		return firstNonEmpty(os.Getenv("TOGETHER_BASE_URL"), "https://api.together.xyz/v1")
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
