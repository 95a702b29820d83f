// Package ollama adapts a local Ollama server to the ModelProvider
// interface. Ollama needs no credential (the teacher's ai/provider.go
// WithProviderAlias case for "ollama" defaults its BaseURL the same way,
// since Ollama never requires an API key), so this is a local adapter:
// it discovers locally-installed models via Ollama's own /api/tags
// endpoint instead of a registry credential.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/provider"
)

func init() {
	provider.RegisterFactory(factory{})
}

const defaultBaseURL = "http://localhost:11434"

type factory struct{}

func (factory) Family() string      { return "ollama" }
func (factory) Kind() provider.Kind { return provider.Local }

// Build constructs a provider for a single locally-discovered model. name
// is expected to be "ollama-<model>"; config may set "base_url" to point
// at a non-default Ollama server.
func (factory) Build(name string, _ string, config map[string]string) (provider.ModelProvider, error) {
	baseURL := config["base_url"]
	if baseURL == "" {
		baseURL = defaultBaseURLFromEnv()
	}
	return &Provider{
		name:    name,
		model:   modelFromName(name),
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Discover lists the models currently pulled into the local Ollama
// install, each becoming its own "ollama-<model>" provider key per
// LocalDiscoveryFactory (spec §4.6 "Local adapter").
func (factory) Discover() ([]string, error) {
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Get(defaultBaseURLFromEnv() + "/api/tags")
	if err != nil {
		return nil, fmt.Errorf("ollama: discover: %w", err)
	}
	defer resp.Body.Close()

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama: decode tags: %w", err)
	}
	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

func defaultBaseURLFromEnv() string {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		return v
	}
	return defaultBaseURL
}

func modelFromName(name string) string {
	const prefix = "ollama-"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return name
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Provider is a local ModelProvider backed by Ollama's /api/generate
// endpoint (no streaming; this adapter always requests the non-streamed
// response shape).
type Provider struct {
	name    string
	model   string
	baseURL string
	http    *http.Client
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	System  string  `json:"system,omitempty"`
	Stream  bool    `json:"stream"`
	Options options `json:"options,omitempty"`
}

type options struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *Provider) GenerateResponse(ctx context.Context, prompt string, opts *core.AIOptions) (*core.AIResponse, error) {
	req := generateRequest{Model: p.model, Prompt: prompt, Stream: false}
	if opts != nil {
		req.System = opts.SystemPrompt
		req.Options = options{Temperature: opts.Temperature, NumPredict: opts.MaxTokens}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.NewProviderError(p.name, core.ProviderErrTimeout, err)
		}
		return nil, core.NewProviderError(p.name, core.ProviderErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, core.NewProviderError(p.name, core.ProviderErrUpstream, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, data))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, core.NewProviderError(p.name, core.ProviderErrUpstream, fmt.Errorf("ollama: decode response: %w", err))
	}

	return &core.AIResponse{
		Content: out.Response,
		Model:   p.model,
		Usage: core.TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.name, Kind: provider.Local, Model: p.model, SupportsVision: false}
}

func (p *Provider) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
