// Package mock provides a deterministic ModelProvider used in tests and
// local development when no real credential is configured, mirroring the
// teacher's ai/providers/mock adapter.
package mock

import (
	"context"
	"fmt"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/provider"
)

func init() {
	provider.RegisterFactory(factory{})
}

type factory struct{}

func (factory) Family() string      { return "mock" }
func (factory) Kind() provider.Kind { return provider.TextRemote }

func (factory) Build(name string, credential string, config map[string]string) (provider.ModelProvider, error) {
	if credential == "vision" {
		return NewVisionCapable(name, config["response"]), nil
	}
	return New(name, config["response"]), nil
}

// Provider is a scriptable ModelProvider: it echoes a fixed response, or
// the prompt itself when no fixed response is configured, and supports
// single-image processing so engine/image tests can exercise the vision
// path without a real multimodal backend.
type Provider struct {
	name           string
	fixedResponse  string
	supportsVision bool
	failNext       error
}

// New constructs a mock text-only provider. An empty fixedResponse makes
// GenerateResponse echo the prompt back, which is convenient for
// asserting rendered template content in engine tests.
func New(name, fixedResponse string) *Provider {
	return &Provider{name: name, fixedResponse: fixedResponse}
}

// NewVisionCapable constructs a mock provider that also implements
// core.VisionCapable / core.MultiImageCapable.
func NewVisionCapable(name, fixedResponse string) *Provider {
	return &Provider{name: name, fixedResponse: fixedResponse, supportsVision: true}
}

// FailNext arranges for the next GenerateResponse/ProcessImage(s) call to
// return err instead of a response, then clears itself.
func (p *Provider) FailNext(err error) { p.failNext = err }

func (p *Provider) GenerateResponse(_ context.Context, prompt string, _ *core.AIOptions) (*core.AIResponse, error) {
	if err := p.takeFailure(); err != nil {
		return nil, err
	}
	text := p.fixedResponse
	if text == "" {
		text = prompt
	}
	return &core.AIResponse{Content: text, Model: p.name}, nil
}

func (p *Provider) ProcessImage(_ context.Context, _ []byte, prompt string, _ *core.AIOptions) (string, error) {
	if !p.supportsVision {
		return "", core.ErrNoVisionSupport
	}
	if err := p.takeFailure(); err != nil {
		return "", err
	}
	if p.fixedResponse != "" {
		return p.fixedResponse, nil
	}
	return fmt.Sprintf("[vision] %s", prompt), nil
}

func (p *Provider) ProcessImages(ctx context.Context, images [][]byte, prompt string, opts *core.AIOptions) (string, error) {
	if !p.supportsVision {
		return "", core.ErrNoVisionSupport
	}
	return p.ProcessImage(ctx, firstOrNil(images), prompt, opts)
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.name, Kind: provider.TextRemote, Model: p.name, SupportsVision: p.supportsVision}
}

func (p *Provider) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func (p *Provider) takeFailure() error {
	err := p.failNext
	p.failNext = nil
	return err
}

func firstOrNil(images [][]byte) []byte {
	if len(images) == 0 {
		return nil
	}
	return images[0]
}
