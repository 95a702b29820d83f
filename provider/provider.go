// Package provider implements the ModelProvider abstraction (C6) and the
// ProviderRegistry credential lifecycle (C5): a uniform interface over
// local and remote text/vision model back-ends, plus encrypted
// credential storage with strict precedence rules between the durable
// registry and bootstrap configuration.
package provider

import (
	"context"
	"time"

	"github.com/learnobot/mediation/core"
)

// Kind is the closed adapter-kind enumeration from spec §3's
// ProviderRecord data model.
type Kind string

const (
	Local            Kind = "local"
	TextRemote       Kind = "text_remote"
	MultimodalRemote Kind = "multimodal_remote"
)

// Info describes a provider instance's identity and capabilities, the
// `info()` operation from spec §4.6.
type Info struct {
	Name           string
	Kind           Kind
	Model          string
	SupportsVision bool
}

// ModelProvider is the uniform capability interface every adapter
// implements: generate_text is mandatory, process_image/process_images
// are optional and discovered via a type assertion against
// core.VisionCapable / core.MultiImageCapable rather than attribute
// probing (spec §9 "Deep inheritance / duck typing").
type ModelProvider interface {
	core.AIClient

	// Info returns static identity/capability metadata for this
	// provider instance.
	Info() Info

	// EstimateTokens returns a coarse token-count bound for text. A
	// 4-chars-per-token heuristic is an acceptable implementation
	// (spec §4.6).
	EstimateTokens(text string) int
}

// GenerateOptions carries per-turn generation tuning. It is converted to
// *core.AIOptions at the call boundary; kept distinct so callers in
// engine/ don't need to import core just to build options.
type GenerateOptions struct {
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

func (o GenerateOptions) toAIOptions() *core.AIOptions {
	return &core.AIOptions{
		Temperature:  o.Temperature,
		MaxTokens:    o.MaxTokens,
		SystemPrompt: o.SystemPrompt,
		Timeout:      o.Timeout,
	}
}

// Generate is a convenience wrapper translating GenerateOptions into the
// core.AIClient call shape.
func Generate(ctx context.Context, p ModelProvider, prompt string, opts GenerateOptions) (*core.AIResponse, error) {
	return p.GenerateResponse(ctx, prompt, opts.toAIOptions())
}

// Resolve implements the preferred-else-default precedence used by both
// MediationEngine (spec §4.7 step 7) and ImageIngestPipeline (spec §4.8
// step 1): prefer the named provider if it is live, else fall back to the
// registry's elected default, else report core.ErrProviderUnavailable.
func Resolve(registry *Registry, preferred string, logger core.Logger) (ModelProvider, error) {
	if preferred != "" {
		if p, ok := registry.Get(preferred); ok {
			return p, nil
		}
		if logger != nil {
			logger.Warn("preferred provider unavailable, falling back to default", map[string]interface{}{"preferred": preferred})
		}
	}
	if p, _, ok := registry.Default(); ok {
		return p, nil
	}
	return nil, core.ErrProviderUnavailable
}

// SupportsVision reports whether p implements single-image processing.
func SupportsVision(p ModelProvider) bool {
	_, ok := p.(core.VisionCapable)
	return ok
}

// SupportsMultiImage reports whether p implements joint multi-image
// processing.
func SupportsMultiImage(p ModelProvider) bool {
	_, ok := p.(core.MultiImageCapable)
	return ok
}
