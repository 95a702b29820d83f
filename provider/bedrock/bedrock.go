// Package bedrock adapts aws-sdk-go-v2's bedrockruntime Converse API to the
// ModelProvider interface, generalizing the teacher's ai/providers/bedrock
// client (which spoke the same Converse API by hand) into a text_remote
// adapter over the registry's credential/config model.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/provider"
)

func init() {
	provider.RegisterFactory(factory{})
}

type factory struct{}

func (factory) Family() string      { return "bedrock" }
func (factory) Kind() provider.Kind { return provider.TextRemote }

// Build constructs a Bedrock-backed provider. config may set "model"
// (default ModelClaude3Haiku), "region" (falls back to AWS_REGION /
// AWS_DEFAULT_REGION / "us-east-1"), and credential is "access_key:secret_key"
// or "access_key:secret_key:session_token" — empty uses the default AWS
// credential chain (IAM role, env vars, ~/.aws/credentials).
func (factory) Build(name string, credential string, cfg map[string]string) (provider.ModelProvider, error) {
	region := cfg["region"]
	if region == "" {
		region = firstNonEmpty(os.Getenv("AWS_REGION"), os.Getenv("AWS_DEFAULT_REGION"), "us-east-1")
	}

	model := cfg["model"]
	if model == "" {
		model = ModelClaude3Haiku
	}

	ctx := context.Background()
	awsCfg, err := loadAWSConfig(ctx, region, credential)
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}

	return &Provider{
		name:   name,
		model:  model,
		client: bedrockruntime.NewFromConfig(awsCfg),
	}, nil
}

func loadAWSConfig(ctx context.Context, region, credential string) (aws.Config, error) {
	accessKey, secretKey, sessionToken, explicit := splitCredential(credential)
	if explicit {
		credProvider := credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)
		return config.LoadDefaultConfig(ctx, config.WithRegion(region), config.WithCredentialsProvider(credProvider))
	}
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

// splitCredential parses "access:secret" or "access:secret:session" out of
// the registry's single plaintext credential string. An empty credential
// falls through to the default AWS credential chain.
func splitCredential(credential string) (accessKey, secretKey, sessionToken string, explicit bool) {
	if credential == "" {
		return "", "", "", false
	}
	parts := splitN(credential, ':', 3)
	if len(parts) < 2 {
		return "", "", "", false
	}
	accessKey = parts[0]
	secretKey = parts[1]
	if len(parts) == 3 {
		sessionToken = parts[2]
	}
	return accessKey, secretKey, sessionToken, true
}

func splitN(s string, sep byte, n int) []string {
	out := make([]string, 0, n)
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Provider is a text_remote ModelProvider backed by AWS Bedrock's unified
// Converse API, which fronts Claude, Llama, Titan, Mistral, and Cohere
// models behind one request/response shape.
type Provider struct {
	name   string
	model  string
	client *bedrockruntime.Client
}

func (p *Provider) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.model),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
			},
		},
	}

	if options != nil {
		if options.SystemPrompt != "" {
			input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: options.SystemPrompt}}
		}
		inference := &types.InferenceConfiguration{}
		set := false
		if options.MaxTokens > 0 {
			inference.MaxTokens = aws.Int32(int32(options.MaxTokens))
			set = true
		}
		if options.Temperature > 0 {
			inference.Temperature = aws.Float32(options.Temperature)
			set = true
		}
		if set {
			input.InferenceConfig = inference
		}
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, classifyError(p.name, err)
	}

	if output.Output == nil {
		return nil, core.NewProviderError(p.name, core.ProviderErrUpstream, fmt.Errorf("bedrock: no output in response"))
	}
	msg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, core.NewProviderError(p.name, core.ProviderErrUpstream, fmt.Errorf("bedrock: unexpected output type"))
	}

	var content string
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			content += text.Value
		}
	}
	if content == "" {
		return nil, core.NewProviderError(p.name, core.ProviderErrUpstream, fmt.Errorf("bedrock: no text content in response"))
	}

	resp := &core.AIResponse{Content: content, Model: p.model}
	if output.Usage != nil {
		resp.Usage = core.TokenUsage{
			PromptTokens:     int(aws.ToInt32(output.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}
	return resp, nil
}

func (p *Provider) Info() provider.Info {
	return provider.Info{Name: p.name, Kind: provider.TextRemote, Model: p.model, SupportsVision: false}
}

func (p *Provider) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func classifyError(name string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException":
			return core.NewProviderError(name, core.ProviderErrAuthFailed, err)
		case "ThrottlingException", "TooManyRequestsException":
			return core.NewProviderError(name, core.ProviderErrRateLimited, err)
		}
	}
	if err == context.DeadlineExceeded {
		return core.NewProviderError(name, core.ProviderErrTimeout, err)
	}
	return core.NewProviderError(name, core.ProviderErrUpstream, err)
}

// Common AWS Bedrock model identifiers (Converse API compatible).
const (
	ModelClaude3Opus   = "anthropic.claude-3-opus-20240229-v1:0"
	ModelClaude3Sonnet = "anthropic.claude-3-sonnet-20240229-v1:0"
	ModelClaude3Haiku  = "anthropic.claude-3-haiku-20240307-v1:0"

	ModelTitanTextPremier = "amazon.titan-text-premier-v1:0"
	ModelTitanTextExpress = "amazon.titan-text-express-v1"

	ModelLlama3_70B = "meta.llama3-70b-instruct-v1:0"
	ModelLlama3_8B  = "meta.llama3-8b-instruct-v1:0"

	ModelMistral7B   = "mistral.mistral-7b-instruct-v0:2"
	ModelMixtral8x7B = "mistral.mixtral-8x7b-instruct-v0:1"
)
