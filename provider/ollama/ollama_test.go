package ollama

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnobot/mediation/provider"
)

func TestFactory_FamilyAndKind(t *testing.T) {
	f := factory{}
	assert.Equal(t, "ollama", f.Family())
	assert.Equal(t, provider.Local, f.Kind())
}

func TestFactory_Build_NoCredentialRequired(t *testing.T) {
	p, err := factory{}.Build("ollama-llama3", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "llama3", p.Info().Model)
	assert.Equal(t, provider.Local, p.Info().Kind)
	assert.False(t, p.Info().SupportsVision)
}

func TestModelFromName(t *testing.T) {
	assert.Equal(t, "llama3", modelFromName("ollama-llama3"))
	assert.Equal(t, "bare-name", modelFromName("bare-name"))
}

func TestFactory_Build_HonorsBaseURLOverride(t *testing.T) {
	p, err := factory{}.Build("ollama-llama3", "", map[string]string{"base_url": "http://example.test:11434"})
	require.NoError(t, err)
	op := p.(*Provider)
	assert.Equal(t, "http://example.test:11434", op.baseURL)
}

func TestEstimateTokens(t *testing.T) {
	p, err := factory{}.Build("ollama-llama3", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, p.EstimateTokens(""))
	assert.Greater(t, p.EstimateTokens("hello world"), 0)
}
