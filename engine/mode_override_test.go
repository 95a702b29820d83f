package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnobot/mediation/router"
)

func TestSQLiteModeOverrideStore_LatestWinsByUpdatedAt(t *testing.T) {
	store, err := OpenSQLiteModeOverrideStore("file:modeoverride1?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	temp1 := float32(0.2)
	require.NoError(t, store.Set(ctx, router.Test, "first", &temp1, nil))

	temp2 := float32(0.9)
	maxTokens := 256
	require.NoError(t, store.Set(ctx, router.Test, "second", &temp2, &maxTokens))

	got, ok, err := store.Latest(ctx, router.Test)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", got.SystemPrompt)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.9, *got.Temperature, 0.0001)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 256, *got.MaxTokens)
}

func TestSQLiteModeOverrideStore_NoOverrideYet(t *testing.T) {
	store, err := OpenSQLiteModeOverrideStore("file:modeoverride2?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Latest(context.Background(), router.Practice)
	require.NoError(t, err)
	assert.False(t, ok)
}
