package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnobot/mediation/internal/crypto"
	"github.com/learnobot/mediation/provider"
	"github.com/learnobot/mediation/router"
	"github.com/learnobot/mediation/state"
)

// countingModeStore wraps a ModeOverrideStore and counts calls to Latest,
// so the cache wired in front of it can be verified to actually avoid
// repeat reads rather than just happening to return the same value.
type countingModeStore struct {
	ModeOverrideStore
	latestCalls int32
}

func (c *countingModeStore) Latest(ctx context.Context, mode router.Mode) (*ModeOverride, bool, error) {
	atomic.AddInt32(&c.latestCalls, 1)
	return c.ModeOverrideStore.Latest(ctx, mode)
}

func newTestEngineWithModes(t *testing.T, modes ModeOverrideStore) *Engine {
	t.Helper()
	states, err := state.OpenSQLiteStore("file:modeoverridecache1?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { states.Close() })

	recStore, err := provider.OpenSQLiteRecordStore("file:modeoverridecache1providers?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { recStore.Close() })

	var key [crypto.KeySize]byte
	reg := provider.NewRegistry(recStore, crypto.NewService(&key), nil)
	return New(states, reg, modes, nil, nil)
}

func TestLoadModeOverride_CachesHitAcrossCalls(t *testing.T) {
	backing, err := OpenSQLiteModeOverrideStore("file:modeoverridecache2?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	defer backing.Close()

	temp := float32(0.3)
	require.NoError(t, backing.Set(context.Background(), router.Test, "be gentle", &temp, nil))

	counting := &countingModeStore{ModeOverrideStore: backing}
	eng := newTestEngineWithModes(t, counting)

	ctx := context.Background()
	first := eng.loadModeOverride(ctx, router.Test)
	second := eng.loadModeOverride(ctx, router.Test)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, "be gentle", first.SystemPrompt)
	assert.Equal(t, "be gentle", second.SystemPrompt)
	assert.Equal(t, int32(1), atomic.LoadInt32(&counting.latestCalls), "second call must be served from cache, not the durable store")
}

func TestLoadModeOverride_CachesConfirmedAbsence(t *testing.T) {
	backing, err := OpenSQLiteModeOverrideStore("file:modeoverridecache3?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	defer backing.Close()

	counting := &countingModeStore{ModeOverrideStore: backing}
	eng := newTestEngineWithModes(t, counting)

	ctx := context.Background()
	assert.Nil(t, eng.loadModeOverride(ctx, router.Practice))
	assert.Nil(t, eng.loadModeOverride(ctx, router.Practice))
	assert.Equal(t, int32(1), atomic.LoadInt32(&counting.latestCalls), "a confirmed absence must also be cached")
}

func TestLoadModeOverride_NilStoreNeverCalled(t *testing.T) {
	eng := newTestEngineWithModes(t, nil)
	assert.Nil(t, eng.loadModeOverride(context.Background(), router.Test))
}
