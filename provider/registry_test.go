package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnobot/mediation/internal/crypto"
	"github.com/learnobot/mediation/provider"
	_ "github.com/learnobot/mediation/provider/mock"
)

func newTestRegistry(t *testing.T) (*provider.Registry, provider.RecordStore) {
	t.Helper()
	store, err := provider.OpenSQLiteRecordStore("file::memory:?cache=shared&_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var key [crypto.KeySize]byte
	svc := crypto.NewService(&key)
	return provider.NewRegistry(store, svc, nil), store
}

func TestAddCredential_MakesProviderLive(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.AddCredential(ctx, "mock", "k1"))

	p, ok := reg.Get("mock")
	require.True(t, ok)
	resp, err := p.GenerateResponse(ctx, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
}

func TestRemoveCredential_TombstonesAndDropsInstance(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	require.NoError(t, reg.AddCredential(ctx, "mock", "k1"))
	require.NoError(t, reg.RemoveCredential(ctx, "mock"))

	_, ok := reg.Get("mock")
	assert.False(t, ok)

	rec, found, err := store.Get(ctx, "mock")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec.Deactivated)
	assert.False(t, rec.Active)
	assert.Nil(t, rec.EncryptedCredential)
}

func TestBootstrapFromConfig_NoRecordInitializes(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	cfg := map[string]string{"mock": "bootstrap-key"}
	require.NoError(t, reg.BootstrapFromConfig(ctx, cfg))

	_, ok := reg.Get("mock")
	assert.True(t, ok)
}

func TestBootstrapFromConfig_DeactivatedIgnoresConfigAndClearsIt(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.AddCredential(ctx, "mock", "k1"))
	require.NoError(t, reg.RemoveCredential(ctx, "mock"))

	cfg := map[string]string{"mock": "should-not-be-used"}
	require.NoError(t, reg.BootstrapFromConfig(ctx, cfg))

	_, ok := reg.Get("mock")
	assert.False(t, ok, "a deactivated provider must never be revived by bootstrap config")
	_, stillPresent := cfg["mock"]
	assert.False(t, stillPresent, "bootstrap config must have the key scrubbed so it cannot leak via another path")
}

func TestStartupLoad_ReflectsDurableState(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	require.NoError(t, reg.AddCredential(ctx, "mock", "k1"))
	require.NoError(t, reg.RemoveCredential(ctx, "mock"))

	// Simulate a process restart: fresh in-memory registry, same store.
	var key [crypto.KeySize]byte
	svc := crypto.NewService(&key)
	fresh := provider.NewRegistry(store, svc, nil)
	require.NoError(t, fresh.StartupLoad(ctx))

	_, ok := fresh.Get("mock")
	assert.False(t, ok, "removal must survive a restart (T6)")

	cfg := map[string]string{"mock": "K1"}
	require.NoError(t, fresh.BootstrapFromConfig(ctx, cfg))
	_, ok = fresh.Get("mock")
	assert.False(t, ok, "bootstrap config must not resurrect a deactivated provider after restart")
}

func TestList_ReportsDefault(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.AddCredential(ctx, "mock", "k1"))

	views, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Default)
	assert.Equal(t, "mock", views[0].Name)

	active := reg.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, "mock", active[0].Name)
}

func TestList_IncludesTombstonedProvider(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	require.NoError(t, reg.AddCredential(ctx, "mock", "k1"))
	require.NoError(t, reg.RemoveCredential(ctx, "mock"))

	views, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1, "a removed provider's row must still be visible to List (P4)")
	assert.Equal(t, "mock", views[0].Name)
	assert.False(t, views[0].Active, "a tombstoned provider must report Active: false")

	active := reg.ListActive()
	assert.Empty(t, active, "a tombstoned provider must not be dispatch-visible via ListActive")
}
