package image_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learnobot/mediation/engine"
	img "github.com/learnobot/mediation/image"
	"github.com/learnobot/mediation/internal/crypto"
	"github.com/learnobot/mediation/provider"
	_ "github.com/learnobot/mediation/provider/mock"
	"github.com/learnobot/mediation/router"
	"github.com/learnobot/mediation/state"
)

func newTestRegistry(t *testing.T, dsn, credential string) *provider.Registry {
	t.Helper()
	store, err := provider.OpenSQLiteRecordStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var key [crypto.KeySize]byte
	svc := crypto.NewService(&key)
	reg := provider.NewRegistry(store, svc, nil)
	require.NoError(t, reg.AddCredential(context.Background(), "mock", credential))
	return reg
}

func newTestEngine(t *testing.T, dsn string, registry *provider.Registry) *engine.Engine {
	t.Helper()
	states, err := state.OpenSQLiteStore(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { states.Close() })
	return engine.New(states, registry, nil, nil, nil)
}

func TestImageTurn_VisionCapableProviderSkipsOCR(t *testing.T) {
	registry := newTestRegistry(t, "file:image_vision1?mode=memory&cache=shared", "vision")
	eng := newTestEngine(t, "file:image_vision1_state?mode=memory&cache=shared", registry)
	pipeline := img.New(registry, eng, nil, 0, nil)

	result, err := pipeline.ImageTurn(context.Background(), "sess-vision", [][]byte{[]byte("fake-image-bytes")}, "", router.Practice, nil, "")
	require.NoError(t, err)
	require.Equal(t, "vision", result.Method)
	require.NotEmpty(t, result.ResponseText)
	require.Len(t, result.ImageRefs, 1)
}

func TestImageTurn_NonVisionProviderFallsBackToOCR(t *testing.T) {
	registry := newTestRegistry(t, "file:image_novision1?mode=memory&cache=shared", "k1")
	eng := newTestEngine(t, "file:image_novision1_state?mode=memory&cache=shared", registry)
	// No OCR extractor configured: the fallback must still produce a
	// well-formed, learner-facing result per spec §4.8's ordering
	// guarantee, never an error.
	pipeline := img.New(registry, eng, nil, 0, nil)

	result, err := pipeline.ImageTurn(context.Background(), "sess-novision", [][]byte{[]byte("fake-image-bytes")}, "", router.Practice, nil, "")
	require.NoError(t, err)
	require.Equal(t, "ocr", result.Method)
	require.NotEmpty(t, result.ResponseText)
}
