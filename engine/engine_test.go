package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learnobot/mediation/classifier"
	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/engine"
	"github.com/learnobot/mediation/internal/crypto"
	"github.com/learnobot/mediation/provider"
	"github.com/learnobot/mediation/provider/mock"
	"github.com/learnobot/mediation/router"
	"github.com/learnobot/mediation/state"
)

var errUpstream = errors.New("upstream exploded")

func newTestStates(t *testing.T, dsn string) state.Store {
	t.Helper()
	store, err := state.OpenSQLiteStore(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestRegistry(t *testing.T, dsn string) *provider.Registry {
	t.Helper()
	recStore, err := provider.OpenSQLiteRecordStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { recStore.Close() })

	var key [crypto.KeySize]byte
	svc := crypto.NewService(&key)
	reg := provider.NewRegistry(recStore, svc, nil)
	require.NoError(t, reg.AddCredential(context.Background(), "mock", "k1"))
	return reg
}

// TestMessageTurn_GreetingShortcutNeverRecordsAnAttempt covers §8 Scenario
// A: an empty utterance on a brand-new session returns the fixed greeting
// without ever touching the provider, and attempt_count stays at 0.
func TestMessageTurn_GreetingShortcutNeverRecordsAnAttempt(t *testing.T) {
	states := newTestStates(t, "file:engine_greeting?mode=memory&cache=shared")
	registry := newTestRegistry(t, "file:engine_greeting_reg?mode=memory&cache=shared")
	eng := engine.New(states, registry, nil, nil, nil)

	result, err := eng.MessageTurn(context.Background(), "sess-1", "עשה תרגיל", "", router.Practice, nil, "")
	require.NoError(t, err)
	require.Equal(t, router.InitialGreeting, result.StrategyUsed)
	require.Equal(t, classifier.Initial, result.ComprehensionLevel)
	require.Equal(t, 0, result.AttemptCount)
	require.NotEmpty(t, result.ResponseText)
}

// TestMessageTurn_ConfusedWithEmptyFailedSetHitsEmotionalSupportFirst
// pins spec §9 Open Question 1's documented quirk: the hierarchy scan's
// first member is emotional_support, and the short-circuit in step 1 of
// Route only tests comprehension == emotional, not the strategy name. So
// a plain "confused" utterance with nothing failed yet routes to
// emotional_support too — not because of the fast path (the utterance
// doesn't match the direct-response table), but because it's simply the
// first unfailed hierarchy entry.
func TestMessageTurn_ConfusedWithEmptyFailedSetHitsEmotionalSupportFirst(t *testing.T) {
	states := newTestStates(t, "file:engine_confused?mode=memory&cache=shared")
	registry := newTestRegistry(t, "file:engine_confused_reg?mode=memory&cache=shared")
	eng := engine.New(states, registry, nil, nil, nil)

	result, err := eng.MessageTurn(context.Background(), "sess-2", "תפתור את התרגיל", "לא מבין", router.Practice, nil, "")
	require.NoError(t, err)
	require.Equal(t, router.EmotionalSupport, result.StrategyUsed)
	require.Equal(t, classifier.Confused, result.ComprehensionLevel)
	require.Equal(t, 1, result.AttemptCount)
}

// TestMessageTurn_ConfusedAfterEmotionalFailedRoutesToHighlightKeywords
// covers the same decision order once emotional_support has already
// failed once: the hierarchy scan moves to its second member.
func TestMessageTurn_ConfusedAfterEmotionalFailedRoutesToHighlightKeywords(t *testing.T) {
	states := newTestStates(t, "file:engine_confused2?mode=memory&cache=shared")
	registry := newTestRegistry(t, "file:engine_confused2_reg?mode=memory&cache=shared")
	eng := engine.New(states, registry, nil, nil, nil)

	ctx := context.Background()
	sessionID := "sess-2b"
	first, err := eng.MessageTurn(ctx, sessionID, "תפתור את התרגיל", "לא מבין", router.Practice, nil, "")
	require.NoError(t, err)
	require.Equal(t, router.EmotionalSupport, first.StrategyUsed)

	second, err := eng.MessageTurn(ctx, sessionID, "תפתור את התרגיל", "לא מבין", router.Practice, nil, "")
	require.NoError(t, err)
	require.Equal(t, router.HighlightKeywords, second.StrategyUsed)
	require.Equal(t, 2, second.AttemptCount)
}

// TestMessageTurn_EmotionalUtteranceBypassesGeneration covers §8 Scenario
// B/the emotional fast path (spec §4.7 step 6): a direct-table phrase
// returns the table text verbatim without a model call.
func TestMessageTurn_EmotionalUtteranceBypassesGeneration(t *testing.T) {
	states := newTestStates(t, "file:engine_emotional?mode=memory&cache=shared")
	registry := newTestRegistry(t, "file:engine_emotional_reg?mode=memory&cache=shared")
	eng := engine.New(states, registry, nil, nil, nil)

	result, err := eng.MessageTurn(context.Background(), "sess-3", "תפתור את התרגיל", "אני עצוב מאוד", router.Practice, nil, "")
	require.NoError(t, err)
	require.Equal(t, router.EmotionalSupport, result.StrategyUsed)
	require.Contains(t, result.ResponseText, "אני מבין שאתה מרגיש עצוב")
}

// TestMessageTurn_TestModeEscalatesAfterThreeFailures covers §8 Scenario
// C: once three distinct strategies have failed in test mode, the fourth
// turn escalates to the teacher regardless of what remains unfailed.
func TestMessageTurn_TestModeEscalatesAfterThreeFailures(t *testing.T) {
	states := newTestStates(t, "file:engine_escalate?mode=memory&cache=shared")
	registry := newTestRegistry(t, "file:engine_escalate_reg?mode=memory&cache=shared")
	eng := engine.New(states, registry, nil, nil, nil)

	ctx := context.Background()
	sessionID := "sess-4"
	var last *engine.TurnResult
	for i := 0; i < 3; i++ {
		r, err := eng.MessageTurn(ctx, sessionID, "תפתור את התרגיל", "לא מבין כלל", router.Test, nil, "")
		require.NoError(t, err)
		last = r
	}
	require.NotEqual(t, router.TeacherEscalation, last.StrategyUsed)

	final, err := eng.MessageTurn(ctx, sessionID, "תפתור את התרגיל", "לא מבין כלל", router.Test, nil, "")
	require.NoError(t, err)
	require.Equal(t, router.TeacherEscalation, final.StrategyUsed)
	require.Contains(t, final.ResponseText, "מורה")
}

// TestMessageTurn_AssistanceOverrideYieldsToEmotionalPrecedence covers §8
// Scenario D: an explicit assistance_type override is still beaten by the
// emotional short-circuit when the utterance itself reads as emotional.
func TestMessageTurn_AssistanceOverrideYieldsToEmotionalPrecedence(t *testing.T) {
	states := newTestStates(t, "file:engine_override?mode=memory&cache=shared")
	registry := newTestRegistry(t, "file:engine_override_reg?mode=memory&cache=shared")
	eng := engine.New(states, registry, nil, nil, nil)

	breakdown := router.Breakdown
	result, err := eng.MessageTurn(context.Background(), "sess-5", "תפתור את התרגיל", "אני כועס על זה", router.Practice, &breakdown, "")
	require.NoError(t, err)
	require.Equal(t, router.EmotionalSupport, result.StrategyUsed)
}

// TestMessageTurn_ProviderErrorSubstitutesFallbackAndRecordsAttempt
// verifies spec §7's "on any fallback... carries the synthetic label
// error_fallback": a failed generate_text call never surfaces to the
// caller as an error, and the turn is still recorded.
func TestMessageTurn_ProviderErrorSubstitutesFallbackAndRecordsAttempt(t *testing.T) {
	states := newTestStates(t, "file:engine_fallback?mode=memory&cache=shared")
	recStore, err := provider.OpenSQLiteRecordStore("file:engine_fallback_reg?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { recStore.Close() })
	var key [crypto.KeySize]byte
	svc := crypto.NewService(&key)
	registry := provider.NewRegistry(recStore, svc, nil)
	require.NoError(t, registry.AddCredential(context.Background(), "mock", "k1"))

	p, ok := registry.Get("mock")
	require.True(t, ok)
	mockProvider, ok := p.(*mock.Provider)
	require.True(t, ok)
	mockProvider.FailNext(core.NewProviderError("mock", core.ProviderErrUpstream, errUpstream))

	eng := engine.New(states, registry, nil, nil, nil)

	result, err := eng.MessageTurn(context.Background(), "sess-6", "תפתור את התרגיל", "לא מבין", router.Practice, nil, "")
	require.NoError(t, err)
	require.Equal(t, router.ErrorFallback, result.StrategyUsed)
	require.Equal(t, 1, result.AttemptCount)
	require.NotEmpty(t, result.ResponseText)
}

// TestMessageTurn_SameSessionIDIsSerialized exercises the §5 per-session
// lock indirectly: two sequential turns against the same session see a
// monotonically increasing attempt_count, which would not hold if the
// second turn's BeginTurn/Record interleaved with the first's.
func TestMessageTurn_SameSessionIDIsSerialized(t *testing.T) {
	states := newTestStates(t, "file:engine_serial?mode=memory&cache=shared")
	registry := newTestRegistry(t, "file:engine_serial_reg?mode=memory&cache=shared")
	eng := engine.New(states, registry, nil, nil, nil)

	ctx := context.Background()
	first, err := eng.MessageTurn(ctx, "sess-7", "תפתור את התרגיל", "לא מבין", router.Practice, nil, "")
	require.NoError(t, err)
	second, err := eng.MessageTurn(ctx, "sess-7", "תפתור את התרגיל", "לא מבין", router.Practice, nil, "")
	require.NoError(t, err)
	require.Equal(t, first.AttemptCount+1, second.AttemptCount)
}
