// Package engine implements the MediationEngine orchestrator (C7): the
// per-turn procedure that classifies a learner utterance, routes it to a
// pedagogical strategy, renders and generates a response, and records the
// outcome — plus the per-session lock pool that serializes turns within a
// session while letting distinct sessions proceed concurrently (§5).
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/learnobot/mediation/classifier"
	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/prompt"
	"github.com/learnobot/mediation/provider"
	"github.com/learnobot/mediation/router"
	"github.com/learnobot/mediation/state"
)

// modeOverrideCacheTTL bounds how stale a cached mode override may be.
// Overrides are only ever written through an admin operation (spec §6
// set_mode_prompt_override), so a short TTL trades a bounded staleness
// window for sparing the durable store a read on every single turn.
const modeOverrideCacheTTL = 30 * time.Second

// TurnResult is the C7 output contract (spec §6 TurnResult).
type TurnResult struct {
	ResponseText       string
	StrategyUsed       router.Strategy
	ComprehensionLevel classifier.Label
	AttemptCount       int
}

// Engine is the MediationEngine. It holds no per-turn state itself: all
// conversation state lives in the injected state.Store, and the provider
// map lives behind the injected *provider.Registry — per spec §9 "the
// provider map ... and the encryption key are the only global mutable
// state", neither of which Engine owns, both of which it is handed a
// reference to at construction.
type Engine struct {
	states   state.Store
	registry *provider.Registry
	modes    ModeOverrideStore
	logger   core.Logger

	locks     *sessionLocks
	breakers  *breakerPool
	modeCache *core.MemoryStore

	textDeadline   time.Duration
	visionDeadline time.Duration
}

// New constructs an Engine. modes may be nil, in which case no mode-level
// overrides are ever applied (spec §4.7 step 8 is then a no-op).
func New(states state.Store, registry *provider.Registry, modes ModeOverrideStore, cfg *core.Config, logger core.Logger) *Engine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("engine")
	}

	concurrency := core.ConcurrencyConfig{
		SessionLockTimeout: 30 * time.Second,
		TextTurnDeadline:   180 * time.Second,
		VisionTurnDeadline: 180 * time.Second,
	}
	cbConfig := core.CircuitBreakerConfig{Enabled: true, Threshold: 5, Timeout: 30 * time.Second, HalfOpenRequests: 3}
	if cfg != nil {
		concurrency = cfg.Concurrency
		cbConfig = cfg.Resilience.CircuitBreaker
	}

	modeCache := core.NewMemoryStore()
	modeCache.SetLogger(logger)

	return &Engine{
		states:         states,
		registry:       registry,
		modes:          modes,
		logger:         logger,
		locks:          newSessionLocks(concurrency.SessionLockTimeout),
		breakers:       newBreakerPool(cbConfig, logger),
		modeCache:      modeCache,
		textDeadline:   concurrency.TextTurnDeadline,
		visionDeadline: concurrency.VisionTurnDeadline,
	}
}

// MessageTurn implements spec §4.7's eleven-step per-turn procedure.
func (e *Engine) MessageTurn(ctx context.Context, sessionID, instruction, utterance string, mode router.Mode, assistanceType *router.AssistanceType, preferredProvider string) (*TurnResult, error) {
	release, err := e.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Step 1: load-or-create + begin_turn (may reset per I3). A store
	// failure here is the one case spec §7 has the engine surface to the
	// caller — but per "best-effort in-memory response", the learner
	// still gets a degraded, well-formed result alongside the error.
	conv, err := e.states.BeginTurn(ctx, sessionID, instruction)
	if err != nil {
		return serviceFallbackResult(), fmt.Errorf("%w: %v", core.ErrStateStore, err)
	}

	// Step 2: classify.
	comprehension := classifier.Classify(utterance)

	// Step 3: greeting shortcut — no model call, no recorded attempt.
	// classifier.Initial is only ever returned for an empty utterance or
	// one that matches the greeting table (classifier.Classify's first
	// rule), so the comprehension label alone is the full condition.
	if comprehension == classifier.Initial {
		return &TurnResult{
			ResponseText:       prompt.Greeting(),
			StrategyUsed:       router.InitialGreeting,
			ComprehensionLevel: classifier.Initial,
			AttemptCount:       conv.AttemptCount,
		}, nil
	}

	// Step 4: route via the hierarchy using the session's failed set.
	strategy := router.Route(comprehension, conv.FailedSet(), mode, assistanceType)

	// Step 5: terminal escalation.
	if strategy == router.TeacherEscalation {
		return e.recordAndReturn(ctx, sessionID, strategy, comprehension, prompt.Escalation())
	}

	// Step 6: emotional fast path — bypasses model generation entirely.
	if strategy == router.EmotionalSupport {
		if text, ok := prompt.DirectEmotionalResponse(utterance); ok {
			return e.recordAndReturn(ctx, sessionID, strategy, comprehension, text)
		}
	}

	// Step 7: resolve provider, then render the strategy template.
	p, provErr := provider.Resolve(e.registry, preferredProvider, e.logger)

	vars := prompt.Variables{Instruction: instruction}
	if strategy == router.ProvideExample {
		vars.Concept = prompt.ConceptFor(instruction)
	}

	override := e.loadModeOverride(ctx, mode)
	systemPrefix := ""
	if override != nil {
		systemPrefix = override.SystemPrompt
	}

	rendered, renderErr := prompt.Render(strategy, vars, mode, systemPrefix)

	responseText := ""
	switch {
	case provErr != nil || renderErr != nil:
		// ProviderUnavailable or TemplateError: both recover the same way
		// — the engine substitutes the strategy's fixed fallback text and
		// records the synthetic error_fallback outcome (spec §7's "on any
		// fallback" clause covers every recovery path that reaches this
		// point, not only a failed generate_text call).
		responseText = prompt.FallbackFor(strategy)
		strategy = router.ErrorFallback
	default:
		// Step 8: mode-level overrides on top of generation options.
		opts := provider.GenerateOptions{Temperature: 0.7, MaxTokens: 512}
		if override != nil {
			if override.Temperature != nil {
				opts.Temperature = *override.Temperature
			}
			if override.MaxTokens != nil {
				opts.MaxTokens = *override.MaxTokens
			}
		}

		// Step 9: generate, with an immediate fallback on any error.
		text, genErr := e.generate(ctx, p, rendered, opts)
		if genErr != nil {
			e.logger.Warn("provider call failed, substituting fallback", map[string]interface{}{
				"session_id": sessionID,
				"strategy":   string(strategy),
				"error":      genErr.Error(),
			})
			responseText = prompt.FallbackFor(strategy)
			strategy = router.ErrorFallback
		} else {
			responseText = text
		}
	}

	return e.recordAndReturn(ctx, sessionID, strategy, comprehension, responseText)
}

// recordAndReturn applies step 10 (record unconditionally) then returns
// the step-11 result.
func (e *Engine) recordAndReturn(ctx context.Context, sessionID string, strategy router.Strategy, comprehension classifier.Label, responseText string) (*TurnResult, error) {
	conv, err := e.states.Record(ctx, sessionID, strategy, comprehension)
	if err != nil {
		return serviceFallbackResult(), fmt.Errorf("%w: %v", core.ErrStateStore, err)
	}
	return &TurnResult{
		ResponseText:       responseText,
		StrategyUsed:       strategy,
		ComprehensionLevel: comprehension,
		AttemptCount:       conv.AttemptCount,
	}, nil
}

// modeCacheMiss is stored in place of a real override to cache a
// confirmed absence, so a mode with no override configured doesn't hit
// the durable store on every turn either.
const modeCacheMiss = "-"

func (e *Engine) loadModeOverride(ctx context.Context, mode router.Mode) *ModeOverride {
	if e.modes == nil {
		return nil
	}

	cacheKey := "mode_override:" + string(mode)
	if cached, err := e.modeCache.Get(ctx, cacheKey); err == nil && cached != "" {
		if cached == modeCacheMiss {
			return nil
		}
		var override ModeOverride
		if err := json.Unmarshal([]byte(cached), &override); err == nil {
			return &override
		}
	}

	override, ok, err := e.modes.Latest(ctx, mode)
	if err != nil {
		e.logger.Warn("failed to load mode override, continuing without it", map[string]interface{}{"mode": string(mode), "error": err.Error()})
		return nil
	}
	if !ok {
		_ = e.modeCache.Set(ctx, cacheKey, modeCacheMiss, modeOverrideCacheTTL)
		return nil
	}

	if encoded, err := json.Marshal(override); err == nil {
		_ = e.modeCache.Set(ctx, cacheKey, string(encoded), modeOverrideCacheTTL)
	}
	return override
}

// generate calls the provider through its per-provider circuit breaker
// (see breaker.go) within the text-turn deadline.
func (e *Engine) generate(ctx context.Context, p provider.ModelProvider, renderedPrompt string, opts provider.GenerateOptions) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, e.textDeadline)
	defer cancel()
	opts.Timeout = e.textDeadline

	var response *core.AIResponse
	call := func() error {
		var err error
		response, err = provider.Generate(genCtx, p, renderedPrompt, opts)
		return err
	}

	var err error
	if cb := e.breakers.get(p.Info().Name); cb != nil {
		err = cb.Execute(genCtx, call)
	} else {
		err = call()
	}
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// serviceFallbackResult is the degraded TurnResult substituted when the
// durable store itself fails — the turn never got far enough to route or
// generate anything, matching the source service's outer exception
// handler (comprehension reset to initial, attempt_count zeroed).
func serviceFallbackResult() *TurnResult {
	return &TurnResult{
		ResponseText:       prompt.ServiceFallback(),
		StrategyUsed:       router.ServiceFallback,
		ComprehensionLevel: classifier.Initial,
		AttemptCount:       0,
	}
}

