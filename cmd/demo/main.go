// Command demo wires every core component together end to end: provider
// registry bootstrap, MediationEngine, ImageIngestPipeline, and the
// escalation sweep. It drives a couple of turns against the mock provider
// family so the wiring can be sanity-checked without a live credential.
// HTTP transport, authentication, and real notification delivery are
// explicitly out of scope (spec §1) and are not part of this binary.
package main

import (
	"context"
	"log"
	"time"

	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/engine"
	img "github.com/learnobot/mediation/image"
	"github.com/learnobot/mediation/internal/crypto"
	"github.com/learnobot/mediation/internal/escalation"
	"github.com/learnobot/mediation/internal/ocr"
	"github.com/learnobot/mediation/provider"
	_ "github.com/learnobot/mediation/provider/anthropic"
	_ "github.com/learnobot/mediation/provider/bedrock"
	_ "github.com/learnobot/mediation/provider/gemini"
	_ "github.com/learnobot/mediation/provider/mock"
	_ "github.com/learnobot/mediation/provider/ollama"
	_ "github.com/learnobot/mediation/provider/openai"
	"github.com/learnobot/mediation/router"
	"github.com/learnobot/mediation/state"
)

// loggingNotificationSink stands in for the real delivery channel (out of
// scope per spec §1's Non-goals) by logging what would have been sent.
type loggingNotificationSink struct {
	logger core.Logger
}

func (s *loggingNotificationSink) EmitTeacherNotification(_ context.Context, n escalation.Notification) error {
	s.logger.Info("teacher notification", map[string]interface{}{
		"notification_id": n.ID,
		"session_id": n.SessionID,
		"teacher_id": n.TeacherID,
		"type":       n.Type,
		"priority":   n.Priority,
		"title":      n.Title,
	})
	return nil
}

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()

	cryptoSvc, err := crypto.LoadFromFile(cfg.Providers.EncryptionKeyPath)
	if err != nil {
		log.Fatalf("crypto: %v", err)
	}

	states, err := state.OpenSQLiteStore(cfg.StateStore.DSN, logger)
	if err != nil {
		log.Fatalf("state store: %v", err)
	}
	defer states.Close()

	recordStore, err := provider.OpenSQLiteRecordStore(cfg.StateStore.DSN)
	if err != nil {
		log.Fatalf("provider store: %v", err)
	}
	defer recordStore.Close()

	registry := provider.NewRegistry(recordStore, cryptoSvc, logger)

	ctx := context.Background()
	if err := registry.StartupLoad(ctx); err != nil {
		log.Fatalf("provider startup load: %v", err)
	}
	if err := registry.BootstrapFromConfig(ctx, cfg.Providers.Seeds); err != nil {
		log.Fatalf("provider bootstrap: %v", err)
	}
	views, err := registry.List(ctx)
	if err != nil {
		log.Fatalf("provider list: %v", err)
	}
	if len(views) == 0 {
		// No real credential configured: seed the deterministic mock so
		// the demo still produces a response.
		if err := registry.AddCredential(ctx, "mock", "demo-key"); err != nil {
			log.Fatalf("mock credential: %v", err)
		}
	}

	modes, err := engine.OpenSQLiteModeOverrideStore(cfg.StateStore.DSN, logger)
	if err != nil {
		log.Fatalf("mode override store: %v", err)
	}
	defer modes.Close()

	eng := engine.New(states, registry, modes, cfg, logger)

	extractor := ocr.New(logger)
	pipeline := img.New(registry, eng, extractor, cfg.Concurrency.VisionTurnDeadline, logger)

	escalationStore, err := escalation.OpenSQLiteStore(cfg.StateStore.DSN)
	if err != nil {
		log.Fatalf("escalation store: %v", err)
	}
	defer escalationStore.Close()

	sweeper := escalation.New(escalationStore, &loggingNotificationSink{logger: logger}, cfg.Escalation.InactivityThreshold, cfg.Escalation.Schedule, logger)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("escalation sweeper: %v", err)
	}
	defer sweeper.Stop()

	sessionID := "demo-session"
	result, err := eng.MessageTurn(ctx, sessionID, "תרגיל בחיבור שברים", "לא מבין איך לחבר שברים", router.Practice, nil, "")
	if err != nil {
		log.Fatalf("message turn: %v", err)
	}
	log.Printf("strategy=%s comprehension=%s attempt=%d\n%s", result.StrategyUsed, result.ComprehensionLevel, result.AttemptCount, result.ResponseText)

	// A teacher is assigned to this learner out of band (out of scope per
	// spec §1); tell the sweep so an unanswered turn surfaces a
	// notification after the inactivity window.
	if err := sweeper.Touch(ctx, sessionID, "teacher-demo", time.Now()); err != nil {
		log.Printf("escalation touch failed: %v", err)
	}

	imageResult, err := pipeline.ImageTurn(ctx, sessionID, [][]byte{[]byte("not a real image, just bytes for the demo")}, "", router.Practice, nil, "")
	if err != nil {
		log.Fatalf("image turn: %v", err)
	}
	log.Printf("image method=%s refs=%v\n%s", imageResult.Method, imageResult.ImageRefs, imageResult.ResponseText)
}
