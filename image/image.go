// Package image implements ImageIngestPipeline (C8): turning a learner's
// photographed homework into either a vision-model description or,
// failing that, OCR-extracted text that re-enters MediationEngine as a
// regular instruction.
package image

import (
	"context"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/learnobot/mediation/classifier"
	"github.com/learnobot/mediation/core"
	"github.com/learnobot/mediation/engine"
	"github.com/learnobot/mediation/internal/ocr"
	"github.com/learnobot/mediation/provider"
	"github.com/learnobot/mediation/router"
)

// fixedUnreadableImage is returned when neither vision nor OCR recovered
// anything usable from the learner's photo.
const fixedUnreadableImage = "לא הצלחתי לקרוא את התמונה. נסה תמונה בהירה וברורה יותר, או כתוב את השאלה בטקסט. 📸"

// visionPromptTemplate is instruction-agnostic: it asks the model to read
// whatever task text appears in the image and offer the learner a choice
// of how to proceed, since at this point the engine has no instruction
// text of its own yet.
const visionPromptTemplate = `הסתכל בתמונה הזו של משימה או שיעורי בית.
קרא את הטקסט הרלוונטי בתמונה ותאר בקצרה מה המשימה מבקשת.
לאחר מכן שאל את התלמיד איך הוא/היא רוצה שתעזור: הסבר מפורט, פירוק לשלבים, או דוגמה.
השתמש בעברית ברורה וידידותית.`

// Result is the image_turn output contract from spec §6:
// TurnResult & { image_refs, method }.
type Result struct {
	engine.TurnResult
	ImageRefs []string
	Method    string // "vision" or "ocr"
}

// Pipeline wires the provider registry, the mediation engine (for OCR
// re-entry), and the OCR collaborator together.
type Pipeline struct {
	registry *provider.Registry
	engine   *engine.Engine
	ocr      *ocr.Extractor
	logger   core.Logger

	visionDeadline time.Duration
}

// New constructs a Pipeline. eng is used to re-enter MessageTurn with
// OCR-extracted text (spec §4.8 step 3); extractor performs the OCR
// fallback itself.
func New(registry *provider.Registry, eng *engine.Engine, extractor *ocr.Extractor, visionDeadline time.Duration, logger core.Logger) *Pipeline {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("image")
	}
	if visionDeadline <= 0 {
		visionDeadline = 180 * time.Second
	}
	return &Pipeline{registry: registry, engine: eng, ocr: extractor, logger: logger, visionDeadline: visionDeadline}
}

// ImageTurn implements spec §4.8's four-step procedure. images must be
// non-empty; caption is an optional companion text description and is
// currently informational only (the vision prompt itself is
// instruction-agnostic per spec).
func (p *Pipeline) ImageTurn(ctx context.Context, sessionID string, images [][]byte, caption string, mode router.Mode, assistanceType *router.AssistanceType, preferredProvider string) (*Result, error) {
	refs := imageRefs(images)

	// Step 1: resolve provider exactly as MessageTurn does.
	prov, err := provider.Resolve(p.registry, preferredProvider, p.logger)
	if err == nil && provider.SupportsVision(prov) {
		if text, visionErr := p.tryVision(ctx, prov, images); visionErr == nil {
			return &Result{
				TurnResult: engine.TurnResult{
					ResponseText:       text,
					StrategyUsed:       router.DetailedExplanation,
					ComprehensionLevel: classifier.Initial,
					AttemptCount:       0,
				},
				ImageRefs: refs,
				Method:    "vision",
			}, nil
		} else {
			p.logger.Warn("vision processing failed, falling back to OCR", map[string]interface{}{"session_id": sessionID, "error": visionErr.Error()})
		}
	}

	// Step 3: OCR fallback, then re-enter MediationEngine with the
	// extracted text as the instruction.
	return p.ocrFallback(ctx, sessionID, images, mode, assistanceType, preferredProvider, refs)
}

// tryVision implements step 2: process jointly when the provider supports
// multiple images, else the first image only (logging the degradation).
func (p *Pipeline) tryVision(ctx context.Context, prov provider.ModelProvider, images [][]byte) (string, error) {
	visionCtx, cancel := context.WithTimeout(ctx, p.visionDeadline)
	defer cancel()

	opts := &core.AIOptions{Temperature: 0.7, MaxTokens: 768, Timeout: p.visionDeadline}

	if len(images) > 1 {
		if multi, ok := prov.(core.MultiImageCapable); ok {
			return multi.ProcessImages(visionCtx, images, visionPromptTemplate, opts)
		}
		p.logger.Warn("provider lacks multi-image support, using first image only", map[string]interface{}{"provider": prov.Info().Name, "image_count": len(images)})
	}

	single, ok := prov.(core.VisionCapable)
	if !ok {
		return "", core.ErrNoVisionSupport
	}
	return single.ProcessImage(visionCtx, images[0], visionPromptTemplate, opts)
}

func (p *Pipeline) ocrFallback(ctx context.Context, sessionID string, images [][]byte, mode router.Mode, assistanceType *router.AssistanceType, preferredProvider string, refs []string) (*Result, error) {
	if p.ocr == nil {
		return unreadableResult(refs), nil
	}

	text, err := p.ocr.ExtractText(ctx, images[0])
	if err != nil || text == "" {
		if err != nil {
			p.logger.Warn("ocr extraction failed", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		}
		return unreadableResult(refs), nil
	}

	turn, turnErr := p.engine.MessageTurn(ctx, sessionID, text, text, mode, assistanceType, preferredProvider)
	if turnErr != nil {
		return nil, fmt.Errorf("ocr re-entry: %w", turnErr)
	}
	return &Result{TurnResult: *turn, ImageRefs: refs, Method: "ocr"}, nil
}

func unreadableResult(refs []string) *Result {
	return &Result{
		TurnResult: engine.TurnResult{
			ResponseText:       fixedUnreadableImage,
			StrategyUsed:       router.ErrorFallback,
			ComprehensionLevel: classifier.Initial,
			AttemptCount:       0,
		},
		ImageRefs: refs,
		Method:    "ocr",
	}
}

// imageRefs computes a stable reference string per image (its sniffed
// MIME type, position in the batch and byte length) so callers can correlate
// a TurnResult back to the images that produced it without the pipeline
// owning a blob store.
func imageRefs(images [][]byte) []string {
	refs := make([]string, len(images))
	for i, data := range images {
		mt := mimetype.Detect(data)
		refs[i] = fmt.Sprintf("%s;%d;%d", mt.String(), i, len(data))
	}
	return refs
}
