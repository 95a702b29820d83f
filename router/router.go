// Package router implements the deterministic strategy-selection state
// machine: given a comprehension label, the set of strategies already
// failed this session, the session mode, and an optional assistance-type
// override, it picks the next pedagogical strategy.
package router

import "github.com/learnobot/mediation/classifier"

// Strategy is the closed, escalation-ordered enumeration of pedagogical
// strategies, plus the terminal teacher_escalation.
type Strategy string

const (
	EmotionalSupport    Strategy = "emotional_support"
	HighlightKeywords   Strategy = "highlight_keywords"
	GuidedReading       Strategy = "guided_reading"
	ProvideExample      Strategy = "provide_example"
	BreakdownSteps      Strategy = "breakdown_steps"
	DetailedExplanation Strategy = "detailed_explanation"
	TeacherEscalation   Strategy = "teacher_escalation"
)

// Synthetic outcomes are never routing targets and can never appear in a
// session's failed-strategies set (spec §3's Strategy data model); they
// only ever flow into state.Store.Record as the recorded outcome of a
// turn the engine short-circuited before reaching the hierarchy.
const (
	InitialGreeting Strategy = "initial_greeting"
	OpenQuestion    Strategy = "open_question"
	ErrorFallback   Strategy = "error_fallback"
	ServiceFallback Strategy = "service_fallback"
)

// hierarchy is the fixed escalation order walked by the hierarchy-scan
// step. teacher_escalation is deliberately absent: it is a terminal
// fallback, never a hierarchy member that can itself be "failed".
var hierarchy = []Strategy{
	EmotionalSupport,
	HighlightKeywords,
	GuidedReading,
	ProvideExample,
	BreakdownSteps,
	DetailedExplanation,
}

// Mode is the closed session-mode enumeration.
type Mode string

const (
	Practice Mode = "practice"
	Test     Mode = "test"
)

// testModeFailureCeiling is the number of distinct failed strategies that,
// in Test mode, forces escalation regardless of what remains unfailed.
const testModeFailureCeiling = 3

// AssistanceType is the closed, optional per-turn override enumeration.
type AssistanceType string

const (
	Explain   AssistanceType = "explain"
	Breakdown AssistanceType = "breakdown"
	Example   AssistanceType = "example"
)

// assistanceOverrides maps an explicit assistance-type request onto its
// fixed target strategy.
var assistanceOverrides = map[AssistanceType]Strategy{
	Explain:   DetailedExplanation,
	Breakdown: BreakdownSteps,
	Example:   ProvideExample,
}

// FailedSet tracks strategies already attempted and failed this session.
// Membership only; insertion order is the caller's (state package)
// concern, not the router's.
type FailedSet map[Strategy]bool

// Route picks the next strategy for a turn. It is a pure function: the
// same inputs always produce the same output, and it cannot fail.
//
// Decision order (first rule that applies wins):
//  1. Emotional short-circuit — always wins, even over an assistance-type
//     override: emotional first-aid is never suppressed.
//  2. Assistance-type override, via the fixed table.
//  3. Test-mode ceiling: 3 or more distinct failed strategies forces
//     escalation.
//  4. Hierarchy scan: first strategy in escalation order not yet failed.
//  5. Terminal escalation, if every strategy in the hierarchy has failed.
func Route(comprehension classifier.Label, failed FailedSet, mode Mode, assistanceType *AssistanceType) Strategy {
	if comprehension == classifier.Emotional {
		return EmotionalSupport
	}

	if assistanceType != nil {
		if target, ok := assistanceOverrides[*assistanceType]; ok {
			return target
		}
	}

	if mode == Test && countFailed(failed) >= testModeFailureCeiling {
		return TeacherEscalation
	}

	for _, s := range hierarchy {
		if !failed[s] {
			return s
		}
	}

	return TeacherEscalation
}

func countFailed(failed FailedSet) int {
	return len(failed)
}
