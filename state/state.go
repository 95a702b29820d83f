// Package state implements the durable per-session conversation record
// (C4): the set of strategies failed so far, the comprehension
// trajectory, the current instruction/strategy, and the attempt counter,
// backed by a sqlite-backed Store.
package state

import (
	"time"

	"github.com/learnobot/mediation/classifier"
	"github.com/learnobot/mediation/router"
)

// Conversation is one session's mediation state (spec §3). Fields mirror
// the spec's ConversationState data model exactly.
type Conversation struct {
	SessionID            string
	FailedStrategies     []router.Strategy // insertion order preserved for audit (I1: never contains TeacherEscalation)
	ComprehensionHistory []classifier.Label
	LastComprehension     classifier.Label
	CurrentStrategy       *router.Strategy
	CurrentInstruction    string
	AttemptCount          int
	CreatedAt, UpdatedAt  time.Time
}

func newConversation(sessionID string, now time.Time) *Conversation {
	return &Conversation{
		SessionID:         sessionID,
		LastComprehension: classifier.Initial,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// hasFailed reports whether strategy is already a member of
// FailedStrategies.
func (c *Conversation) hasFailed(s router.Strategy) bool {
	for _, f := range c.FailedStrategies {
		if f == s {
			return true
		}
	}
	return false
}

// FailedSet converts FailedStrategies into the membership set router.Route
// consumes.
func (c *Conversation) FailedSet() router.FailedSet {
	set := make(router.FailedSet, len(c.FailedStrategies))
	for _, f := range c.FailedStrategies {
		set[f] = true
	}
	return set
}

// isSyntheticOutcome reports whether s is one of the turn-outcome labels
// that are never routing targets and must never enter FailedStrategies,
// even transiently (spec §3 "Strategy" data model, second sentence).
func isSyntheticOutcome(s router.Strategy) bool {
	switch s {
	case "initial_greeting", "open_question", "error_fallback", "service_fallback":
		return true
	default:
		return false
	}
}

// beginTurn applies invariant I3: if the instruction changed since the
// last turn on this session, the conversation resets before the new
// instruction is recorded. A brand-new conversation (empty
// CurrentInstruction) is treated as "changed" so the first turn always
// sets CurrentInstruction without needing a separate code path.
func (c *Conversation) beginTurn(instruction string, now time.Time) {
	if c.CurrentInstruction != instruction {
		c.FailedStrategies = nil
		c.CurrentStrategy = nil
		c.AttemptCount = 0
		c.ComprehensionHistory = nil
		c.LastComprehension = classifier.Initial
		c.CurrentInstruction = instruction
	}
	c.UpdatedAt = now
}

// record applies the per-turn bookkeeping from spec §4.4: append to the
// comprehension trajectory, update last-seen comprehension and strategy,
// increment the attempt counter, and — only when the learner was
// confused by a real pedagogical strategy — add that strategy to the
// failed set.
func (c *Conversation) record(strategy router.Strategy, comprehension classifier.Label, now time.Time) {
	c.ComprehensionHistory = append(c.ComprehensionHistory, comprehension)
	c.LastComprehension = comprehension
	strategyCopy := strategy
	c.CurrentStrategy = &strategyCopy
	c.AttemptCount = len(c.ComprehensionHistory)

	if comprehension == classifier.Confused && !isSyntheticOutcome(strategy) && strategy != router.TeacherEscalation && !c.hasFailed(strategy) {
		c.FailedStrategies = append(c.FailedStrategies, strategy)
	}
	c.UpdatedAt = now
}
