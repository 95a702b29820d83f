package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/learnobot/mediation/classifier"
)

func assistance(a AssistanceType) *AssistanceType { return &a }

func TestRoute_EmotionalAlwaysWins(t *testing.T) {
	explain := assistance(Explain)
	got := Route(classifier.Emotional, FailedSet{}, Practice, explain)
	assert.Equal(t, EmotionalSupport, got, "emotional short-circuit must precede the assistance-type override")
}

func TestRoute_AssistanceOverride(t *testing.T) {
	cases := map[AssistanceType]Strategy{
		Explain:   DetailedExplanation,
		Breakdown: BreakdownSteps,
		Example:   ProvideExample,
	}
	for at, want := range cases {
		at := at
		want := want
		t.Run(string(at), func(t *testing.T) {
			got := Route(classifier.Confused, FailedSet{}, Practice, assistance(at))
			assert.Equal(t, want, got)
		})
	}
}

func TestRoute_TestModeCeiling(t *testing.T) {
	failed := FailedSet{EmotionalSupport: true, HighlightKeywords: true, GuidedReading: true}
	got := Route(classifier.Confused, failed, Test, nil)
	assert.Equal(t, TeacherEscalation, got)
}

func TestRoute_TestModeBelowCeilingContinuesHierarchy(t *testing.T) {
	failed := FailedSet{EmotionalSupport: true, HighlightKeywords: true}
	got := Route(classifier.Confused, failed, Test, nil)
	assert.Equal(t, GuidedReading, got)
}

func TestRoute_PracticeModeIgnoresCeiling(t *testing.T) {
	failed := FailedSet{EmotionalSupport: true, HighlightKeywords: true, GuidedReading: true}
	got := Route(classifier.Confused, failed, Practice, nil)
	assert.Equal(t, ProvideExample, got)
}

func TestRoute_HierarchyScanSkipsFailed(t *testing.T) {
	failed := FailedSet{EmotionalSupport: true, HighlightKeywords: true, GuidedReading: true, ProvideExample: true}
	got := Route(classifier.Confused, failed, Practice, nil)
	assert.Equal(t, BreakdownSteps, got)
}

func TestRoute_AllFailedEscalates(t *testing.T) {
	failed := FailedSet{
		EmotionalSupport:    true,
		HighlightKeywords:   true,
		GuidedReading:       true,
		ProvideExample:      true,
		BreakdownSteps:      true,
		DetailedExplanation: true,
	}
	got := Route(classifier.Confused, failed, Practice, nil)
	assert.Equal(t, TeacherEscalation, got)
}

func TestRoute_NoOverrideNoFailuresStartsAtTop(t *testing.T) {
	got := Route(classifier.Initial, FailedSet{}, Practice, nil)
	assert.Equal(t, EmotionalSupport, got)
}
