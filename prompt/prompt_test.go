package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnobot/mediation/router"
)

func TestRender_SubstitutesInstruction(t *testing.T) {
	got, err := Render(router.GuidedReading, Variables{Instruction: "קרא את הטקסט"}, router.Practice, "")
	require.NoError(t, err)
	assert.Contains(t, got, "קרא את הטקסט")
	assert.NotContains(t, got, "{instruction}")
}

func TestRender_ProvideExampleRequiresConcept(t *testing.T) {
	_, err := Render(router.ProvideExample, Variables{Instruction: "חשב"}, router.Practice, "")
	require.Error(t, err)
	var templateErr *TemplateError
	require.ErrorAs(t, err, &templateErr)
	assert.Equal(t, "concept", templateErr.Variable)
}

func TestRender_ProvideExampleWithConcept(t *testing.T) {
	got, err := Render(router.ProvideExample, Variables{Instruction: "חשב", Concept: "חשבון"}, router.Practice, "")
	require.NoError(t, err)
	assert.Contains(t, got, "חשבון")
}

func TestRender_UnknownStrategy(t *testing.T) {
	_, err := Render(router.TeacherEscalation, Variables{Instruction: "x"}, router.Practice, "")
	require.Error(t, err)
}

func TestRender_SystemPrefixPrependedWithBlankLine(t *testing.T) {
	got, err := Render(router.GuidedReading, Variables{Instruction: "x"}, router.Practice, "SYSTEM")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "SYSTEM\n\n"))
}

func TestFallbackFor_KnownStrategy(t *testing.T) {
	got := FallbackFor(router.BreakdownSteps)
	assert.True(t, strings.HasSuffix(got, "😊"))
	assert.Contains(t, got, "נפרק את המשימה")
}

func TestFallbackFor_UnknownStrategyUsesDefault(t *testing.T) {
	got := FallbackFor(router.TeacherEscalation)
	assert.Equal(t, defaultFallback, got)
}

func TestGreetingAndEscalationAreFixed(t *testing.T) {
	assert.Equal(t, fixedGreeting, Greeting())
	assert.Equal(t, fixedEscalation, Escalation())
}

func TestConceptFor_MatchesKeyword(t *testing.T) {
	assert.Equal(t, "חשבון במתמטיקה", ConceptFor("בצע חישוב של הסכום"))
}

func TestConceptFor_DefaultsWhenNoMatch(t *testing.T) {
	assert.Equal(t, defaultConcept, ConceptFor("עשה משהו אחר לגמרי"))
}

func TestDirectEmotionalResponse_Match(t *testing.T) {
	resp, ok := DirectEmotionalResponse("אני עצוב מאוד היום")
	require.True(t, ok)
	assert.Contains(t, resp, "💙")
}

func TestDirectEmotionalResponse_NoMatch(t *testing.T) {
	_, ok := DirectEmotionalResponse("בוא נלמד משהו חדש")
	assert.False(t, ok)
}
