// Package prompt holds the Hebrew-primary prompt catalog: fixed templates
// keyed by strategy, fallback texts, and the standing greeting/escalation
// messages. Rendering is pure and the catalog is immutable after package
// init, so the package-level catalog is safe to share across goroutines.
package prompt

import (
	"fmt"
	"strings"

	"github.com/learnobot/mediation/router"
)

// Variables is the bounded, typed set of substitutions a template may
// reference. Not every template uses Concept; provide_example is the only
// one that does.
type Variables struct {
	Instruction string
	Concept     string
}

// TemplateError is returned by Render when a template references a
// variable the caller did not supply, or when no template exists for the
// requested strategy.
type TemplateError struct {
	Strategy router.Strategy
	Variable string
}

func (e *TemplateError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("prompt: template for strategy %q requires variable %q", e.Strategy, e.Variable)
	}
	return fmt.Sprintf("prompt: no template registered for strategy %q", e.Strategy)
}

// template pairs the raw text with the variable names it actually
// references, so Render can validate before substituting.
type template struct {
	text      string
	variables []string
}

// catalog is the fixed, compile-time set of strategy templates, carried
// over verbatim from the source mediation chain's strategy_templates map.
var catalog = map[router.Strategy]template{
	router.EmotionalSupport: {
		variables: []string{"instruction"},
		text: `התלמיד אמר: {instruction}

תגיב בעברית בחמימות ותמיכה. תגיב לרגש של התלמיד, לא למשימה.
השתמש במילים כמו: "אני כאן בשבילך", "אני מבין", "בוא ננסה יחד", "אל תדאג", "אני אעזור לך".
תגיב בשפה חמה ומעודדת, 1-2 משפטים קצרים.
התאם את התגובה למה שהתלמיד אמר - אם התלמיד עצוב, תגיב בהבנה. אם התלמיד כועס, תגיב בסבלנות.
השתמש בשפה ניטרלית או התאם למין שהתלמיד הזכיר.

תגובה:`,
	},
	router.HighlightKeywords: {
		variables: []string{"instruction"},
		text: `בוא נסתכל על המילים החשובות בהוראה: {instruction}

זהה 2-3 מילות מפתח חשובות בהוראה.
הסבר מה כל מילה אומרת במילים פשוטות.
השתמש במילים כמו: "המילה החשובה היא", "זה אומר", "הכוונה היא".
השתמש בשפה ניטרלית או התאם למין שהתלמיד הזכיר.

תגובה:`,
	},
	router.GuidedReading: {
		variables: []string{"instruction"},
		text: `בוא נקרא את ההוראה יחד: {instruction}

קרא את ההוראה מילה אחר מילה.
שאל את התלמיד מה התלמיד חושב שמבקשים לעשות.
השתמש במילים כמו: "בוא נקרא יחד", "מה אתה/את חושב/ת", "מה מבקשים".
השתמש בשפה ניטרלית או התאם למין שהתלמיד הזכיר.

תגובה:`,
	},
	router.ProvideExample: {
		variables: []string{"instruction", "concept"},
		text: `הנה דוגמה פשוטה להבנת ההוראה: {instruction}

תן דוגמה קונקרטית מהחיים בנושא {concept} שמסבירה את ההוראה.
השתמש במילים כמו: "לדוגמה", "זה כמו", "תחשוב על זה כך".
הדוגמה צריכה להיות פשוטה ורלוונטית לתלמיד.
השתמש בשפה ניטרלית או התאם למין שהתלמיד הזכיר.

תגובה:`,
	},
	router.BreakdownSteps: {
		variables: []string{"instruction"},
		text: `בוא נפרק את ההוראה לשלבים פשוטים: {instruction}

פרק את ההוראה ל-3-4 שלבים פשוטים וברורים.
כל שלב צריך להיות קצר וקל להבנה.
השתמש במילים כמו: "שלב ראשון", "אחר כך", "בסוף".
השתמש בשפה ניטרלית או התאם למין שהתלמיד הזכיר.

תגובה:`,
	},
	router.DetailedExplanation: {
		variables: []string{"instruction"},
		text: `בוא נבין יחד מה ההוראה אומרת: {instruction}

הסבר את ההוראה במילים פשוטות וברורות.
כלול: מה צריך לעשות, איך לעשות את זה, איך לדעת שסיימת.
השתמש במילים כמו: "המטרה היא", "איך עושים את זה", "כשתסיים".
השתמש בשפה ניטרלית או התאם למין שהתלמיד הזכיר.

תגובה:`,
	},
}

// fallbacks is the fixed one-line response substituted when generation
// fails for a strategy that would otherwise need a model call.
var fallbacks = map[router.Strategy]string{
	router.EmotionalSupport:    "אני מבין שאתה מרגיש עצוב. זה בסדר להרגיש כך. אני כאן בשבילך. איך אני יכול לעזור לך להרגיש יותר טוב? 💙",
	router.HighlightKeywords:   "בוא נסתכל על המילים החשובות בהוראה. איזו מילה נראית לך הכי חשובה?",
	router.GuidedReading:       "בוא נקרא שוב את ההוראה בזהירות, מילה אחר מילה.",
	router.ProvideExample:      "אני אתן לך דוגמה שתעזור להבין את המשימה.",
	router.BreakdownSteps:      "בוא נפרק את המשימה לחלקים קטנים וקלים.",
	router.DetailedExplanation: "אני אסביר לך במילים פשוטות מה צריך לעשות.",
}

const defaultFallback = "אני כאן לעזור לך. איך אני יכול לעזור?" + " 😊"

const fixedGreeting = "היי, אני לרנובוט, ואני פה כדי לעזור לך להבין את המשימות שלך. מה שלומך? 😊"

const fixedEscalation = "נראה לי שהמשימה הזו מורכבת. " +
	"בוא נפנה למורה שלך לעזרה נוספת. " +
	"אתה יכול ללחוץ על כפתור 'קריאה למורה' 👩‍🏫"

// fixedServiceFallback is the degraded response substituted when the
// turn's own durable-store call fails outright — distinct from
// error_fallback, which covers a resolved strategy whose generation
// step failed. Carried verbatim from the source service's outer
// exception handler.
const fixedServiceFallback = "אני כאן לעזור לך! 😊 בוא ננסה שוב - איך אני יכול לעזור לך עם המשימה?"

// Render produces the final prompt text for a (strategy, mode) pair with
// the given bound variables. system_prefix, if non-empty, is prepended
// verbatim followed by two newlines. mode is accepted for forward
// compatibility with per-mode template variants; the catalog currently
// has a single Hebrew template set shared across modes.
func Render(strategy router.Strategy, vars Variables, mode router.Mode, systemPrefix string) (string, error) {
	tmpl, ok := catalog[strategy]
	if !ok {
		return "", &TemplateError{Strategy: strategy}
	}

	body := tmpl.text
	for _, name := range tmpl.variables {
		placeholder := "{" + name + "}"
		value, err := resolveVariable(name, vars)
		if err != nil {
			return "", &TemplateError{Strategy: strategy, Variable: name}
		}
		body = strings.ReplaceAll(body, placeholder, value)
	}

	if systemPrefix != "" {
		return systemPrefix + "\n\n" + body, nil
	}
	return body, nil
}

func resolveVariable(name string, vars Variables) (string, error) {
	switch name {
	case "instruction":
		return vars.Instruction, nil
	case "concept":
		if vars.Concept == "" {
			return "", fmt.Errorf("concept required")
		}
		return vars.Concept, nil
	default:
		return "", fmt.Errorf("unknown variable %q", name)
	}
}

// FallbackFor returns the short fixed Hebrew response used when
// generation fails for the given strategy.
func FallbackFor(strategy router.Strategy) string {
	if text, ok := fallbacks[strategy]; ok {
		return text + " 😊"
	}
	return defaultFallback
}

// Greeting returns the fixed initial greeting shown on a session's first
// turn.
func Greeting() string {
	return fixedGreeting
}

// Escalation returns the fixed terminal "call your teacher" message.
func Escalation() string {
	return fixedEscalation
}

// ServiceFallback returns the fixed degraded-turn message used when the
// turn could not even reach the routing/generation steps (a durable
// store failure), as opposed to FallbackFor's per-strategy text.
func ServiceFallback() string {
	return fixedServiceFallback
}
