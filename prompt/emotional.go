package prompt

import "strings"

// emotionalResponse pairs a Hebrew emotional phrase with a verbatim
// response, grouped into the same sadness/anger/fear/worry/discouragement
// sub-categories the source chain used — kept as an ordered slice rather
// than a flat map so a phrase match is deterministic when an utterance
// contains more than one recognized phrase.
var emotionalResponse = []struct {
	phrase   string
	response string
}{
	// sadness
	{"אני עצוב", "אני מבין שאתה מרגיש עצוב. זה בסדר להרגיש כך. אני כאן בשבילך. איך אני יכול לעזור לך להרגיש יותר טוב? 💙"},
	{"אני עצובה", "אני מבינה שאת מרגישה עצובה. זה בסדר להרגיש כך. אני כאן בשבילך. איך אני יכול לעזור לך להרגיש יותר טובה? 💙"},
	{"עצוב", "אני מבין שאתה מרגיש עצוב. זה בסדר להרגיש כך. אני כאן בשבילך. איך אני יכול לעזור לך להרגיש יותר טוב? 💙"},
	{"עצובה", "אני מבינה שאת מרגישה עצובה. זה בסדר להרגיש כך. אני כאן בשבילך. איך אני יכול לעזור לך להרגיש יותר טובה? 💙"},
	// anger
	{"אני כועס", "אני רואה שאתה כועס. זה בסדר להרגיש כך. בוא נדבר על מה שמפריע לך. אני כאן להקשיב. 💪"},
	{"אני כועסת", "אני רואה שאת כועסת. זה בסדר להרגיש כך. בואי נדבר על מה שמפריע לך. אני כאן להקשיב. 💪"},
	{"כועס", "אני רואה שאתה כועס. זה בסדר להרגיש כך. בוא נדבר על מה שמפריע לך. אני כאן להקשיב. 💪"},
	{"כועסת", "אני רואה שאת כועסת. זה בסדר להרגיש כך. בואי נדבר על מה שמפריע לך. אני כאן להקשיב. 💪"},
	// fear
	{"אני מפחד", "אני מבין שאתה מפחד. זה בסדר לפחד. אני כאן כדי לעזור לך להרגיש בטוח יותר. איך אני יכול לתמוך בך? 🤗"},
	{"אני מפחדת", "אני מבינה שאת מפחדת. זה בסדר לפחד. אני כאן כדי לעזור לך להרגיש בטוחה יותר. איך אני יכול לתמוך בך? 🤗"},
	{"מפחד", "אני מבין שאתה מפחד. זה בסדר לפחד. אני כאן כדי לעזור לך להרגיש בטוח יותר. איך אני יכול לתמוך בך? 🤗"},
	{"מפחדת", "אני מבינה שאת מפחדת. זה בסדר לפחד. אני כאן כדי לעזור לך להרגיש בטוחה יותר. איך אני יכול לתמוך בך? 🤗"},
	// worry
	{"אני דואג", "אני רואה שאתה דואג. זה טבעי לדאוג לפעמים. אני כאן כדי לעזור לך. בוא נדבר על מה שמדאיג אותך. 💙"},
	{"אני דואגת", "אני רואה שאת דואגת. זה טבעי לדאוג לפעמים. אני כאן כדי לעזור לך. בואי נדבר על מה שמדאיג אותך. 💙"},
	{"דואג", "אני רואה שאתה דואג. זה טבעי לדאוג לפעמים. אני כאן כדי לעזור לך. בוא נדבר על מה שמדאיג אותך. 💙"},
	{"דואגת", "אני רואה שאת דואגת. זה טבעי לדאוג לפעמים. אני כאן כדי לעזור לך. בואי נדבר על מה שמדאיג אותך. 💙"},
	// discouragement / general negative affect
	{"לא רוצה", "אני מבין שאתה לא רוצה לעשות את זה עכשיו. זה בסדר. אולי נוכל לנסות משהו אחר או לחזור לזה מאוחר יותר? 😊"},
	{"אני לא רוצה", "אני מבין שאתה לא רוצה לעשות את זה עכשיו. זה בסדר. אולי נוכל לנסות משהו אחר או לחזור לזה מאוחר יותר? 😊"},
	{"לא בא לי", "אני מבין שאתה לא מרגיש מוכן לזה עכשיו. זה בסדר. איך אני יכול לעזור לך להרגיש יותר מוכן? 🌟"},
	{"לא טוב לי", "אני מבין שאתה לא מרגיש טוב. זה בסדר. אני כאן כדי לעזור לך. איך אני יכול לתמוך בך? 💙"},
	{"רע לי", "אני מבין שאתה מרגיש רע. זה בסדר להרגיש כך. אני כאן בשבילך. איך אני יכול לעזור לך להרגיש יותר טוב? 💙"},
	{"אני לא מרגיש טוב", "אני מבין שאתה לא מרגיש טוב. זה בסדר. אני כאן כדי לעזור לך. איך אני יכול לתמוך בך? 💙"},
}

// DirectEmotionalResponse looks up a verbatim Hebrew response for an
// utterance that matched a direct emotional phrase, bypassing model
// generation entirely. Returns ok=false when no phrase in the table
// matches, in which case the caller should fall back to template
// rendering plus generation.
func DirectEmotionalResponse(utterance string) (response string, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(utterance))
	for _, e := range emotionalResponse {
		if strings.Contains(lower, e.phrase) {
			return e.response, true
		}
	}
	return "", false
}
