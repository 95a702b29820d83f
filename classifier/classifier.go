// Package classifier maps a learner utterance to a comprehension label using
// a strictly ordered, keyword-driven ruleset. The order is part of the
// contract: each rule is tried in sequence and the first match wins.
package classifier

import "strings"

// Label is the closed set of comprehension outcomes a classifier can return.
type Label string

const (
	Initial    Label = "initial"
	Emotional  Label = "emotional"
	Confused   Label = "confused"
	Understood Label = "understood"
	Partial    Label = "partial"
)

var greetings = map[string]bool{
	"":         true,
	"היי":      true,
	"שלום":     true,
	"הי":       true,
	"שלום שלום": true,
}

// emotionalPhrases covers sadness, anger, fear, anxiety, worry, frustration,
// discouragement, and general negative affect, with first- and
// second-person gendered variants, transcribed verbatim from the source
// mediation chain's emotional_phrases list.
var emotionalPhrases = []string{
	// sadness
	"אני עצוב", "אני עצובה", "עצוב", "עצובה", "עצובים", "עצובות", "עצוב לי", "בוכה", "בוכים", "אני בוכה",
	// anger
	"אני כועס", "אני כועסת", "כועס", "כועסת", "כועסים", "כועסות", "כועס על", "נרגז", "נרגזת", "מעצבן", "אני נרגז",
	// fear
	"אני מפחד", "אני מפחדת", "מפחד", "מפחדת", "מפחדים", "מפחדות", "פחד", "מפחיד", "מפחידה",
	// anxiety
	"אני חרד", "אני חרדה", "חרד", "חרדה", "חרדים", "חרדות", "מלחיץ", "מלחיצה", "לחוץ", "אני לחוץ",
	// worry
	"אני דואג", "אני דואגת", "דואג", "דואגת", "דואגים", "דואגות", "מודאג", "מודאגת", "דאגה",
	// frustration
	"אני מתוסכל", "אני מתוסכלת", "מתוסכל", "מתוסכלת", "תסכול", "נמאס לי", "נמאס",
	// discouragement
	"לא רוצה", "לא בא לי", "לא מתחשק לי", "מוותר", "לא יכול יותר", "אני לא רוצה", "אני מוותר",
	// general negative affect
	"לא טוב לי", "רע לי", "לא בסדר", "לא טוב", "רע", "גרוע", "נורא", "זוועה", "אני לא מרגיש טוב",
}

// confusionPhrases indicates non-understanding: Hebrew phrases plus the
// standalone question mark and Hebrew/English interrogative words.
var confusionPhrases = []string{
	"לא הבין", "לא מבין", "מה זה אומר", "לא מצליח", "קשה לי", "לא יודע", "אל תבין", "מה זה",
	"איך עושים", "עזרה", "לא מבין כלום", "זה יותר מדי קשה", "לא מצליח בכלל", "מה קורה פה",
	"זה לא הגיוני", "לא מבין בכלל", "מה זה הדבר הזה", "איך זה עובד",
	"confused", "confusing", "hard", "difficult", "don't understand", "?", "שאלה", "question",
	"תעזור", "תעזרי", "איך", "למה", "מתי", "איפה", "מי", "מה", "איזה",
	"help", "what is", "how", "why", "when", "where", "who", "what", "which",
}

// understandingPhrases are Hebrew affirmations indicating comprehension.
var understandingPhrases = []string{
	"הבנתי", "ברור", "יודע", "מבין", "אוקיי", "בסדר", "נכון", "כן",
}

// Classify labels a learner utterance per the ordered ruleset in §4.2: empty
// or greeting first, then emotional, confusion, understanding phrase sets,
// then a multi-token fallback to confused, else partial.
func Classify(utterance string) Label {
	normalized := normalize(utterance)

	if greetings[normalized] {
		return Initial
	}
	if containsAny(normalized, emotionalPhrases) {
		return Emotional
	}
	if containsAny(normalized, confusionPhrases) {
		return Confused
	}
	if containsAny(normalized, understandingPhrases) {
		return Understood
	}
	if len(strings.Fields(normalized)) > 1 {
		return Confused
	}
	return Partial
}

// normalize trims, lowercases (affects Latin text only — Hebrew characters
// have no case), and collapses internal whitespace.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(normalized string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}
