package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		utterance string
		want      Label
	}{
		{"empty string is initial", "", Initial},
		{"bare greeting", "היי", Initial},
		{"greeting with surrounding space", "  שלום  ", Initial},
		{"double greeting", "שלום שלום", Initial},
		{"sadness phrase", "אני עצוב היום", Emotional},
		{"anger phrase", "אני כועסת עליך", Emotional},
		{"fear phrase", "אני מפחדת מזה", Emotional},
		{"anxiety phrase", "אני חרד מאוד", Emotional},
		{"worry phrase", "אני דואגת לך", Emotional},
		{"frustration phrase", "נמאס לי מזה", Emotional},
		{"discouragement phrase", "אני מוותר", Emotional},
		{"general negative phrase", "זה נורא", Emotional},
		{"confusion phrase", "לא מבין כלום", Confused},
		{"bare question mark", "?", Confused},
		{"english interrogative", "why is this hard", Confused},
		{"understanding phrase", "הבנתי תודה", Understood},
		{"single affirmation token", "כן", Understood},
		{"multi-word miss falls to confused", "זה משהו אחר לגמרי", Confused},
		{"single-word miss falls to partial", "אולי", Partial},
		{"emotional wins over confusion substrings", "לא מבין אני עצוב", Emotional},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.utterance))
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, Emotional, Classify("אני עצוב"))
	}
}
