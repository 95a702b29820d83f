package prompt

import "strings"

// conceptKeyword pairs a Hebrew educational-task keyword with the plain-
// language concept name substituted into the provide_example template's
// concept variable. Kept as an ordered slice, not a map, so that when an
// instruction matches more than one keyword the result is deterministic —
// the ConceptFor contract promises purity, which a randomized map
// iteration order would break. Carried verbatim from the source chain's
// concepts_map, in its original insertion order.
var conceptKeyword = []struct {
	keyword string
	concept string
}{
	{"חישוב", "חשבון במתמטיקה"},
	{"קריאה", "קריאת טקסט"},
	{"כתיבה", "כתיבת משפטים"},
	{"ציור", "ציור או רישום"},
	{"השוואה", "השוואה בין דברים"},
	{"מיון", "סידור לפי קטגוריות"},
	{"הסבר", "הסבר של רעיון"},
}

const defaultConcept = "משימה כללית"

// ConceptFor derives the provide_example template's concept variable from
// an instruction by scanning for the first matching keyword; degrades to
// a generic default when nothing matches.
func ConceptFor(instruction string) string {
	lower := strings.ToLower(instruction)
	for _, pair := range conceptKeyword {
		if strings.Contains(lower, pair.keyword) {
			return pair.concept
		}
	}
	return defaultConcept
}
