package classifier

import (
	"strings"

	"github.com/jkindrix/plumbot/internal/domain"
)

var (
	// unsurePhrases leave the answer open, so "not sure" is not read as
	// "sure" and "no idea" is not read as "no".
	unsurePhrases = []string{
		"not sure", "unsure", "don t know", "dont know", "do not know", "not certain",
		"no idea", "maybe", "perhaps", "i think so", "will check",
		// Shona / Ndebele
		"handizivi", "angazi",
	}

	// noPlanPhrases are checked before yesWords so "I don't have one" and
	// "yes, please do a site visit" both read as no plan. A bare "visit"
	// is not enough: "yes I have plans, you can visit" still has a plan.
	noPlanPhrases = []string{
		"don t have", "dont have", "do not have", "haven t got", "no plan", "not yet", "not really",
		"site visit", "come for a visit", "visit first", "come and see", "come see",
		// Shona / Ndebele
		"handina", "hatina", "angila", "asila",
	}
	yesWords = []string{
		"yes", "yeah", "yep", "yup", "sure", "i do", "i have", "we have", "have a plan", "have plans",
		"got a plan", "got plans", "attached", "sending", "will send", "ok", "okay",
		// Shona / Ndebele
		"ehe", "hongu", "ndinayo", "tinayo", "yebo", "ngilayo",
	}
	noWords = []string{"no", "nope", "nah", "none", "kwete", "aiwa", "hayi", "cha"}

	propertyKeywords = []struct {
		property domain.PropertyType
		keywords []string
	}{
		{domain.PropertyTownhouse, []string{"townhouse", "town house", "cluster", "duplex"}},
		{domain.PropertyApartment, []string{"apartment", "flat", "unit", "complex"}},
		{domain.PropertyCommercial, []string{
			"commercial", "office", "shop", "business", "restaurant", "hotel", "lodge",
			"warehouse", "factory", "school", "church", "clinic",
		}},
		{domain.PropertyHouse, []string{"house", "home", "stand", "cottage", "residential", "imba", "indlu"}},
	}
)

// ParseYesNo reads an answer to "do you have a building plan?". ok is
// false when the answer is neither.
func ParseYesNo(text string) (yes bool, ok bool) {
	norm := normalize(text)
	switch {
	case containsAny(norm, unsurePhrases):
		return false, false
	case containsAny(norm, noPlanPhrases):
		return false, true
	case containsWord(norm, yesWords):
		return true, true
	case containsWord(norm, noWords):
		return false, true
	}
	return false, false
}

// MatchPropertyType reads a property type from free text. Townhouse is
// checked before house so "town house" is not read as a house.
func MatchPropertyType(text string) (domain.PropertyType, bool) {
	norm := normalize(text)
	for _, p := range propertyKeywords {
		if containsAny(norm, p.keywords) {
			return p.property, true
		}
	}
	return "", false
}

// containsWord is containsAny anchored at both ends of the word.
func containsWord(norm string, words []string) bool {
	for _, w := range words {
		if strings.Contains(norm, " "+w+" ") {
			return true
		}
	}
	return false
}
