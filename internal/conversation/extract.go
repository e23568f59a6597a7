package conversation

import (
	"regexp"
	"strings"

	"github.com/jkindrix/plumbot/internal/classifier"
	"github.com/jkindrix/plumbot/internal/domain"
)

const maxAnswerLen = 120

var (
	namePrefix = regexp.MustCompile(`(?i)^(hi|hello|hey)?[\s,]*(my name is|my name's|name is|i am|i'm|im|it's|its|this is|call me|ndini|ndinonzi|ngingu|igama lami ngu)\s+`)
	otherWords = []string{"other", "something else", "repair", "repairs", "leak", "blocked", "burst"}
)

// fillSlot tries to read the answer to slot from text. service is the
// service classification already made this turn, if any.
func (b *Bot) fillSlot(lead *domain.Lead, slot domain.Slot, text string, service classifier.Result) bool {
	answer := truncate(strings.TrimSpace(text), maxAnswerLen)
	if answer == "" {
		return false
	}

	switch slot {
	case domain.SlotServiceType:
		if pt, ok := classifier.ProjectTypeFor(service.Intent); ok {
			lead.ProjectType = &pt
			return true
		}
		if pt, ok := classifier.MatchProjectType(answer); ok {
			lead.ProjectType = &pt
			return true
		}
		if containsAnyFold(answer, otherWords) {
			pt := domain.ProjectOther
			lead.ProjectType = &pt
			return true
		}
		return false

	case domain.SlotPlanOrVisit:
		yes, ok := classifier.ParseYesNo(answer)
		if !ok {
			return false
		}
		lead.SetHasPlan(yes)
		return true

	case domain.SlotPropertyType:
		pt, ok := classifier.MatchPropertyType(answer)
		if !ok {
			// Anything we cannot place is recorded rather than asked again.
			pt = domain.PropertyOther
		}
		lead.PropertyType = &pt
		return true

	case domain.SlotArea:
		lead.CustomerArea = &answer
		return true

	case domain.SlotTimeline:
		lead.Timeline = &answer
		return true

	case domain.SlotAvailability:
		lead.Availability = &answer
		return true

	case domain.SlotName:
		name := extractName(answer)
		if name == "" {
			return false
		}
		lead.CustomerName = &name
		return true
	}
	return false
}

// extractName strips introductions like "my name is" and trailing
// punctuation.
func extractName(s string) string {
	s = namePrefix.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.Trim(s, " .,!?")
	if s == "" {
		return ""
	}
	// Titlecase plain lowercase names.
	if s == strings.ToLower(s) {
		words := strings.Fields(s)
		for i, w := range words {
			r := []rune(w)
			words[i] = strings.ToUpper(string(r[0])) + string(r[1:])
		}
		s = strings.Join(words, " ")
	}
	return s
}

func containsAnyFold(s string, words []string) bool {
	s = strings.ToLower(s)
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
