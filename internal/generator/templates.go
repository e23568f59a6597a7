package generator

import (
	"fmt"
	"strings"

	"github.com/jkindrix/plumbot/internal/domain"
)

// Fallback phrases for lead fields that are still unknown.
const (
	fallbackProject = "your project"
	fallbackName    = "there"
)

// priceRanges are indicative ranges quoted once intake has enough detail.
var priceRanges = map[domain.ProjectType]string{
	domain.ProjectBathroom:    "US$2,500 - US$6,000",
	domain.ProjectKitchen:     "US$3,000 - US$8,000",
	domain.ProjectNewPlumbing: "US$1,500 - US$5,000",
	domain.ProjectOther:       "US$500 - US$3,000",
}

// PriceRange returns the indicative range for a project type.
func PriceRange(p domain.ProjectType) string {
	if r, ok := priceRanges[p]; ok {
		return r
	}
	return priceRanges[domain.ProjectOther]
}

// HumanJoin joins items as "a, b and c".
func HumanJoin(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}

var slotQuestions = map[domain.Slot]string{
	domain.SlotPlanOrVisit:  "Do you have a building plan or drawings you can send us? If not, no problem, we can arrange a site visit.",
	domain.SlotArea:         "Which area is the property in?",
	domain.SlotPropertyType: "Is the property a house, apartment, townhouse or commercial building?",
	domain.SlotTimeline:     "When would you like the work to start?",
	domain.SlotAvailability: "What day and time would suit you for a site visit or a quick call with our plumber?",
	domain.SlotName:         "Lastly, what name should I put the booking under?",
}

var serviceIntros = map[domain.ProjectType]string{
	domain.ProjectBathroom:    "Yes, we do bathroom renovations, from new showers, toilets and vanities to complete remodels.",
	domain.ProjectKitchen:     "Yes, we do kitchen renovations, including sinks, dishwasher connections and full kitchen plumbing.",
	domain.ProjectNewPlumbing: "Yes, we install complete plumbing for new builds and extensions, from water supply to geysers and drainage.",
	domain.ProjectOther:       "We can help with that.",
}

var followupTemplates = map[domain.FollowupStage]string{
	domain.StageDay1:   "Hi %s, just checking you saw my message yesterday about %s. Happy to answer any questions when you have a moment.",
	domain.StageDay3:   "Hi %s, hope your week is going well. Are you still thinking about %s? We can arrange a site visit whenever suits you.",
	domain.StageWeek1:  "Hi %s, we have a few openings coming up for site visits. Would you like us to pencil you in for %s?",
	domain.StageWeek2:  "Hi %s, I wanted to check whether your plans for %s have changed. If the timing isn't right, that's completely fine.",
	domain.StageMonth1: "Hi %s, it's been a while since we spoke about %s. Whenever you're ready, just send a message and we'll pick up from there.",
}

// template renders the deterministic text for a topic.
func (g *Generator) template(lead *domain.Lead, topic Topic) string {
	name := lead.DisplayName(fallbackName)

	if slot, ok := topic.askSlot(); ok {
		return g.askTemplate(lead, slot)
	}
	if stage, ok := topic.followupStage(); ok {
		tmpl, ok := followupTemplates[stage]
		if !ok {
			tmpl = followupTemplates[domain.StageDay1]
		}
		return fmt.Sprintf(tmpl, name, projectPhrase(lead))
	}

	switch topic {
	case TopicServiceIntro:
		pt := domain.ProjectOther
		if lead.ProjectType != nil {
			pt = *lead.ProjectType
		}
		return serviceIntros[pt]
	case TopicPricingQuote:
		pt := domain.ProjectOther
		if lead.ProjectType != nil {
			pt = *lead.ProjectType
		}
		return fmt.Sprintf(
			"For a %s like yours, most of our jobs come to around %s. The final price depends on the plan review or a site visit, where our plumber measures up and confirms materials.",
			lead.ProjectLabel("plumbing project"), PriceRange(pt),
		)
	case TopicPricingMissing:
		return fmt.Sprintf(
			"I'd love to give you a price range. To do that I still need %s.",
			HumanJoin(lead.MissingPricingFields()),
		)
	case TopicTimelineObjection:
		return fmt.Sprintf(
			"Good question. How long %s takes depends on its size, but most jobs are finished within two to four weeks once materials are on site. We confirm the schedule after the site visit.",
			projectPhrase(lead),
		)
	case TopicAvailabilityObjection:
		return "We work Monday to Saturday and can usually do a site visit within a few days of booking."
	case TopicBookingReady:
		return fmt.Sprintf(
			"Thank you %s, I have everything I need for %s. One of our plumbers will be in touch shortly to confirm your booking.",
			name, projectPhrase(lead),
		)
	case TopicHandover:
		return "Thank you, I've passed your message on to our plumber, who will get back to you shortly."
	case TopicPortfolio:
		return "Here are a few of our recent projects."
	case TopicPortfolioUnavailable:
		return "I'll ask the team to send you photos of our recent work."
	case TopicMediaAck:
		return "Thank you, we've received your file. Our plumber will review it and get back to you."
	case TopicVideoAck:
		return "Thanks for the video! Our plumber will have a look and get back to you."
	case TopicUnsupported:
		return "Sorry, I can only read text messages, photos, documents and videos. Could you type your message instead?"
	}
	return g.askTemplate(lead, domain.SlotServiceType)
}

func (g *Generator) askTemplate(lead *domain.Lead, slot domain.Slot) string {
	if slot != domain.SlotServiceType {
		return slotQuestions[slot]
	}
	question := "What can we help you with: a bathroom renovation, a kitchen renovation, new plumbing installation, or something else?"
	// Introduce the assistant on the first reply only.
	if len(lead.ConversationHistory) <= 1 {
		return fmt.Sprintf("Hi %s! I'm %s from %s. %s",
			lead.DisplayName(fallbackName), g.assistantName, g.businessName, question)
	}
	return question
}

// projectPhrase reads "your kitchen renovation" or "your project".
func projectPhrase(lead *domain.Lead) string {
	label := lead.ProjectLabel("")
	if label == "" {
		return fallbackProject
	}
	return "your " + label
}
