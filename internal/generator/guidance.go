package generator

import "github.com/jkindrix/plumbot/internal/domain"

// guidance steers a model-written message.
type guidance struct {
	Tone          string
	Goal          string
	Urgency       string
	TimeReference string
}

var stageGuidance = map[domain.FollowupStage]guidance{
	domain.StageDay1: {
		Tone:          "warm and helpful",
		Goal:          "check they saw our last message and offer to answer questions so we can finish their enquiry",
		Urgency:       "low",
		TimeReference: "yesterday",
	},
	domain.StageDay3: {
		Tone:          "friendly and relaxed",
		Goal:          "remind them about their project and offer a site visit at a time that suits them",
		Urgency:       "low",
		TimeReference: "a few days ago",
	},
	domain.StageWeek1: {
		Tone:          "helpful and informative",
		Goal:          "mention we have site visit openings coming up and invite them to book one",
		Urgency:       "medium",
		TimeReference: "last week",
	},
	domain.StageWeek2: {
		Tone:          "understanding, no pressure",
		Goal:          "ask whether their plans have changed and keep the door open",
		Urgency:       "medium",
		TimeReference: "a couple of weeks ago",
	},
	domain.StageMonth1: {
		Tone:          "respectful final check-in",
		Goal:          "let them know we are here whenever they are ready, without asking for anything",
		Urgency:       "low",
		TimeReference: "about a month ago",
	},
}

var topicGuidance = map[Topic]guidance{
	TopicTimelineObjection: {
		Tone:    "reassuring",
		Goal:    "answer how long the work takes: usually two to four weeks once materials are on site, confirmed after the site visit; then continue the booking",
		Urgency: "low",
	},
	TopicAvailabilityObjection: {
		Tone:    "friendly",
		Goal:    "explain we work Monday to Saturday and can usually visit within a few days of booking; then continue the booking",
		Urgency: "low",
	},
}

func guidanceFor(topic Topic) (guidance, bool) {
	if stage, ok := topic.followupStage(); ok {
		g, ok := stageGuidance[stage]
		return g, ok
	}
	g, ok := topicGuidance[topic]
	return g, ok
}
