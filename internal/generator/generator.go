// Package generator writes the assistant's messages. Every topic has a
// deterministic template; topics with tone guidance can also be drafted by
// the language model, falling back to the template on any failure.
package generator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/ai"
	"github.com/jkindrix/plumbot/internal/config"
	"github.com/jkindrix/plumbot/internal/domain"
	"github.com/jkindrix/plumbot/internal/metrics"
)

// Topic selects what a message is about.
type Topic string

const (
	TopicServiceIntro          Topic = "service_intro"
	TopicPricingQuote          Topic = "pricing_quote"
	TopicPricingMissing        Topic = "pricing_missing"
	TopicTimelineObjection     Topic = "timeline_objection"
	TopicAvailabilityObjection Topic = "availability_objection"
	TopicBookingReady          Topic = "booking_ready"
	TopicHandover              Topic = "handover"
	TopicPortfolio             Topic = "portfolio"
	TopicPortfolioUnavailable  Topic = "portfolio_unavailable"
	TopicMediaAck              Topic = "media_ack"
	TopicVideoAck              Topic = "video_ack"
	TopicUnsupported           Topic = "unsupported"
)

const (
	askPrefix      = "ask_"
	followupPrefix = "followup_"
)

// AskTopic is the topic for asking the customer to fill slot.
func AskTopic(slot domain.Slot) Topic {
	return Topic(askPrefix + string(slot))
}

// FollowupTopic is the topic for an automatic follow-up at stage.
func FollowupTopic(stage domain.FollowupStage) Topic {
	return Topic(followupPrefix + string(stage))
}

func (t Topic) askSlot() (domain.Slot, bool) {
	s, ok := strings.CutPrefix(string(t), askPrefix)
	return domain.Slot(s), ok
}

func (t Topic) followupStage() (domain.FollowupStage, bool) {
	s, ok := strings.CutPrefix(string(t), followupPrefix)
	return domain.FollowupStage(s), ok
}

// Result is generated text and whether the model wrote it.
type Result struct {
	Text        string
	AIGenerated bool
}

// historyTurns is how much conversation the model sees.
const historyTurns = 10

const (
	replyTemperature   = 0.7
	replyMaxTokens     = 300
	summaryTemperature = 0.2
	summaryMaxTokens   = 250
)

// Generator produces assistant messages.
type Generator struct {
	completer     ai.Completer
	businessName  string
	assistantName string
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// New creates a Generator. A nil completer gives a template-only generator.
func New(completer ai.Completer, business config.BusinessConfig, logger *zap.Logger, m *metrics.Metrics) *Generator {
	if logger == nil {
		panic("generator: logger is required")
	}
	g := &Generator{
		completer:     completer,
		businessName:  business.Name,
		assistantName: business.AssistantName,
		logger:        logger.Named("generator"),
		metrics:       m,
	}
	if g.businessName == "" {
		g.businessName = "our plumbing team"
	}
	if g.assistantName == "" {
		g.assistantName = "Sarah"
	}
	return g
}

// Template renders the deterministic text for topic. The same lead snapshot
// and topic always give the same text.
func (g *Generator) Template(lead *domain.Lead, topic Topic) string {
	return g.template(lead, topic)
}

// Generate writes a message for topic. Topics with guidance go to the model
// when one is configured; text is the customer's latest message, if any.
// The result is never empty.
func (g *Generator) Generate(ctx context.Context, lead *domain.Lead, topic Topic, text string) Result {
	guide, ok := guidanceFor(topic)
	if !ok || g.completer == nil {
		return g.templateResult(lead, topic)
	}

	out, err := g.completer.Complete(ctx, ai.Request{
		System:      g.systemPrompt(),
		User:        g.replyPrompt(lead, guide, text),
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	})
	if err == nil {
		out = cleanOutput(out)
	}
	if err != nil || out == "" {
		g.logger.Warn("AI generation failed, using template",
			zap.String("topic", string(topic)),
			zap.String("lead_id", lead.ID.String()),
			zap.Error(err),
		)
		return g.templateResult(lead, topic)
	}

	g.metrics.RecordGeneration(true)
	return Result{Text: out, AIGenerated: true}
}

func (g *Generator) templateResult(lead *domain.Lead, topic Topic) Result {
	g.metrics.RecordGeneration(false)
	return Result{Text: g.template(lead, topic)}
}

// Summarize writes a short conversation summary for the operator.
func (g *Generator) Summarize(ctx context.Context, lead *domain.Lead) Result {
	if g.completer != nil && len(lead.ConversationHistory) > 0 {
		out, err := g.completer.Complete(ctx, ai.Request{
			System: "You summarise WhatsApp conversations between a plumbing company's assistant and a customer for the plumber. " +
				"Write two or three short sentences: what the customer wants, the details collected, and anything they are waiting on.",
			User:        formatHistory(lead.RecentHistory(historyTurns)),
			Temperature: summaryTemperature,
			MaxTokens:   summaryMaxTokens,
		})
		if err == nil {
			if out = cleanOutput(out); out != "" {
				return Result{Text: out, AIGenerated: true}
			}
		}
		g.logger.Warn("AI summary failed, using template",
			zap.String("lead_id", lead.ID.String()),
			zap.Error(err),
		)
	}
	return Result{Text: templateSummary(lead)}
}

func templateSummary(lead *domain.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s.", lead.ProjectLabel("not yet known"))
	if lead.PropertyType != nil {
		fmt.Fprintf(&b, " Property: %s.", *lead.PropertyType)
	}
	if lead.CustomerArea != nil {
		fmt.Fprintf(&b, " Area: %s.", *lead.CustomerArea)
	}
	if lead.Timeline != nil {
		fmt.Fprintf(&b, " Timeline: %s.", *lead.Timeline)
	}
	if lead.HasPlan != nil {
		if *lead.HasPlan {
			b.WriteString(" Has a plan.")
		} else {
			b.WriteString(" No plan, needs a site visit.")
		}
	}
	fmt.Fprintf(&b, " %d messages so far.", len(lead.ConversationHistory))
	return b.String()
}

func (g *Generator) systemPrompt() string {
	return fmt.Sprintf(`You are %s, the WhatsApp assistant for %s, a plumbing and renovation company in Zimbabwe.
You help customers book bathroom renovations, kitchen renovations and new plumbing installations.
Write like a friendly person texting: plain language, at most three short sentences, no lists, no more than one emoji.
Never invent prices, dates or promises. Never say you are an AI.
Vary your wording; do not repeat earlier messages.`, g.assistantName, g.businessName)
}

func (g *Generator) replyPrompt(lead *domain.Lead, guide guidance, text string) string {
	var b strings.Builder

	b.WriteString("Customer details:\n")
	fmt.Fprintf(&b, "- Name: %s\n", lead.DisplayName("unknown"))
	fmt.Fprintf(&b, "- Service: %s\n", lead.ProjectLabel("unknown"))
	if missing := domain.MissingSlots(lead); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, s := range missing {
			names[i] = strings.ReplaceAll(string(s), "_", " ")
		}
		fmt.Fprintf(&b, "- Still missing: %s\n", strings.Join(names, ", "))
	}

	fmt.Fprintf(&b, "\nMessage goal: %s\nTone: %s\nUrgency: %s\n", guide.Goal, guide.Tone, guide.Urgency)
	if guide.TimeReference != "" {
		fmt.Fprintf(&b, "Our last message was %s.\n", guide.TimeReference)
	}

	if history := lead.RecentHistory(historyTurns); len(history) > 0 {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(formatHistory(history))
	}
	if text != "" {
		fmt.Fprintf(&b, "\nCustomer's latest message: %q\n", text)
	}
	b.WriteString("\nWrite the next message to the customer. Reply with the message text only.")
	return b.String()
}

func formatHistory(entries []domain.ConversationEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Role, e.Content)
	}
	return b.String()
}

// cleanOutput trims whitespace and the quotes models like to wrap text in.
func cleanOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
