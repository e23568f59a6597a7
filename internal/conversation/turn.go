package conversation

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/classifier"
	"github.com/jkindrix/plumbot/internal/domain"
	"github.com/jkindrix/plumbot/internal/generator"
)

// turn is the outcome of the priority ladder.
type turn struct {
	text      string
	portfolio bool
}

// decide runs the priority ladder; the first rung that matches wins.
func (b *Bot) decide(ctx context.Context, lead *domain.Lead, text string) turn {
	// Photo requests get the portfolio and nothing else.
	if b.classifier.IsPhotoRequest(ctx, text) {
		return turn{portfolio: true}
	}

	// Early in intake a clearly stated service jumps the queue.
	var service classifier.Result
	if !lead.IsMidConversation() {
		service = b.classifier.ClassifyService(ctx, text)
		if service.Preempts() {
			if pt, ok := classifier.ProjectTypeFor(service.Intent); ok {
				lead.ProjectType = &pt
				b.events.ServiceIdentified(ctx, lead.ID, string(pt))
				return turn{text: b.withNextQuestion(lead, b.generator.Template(lead, generator.TopicServiceIntro))}
			}
		}
	}

	switch objection := b.classifier.ClassifyObjection(ctx, text); objection.Intent {
	case classifier.IntentPricingObjection:
		return turn{text: b.pricingReply(lead)}
	case classifier.IntentTimelineObjection:
		return turn{text: b.objectionReply(ctx, lead, generator.TopicTimelineObjection, text)}
	case classifier.IntentAvailabilityObjection:
		return turn{text: b.objectionReply(ctx, lead, generator.TopicAvailabilityObjection, text)}
	}

	wasComplete := !hasNextSlot(lead)
	if slot, ok := domain.NextUnfilledSlot(lead); ok {
		if b.fillSlot(lead, slot, text, service) {
			b.logger.Debug("slot filled",
				zap.String("lead_id", lead.ID.String()),
				zap.String("slot", string(slot)),
			)
		}
	}
	return turn{text: b.nextStep(ctx, lead, wasComplete)}
}

// pricingReply quotes a range once project, property, area and plan are
// known. Otherwise it names what is missing and carries on with intake.
func (b *Bot) pricingReply(lead *domain.Lead) string {
	if len(lead.MissingPricingFields()) == 0 {
		return b.generator.Template(lead, generator.TopicPricingQuote)
	}
	return b.withNextQuestion(lead, b.generator.Template(lead, generator.TopicPricingMissing))
}

func (b *Bot) objectionReply(ctx context.Context, lead *domain.Lead, topic generator.Topic, text string) string {
	res := b.generator.Generate(ctx, lead, topic, text)
	if res.AIGenerated {
		return res.Text
	}
	return b.withNextQuestion(lead, res.Text)
}

// nextStep asks for the next unfilled slot, or announces that the booking
// is ready. wasComplete is whether intake was already complete before this
// message, in which case the customer is handed over to staff.
func (b *Bot) nextStep(ctx context.Context, lead *domain.Lead, wasComplete bool) string {
	if slot, ok := domain.NextUnfilledSlot(lead); ok {
		return b.generator.Template(lead, generator.AskTopic(slot))
	}
	if wasComplete {
		return b.generator.Template(lead, generator.TopicHandover)
	}
	b.metrics.RecordBookingReady()
	b.events.BookingReady(ctx, lead.ID, string(*lead.ProjectType))
	return b.generator.Template(lead, generator.TopicBookingReady)
}

// withNextQuestion appends the next intake question, if any, to text.
func (b *Bot) withNextQuestion(lead *domain.Lead, text string) string {
	slot, ok := domain.NextUnfilledSlot(lead)
	if !ok {
		return text
	}
	return strings.TrimSpace(text + " " + b.generator.Template(lead, generator.AskTopic(slot)))
}
