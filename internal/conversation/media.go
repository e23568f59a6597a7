package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/domain"
	"github.com/jkindrix/plumbot/internal/generator"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/sanitize"
	"github.com/jkindrix/plumbot/internal/storage"
	"github.com/jkindrix/plumbot/internal/whatsapp"
)

// ackTimeout bounds the work done when a media burst settles.
const ackTimeout = 30 * time.Second

// handleMedia stores the upload, alerts the operator at once and resets the
// sender's acknowledgment countdown.
func (b *Bot) handleMedia(ctx context.Context, lead *domain.Lead, msg whatsapp.InboundMessage) error {
	b.debouncer.Touch(lead.PhoneNumber, string(msg.Type))

	content := "[" + string(msg.Type) + "]"
	if msg.Text != "" {
		content += " " + msg.Text
	} else if msg.Media.Filename != "" {
		content += " " + msg.Media.Filename
	}
	if err := b.recordCustomer(ctx, lead, content); err != nil {
		return err
	}

	ref, storeErr := b.storeMedia(ctx, lead, msg)
	stored := storeErr == nil
	if stored && isPlanUpload(msg.Type) {
		lead.SetPlanUploaded(ref, b.clock.Now())
	}
	if storeErr != nil {
		b.logger.Error("failed to save customer media",
			zap.String("lead_id", lead.ID.String()),
			zap.String("media_id", msg.Media.ID),
			zap.Error(storeErr),
		)
	}
	b.events.PlanUploaded(ctx, lead.ID, string(msg.Type), stored)

	if err := b.leads.Update(ctx, lead); err != nil {
		return err
	}

	link := ""
	if stored {
		link = b.store.URL(ref)
	}
	b.alertOperator(ctx, lead, msg, link)
	return nil
}

// isPlanUpload reports whether a media type can carry a building plan.
func isPlanUpload(t whatsapp.MessageType) bool {
	return t == whatsapp.TypeImage || t == whatsapp.TypeDocument
}

func (b *Bot) storeMedia(ctx context.Context, lead *domain.Lead, msg whatsapp.InboundMessage) (string, error) {
	if b.store == nil {
		return "", errors.New("no media store configured")
	}
	media, err := b.messenger.DownloadMedia(ctx, msg.Media.ID)
	if err != nil {
		return "", err
	}
	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = msg.Media.MimeType
	}
	return b.store.Save(ctx, storage.Object{
		LeadID:   lead.ID,
		MediaID:  msg.Media.ID,
		MimeType: mimeType,
		Filename: msg.Media.Filename,
		Data:     media.Data,
	})
}

// alertOperator texts the operator about an upload. It is sent right away
// for every file.
func (b *Bot) alertOperator(ctx context.Context, lead *domain.Lead, msg whatsapp.InboundMessage, link string) {
	stored := link != ""
	defer b.metrics.RecordOperatorAlert(stored)

	if b.operatorPhone == "" {
		b.logger.Warn("operator phone not configured, skipping media alert",
			zap.String("lead_id", lead.ID.String()),
		)
		return
	}

	summary := b.generator.Summarize(ctx, lead)
	body := b.operatorAlert(lead, msg, link, summary.Text)

	_, err := b.messenger.SendText(ctx, b.operatorPhone, body)
	b.metrics.RecordSend(metrics.SendOperator, err)
	if err != nil {
		b.logger.Error("failed to send operator alert",
			zap.String("lead_id", lead.ID.String()),
			zap.Error(err),
		)
	}
}

func (b *Bot) operatorAlert(lead *domain.Lead, msg whatsapp.InboundMessage, link, summary string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "New %s from %s (+%s)\n", msg.Type, lead.DisplayName("unknown name"), lead.PhoneNumber)
	fmt.Fprintf(&sb, "Project: %s\n", lead.ProjectLabel("not yet known"))
	if msg.Text != "" {
		fmt.Fprintf(&sb, "Caption: %s\n", msg.Text)
	}
	if link != "" {
		fmt.Fprintf(&sb, "File: %s\n", link)
	} else {
		fmt.Fprintf(&sb, "File could not be saved automatically (WhatsApp media id %s). Please ask the customer to resend or retrieve it from WhatsApp.\n", msg.Media.ID)
	}
	fmt.Fprintf(&sb, "Summary: %s\n", summary)
	if b.crmBaseURL != "" {
		fmt.Fprintf(&sb, "Open lead: %s/appointments/%s", b.crmBaseURL, lead.ID)
	}
	return strings.TrimSpace(sb.String())
}

// acknowledgeMedia runs once a sender's uploads have settled. The text
// depends on the latest upload's type.
func (b *Bot) acknowledgeMedia(sender, lastType string, count int) {
	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	topic := generator.TopicMediaAck
	if lastType == string(whatsapp.TypeVideo) {
		topic = generator.TopicVideoAck
	}

	lead, err := b.leads.GetByPhone(ctx, sender)
	if err != nil {
		b.logger.Error("failed to load lead for media acknowledgment",
			zap.String("sender", sanitize.Phone(sender)),
			zap.Error(err),
		)
		// Still acknowledge; the customer should not be left hanging.
		b.scheduler.ScheduleSend(metrics.SendMediaAck, sender,
			b.generator.Template(domain.NewLead(sender, b.clock.Now()), topic), uuid.Nil)
		return
	}

	b.logger.Info("acknowledging media burst",
		zap.String("lead_id", lead.ID.String()),
		zap.String("last_type", lastType),
		zap.Int("files", count),
	)
	b.reply(ctx, lead, metrics.SendMediaAck, b.generator.Template(lead, topic))
}

// sendPortfolio queues the intro and the portfolio photos as one delayed
// task so they arrive together.
func (b *Bot) sendPortfolio(ctx context.Context, lead *domain.Lead) {
	if len(b.portfolio) == 0 {
		b.reply(ctx, lead, metrics.SendReply, b.generator.Template(lead, generator.TopicPortfolioUnavailable))
		return
	}

	intro := b.generator.Template(lead, generator.TopicPortfolio)
	entry := lead.AppendMessage(domain.RoleAssistant,
		fmt.Sprintf("%s [sent %d photos]", intro, len(b.portfolio)), b.clock.Now())
	if err := b.leads.AppendMessage(ctx, lead.ID, entry); err != nil {
		b.logger.Error("failed to record portfolio reply",
			zap.String("lead_id", lead.ID.String()),
			zap.Error(err),
		)
	}

	to := lead.PhoneNumber
	urls := append([]string(nil), b.portfolio...)
	b.scheduler.Schedule(metrics.SendPortfolio, to, lead.ID, func(ctx context.Context) error {
		if _, err := b.messenger.SendText(ctx, to, intro); err != nil {
			return err
		}
		var errs []error
		for _, u := range urls {
			_, err := b.messenger.SendMedia(ctx, to, whatsapp.OutboundMedia{Type: whatsapp.MediaImage, Link: u})
			if err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
