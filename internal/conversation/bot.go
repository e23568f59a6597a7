// Package conversation runs the intake conversation. For each inbound
// WhatsApp message the Bot resolves the lead, records the message, decides
// the reply and hands it to the delivery scheduler.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/classifier"
	"github.com/jkindrix/plumbot/internal/clock"
	"github.com/jkindrix/plumbot/internal/delivery"
	"github.com/jkindrix/plumbot/internal/domain"
	"github.com/jkindrix/plumbot/internal/generator"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/sanitize"
	"github.com/jkindrix/plumbot/internal/storage"
	"github.com/jkindrix/plumbot/internal/whatsapp"
)

// Messenger is the part of the WhatsApp client the bot uses directly.
type Messenger interface {
	SendText(ctx context.Context, to, body string) (string, error)
	SendMedia(ctx context.Context, to string, media whatsapp.OutboundMedia) (string, error)
	DownloadMedia(ctx context.Context, mediaID string) (*whatsapp.DownloadedMedia, error)
}

// ReadMarker marks inbound messages as read.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID string) error
}

// IntentClassifier answers the questions the priority ladder asks.
type IntentClassifier interface {
	IsPhotoRequest(ctx context.Context, text string) bool
	ClassifyService(ctx context.Context, text string) classifier.Result
	ClassifyObjection(ctx context.Context, text string) classifier.Result
}

// Scheduler delays outbound messages.
type Scheduler interface {
	ScheduleSend(kind, to, body string, leadID uuid.UUID)
	Schedule(kind, to string, leadID uuid.UUID, fn delivery.Task)
}

// Deps are the bot's collaborators.
type Deps struct {
	Leads      domain.LeadRepository
	Classifier IntentClassifier
	Generator  *generator.Generator
	Messenger  Messenger
	Reader     ReadMarker
	Scheduler  Scheduler
	Store      storage.Store
	Clock      clock.Clock
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Events     *metrics.BusinessEventLogger
}

// Config holds the bot's settings.
type Config struct {
	OperatorPhone  string
	CRMBaseURL     string
	PortfolioURLs  []string
	DebounceWindow time.Duration
}

// Bot is the conversation orchestrator.
type Bot struct {
	leads      domain.LeadRepository
	classifier IntentClassifier
	generator  *generator.Generator
	messenger  Messenger
	reader     ReadMarker
	scheduler  Scheduler
	store      storage.Store
	debouncer  *delivery.MediaDebouncer
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
	events     *metrics.BusinessEventLogger

	operatorPhone string
	crmBaseURL    string
	portfolio     []string
}

// New creates a Bot and its media debouncer.
func New(deps Deps, cfg Config) *Bot {
	if deps.Logger == nil {
		panic("conversation: logger is required")
	}
	b := &Bot{
		leads:         deps.Leads,
		classifier:    deps.Classifier,
		generator:     deps.Generator,
		messenger:     deps.Messenger,
		reader:        deps.Reader,
		scheduler:     deps.Scheduler,
		store:         deps.Store,
		clock:         clock.OrDefault(deps.Clock),
		logger:        deps.Logger.Named("conversation"),
		metrics:       deps.Metrics,
		events:        deps.Events,
		operatorPhone: sanitize.NormalizePhone(cfg.OperatorPhone),
		crmBaseURL:    strings.TrimRight(cfg.CRMBaseURL, "/"),
		portfolio:     cfg.PortfolioURLs,
	}
	b.debouncer = delivery.NewMediaDebouncer(cfg.DebounceWindow, b.acknowledgeMedia, deps.Logger, deps.Metrics)
	return b
}

// Debouncer returns the media debouncer so shutdown can flush it.
func (b *Bot) Debouncer() *delivery.MediaDebouncer {
	return b.debouncer
}

// Handle processes one inbound message. Errors mean the lead could not be
// loaded or saved; classification and generation failures never surface.
func (b *Bot) Handle(ctx context.Context, msg whatsapp.InboundMessage) error {
	b.metrics.RecordInboundMessage(string(msg.Type))

	if msg.Type == whatsapp.TypeReaction {
		b.logger.Debug("ignoring reaction", zap.String("from", sanitize.Phone(msg.From)))
		return nil
	}

	b.markRead(ctx, msg.ID)

	lead, err := b.resolveLead(ctx, msg.From)
	if err != nil {
		return err
	}

	switch {
	case msg.Type == whatsapp.TypeText:
		return b.handleText(ctx, lead, msg.Text)
	case msg.Type.IsMedia():
		return b.handleMedia(ctx, lead, msg)
	case msg.Type == whatsapp.TypeLocation:
		return b.handleLocation(ctx, lead, msg.Location)
	default:
		return b.handleUnsupported(ctx, lead, msg.Type)
	}
}

// markRead shows the blue ticks. Failure only costs the ticks.
func (b *Bot) markRead(ctx context.Context, messageID string) {
	if b.reader == nil || messageID == "" {
		return
	}
	if err := b.reader.MarkRead(ctx, messageID); err != nil {
		b.logger.Debug("failed to mark message read",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}

func (b *Bot) resolveLead(ctx context.Context, phone string) (*domain.Lead, error) {
	lead, created, err := b.leads.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if created {
		b.metrics.RecordLeadCreated()
		b.events.LeadCreated(ctx, lead.ID, phone)
	}
	return lead, nil
}

// recordCustomer appends the inbound entry and stamps the response time.
// The lead's other columns are saved by the caller.
func (b *Bot) recordCustomer(ctx context.Context, lead *domain.Lead, content string) error {
	now := b.clock.Now()
	entry := lead.AppendMessage(domain.RoleCustomer, content, now)
	if err := b.leads.AppendMessage(ctx, lead.ID, entry); err != nil {
		return err
	}
	lead.RecordCustomerResponse(now)
	return nil
}

// reply records an assistant message and queues it for delayed delivery.
func (b *Bot) reply(ctx context.Context, lead *domain.Lead, kind, text string) {
	if text == "" {
		return
	}
	entry := lead.AppendMessage(domain.RoleAssistant, text, b.clock.Now())
	if err := b.leads.AppendMessage(ctx, lead.ID, entry); err != nil {
		// History is best effort here; the customer still gets the reply.
		b.logger.Error("failed to record reply",
			zap.String("lead_id", lead.ID.String()),
			zap.Error(err),
		)
	}
	b.scheduler.ScheduleSend(kind, lead.PhoneNumber, text, lead.ID)
}

func (b *Bot) handleText(ctx context.Context, lead *domain.Lead, text string) error {
	text = strings.TrimSpace(text)
	if err := b.recordCustomer(ctx, lead, text); err != nil {
		return err
	}

	t, err := b.safeDecide(ctx, lead, text)
	if err != nil {
		// Drop the turn rather than save a half-updated lead.
		b.logger.Error("failed to decide reply, dropping turn",
			zap.String("lead_id", lead.ID.String()),
			zap.Error(err),
		)
		return b.leads.Update(ctx, lead)
	}

	if err := b.leads.Update(ctx, lead); err != nil {
		return err
	}
	if t.portfolio {
		b.sendPortfolio(ctx, lead)
		return nil
	}
	b.reply(ctx, lead, metrics.SendReply, t.text)
	return nil
}

// safeDecide runs the priority ladder on a copy of the lead so a failure
// leaves the caller's lead untouched.
func (b *Bot) safeDecide(ctx context.Context, lead *domain.Lead, text string) (t turn, err error) {
	work := *lead
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in conversation: %v", r)
		}
	}()
	t = b.decide(ctx, &work, text)
	*lead = work
	return t, nil
}

func (b *Bot) handleLocation(ctx context.Context, lead *domain.Lead, loc *whatsapp.Location) error {
	desc := loc.Describe()
	if err := b.recordCustomer(ctx, lead, "[location] "+desc); err != nil {
		return err
	}
	wasComplete := !hasNextSlot(lead)
	if !lead.Filled(domain.SlotArea) {
		lead.CustomerArea = &desc
	}
	text := b.nextStep(ctx, lead, wasComplete)
	if err := b.leads.Update(ctx, lead); err != nil {
		return err
	}
	b.reply(ctx, lead, metrics.SendReply, text)
	return nil
}

func (b *Bot) handleUnsupported(ctx context.Context, lead *domain.Lead, t whatsapp.MessageType) error {
	if err := b.recordCustomer(ctx, lead, fmt.Sprintf("[%s]", t)); err != nil {
		return err
	}
	if err := b.leads.Update(ctx, lead); err != nil {
		return err
	}
	b.reply(ctx, lead, metrics.SendReply, b.generator.Template(lead, generator.TopicUnsupported))
	return nil
}

// StaffReply sends a message written by staff straight away and records it.
// It does not cancel an automatic reply that is already queued.
func (b *Bot) StaffReply(ctx context.Context, phone, text string) (*domain.Lead, error) {
	lead, err := b.leads.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	_, err = b.messenger.SendText(ctx, lead.PhoneNumber, text)
	b.metrics.RecordSend(metrics.SendStaff, err)
	if err != nil {
		return nil, err
	}
	entry := lead.AppendMessage(domain.RoleAssistant, text, b.clock.Now())
	if err := b.leads.AppendMessage(ctx, lead.ID, entry); err != nil {
		return nil, err
	}
	return lead, nil
}

func hasNextSlot(lead *domain.Lead) bool {
	_, ok := domain.NextUnfilledSlot(lead)
	return ok
}
