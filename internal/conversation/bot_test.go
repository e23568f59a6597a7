package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/classifier"
	"github.com/jkindrix/plumbot/internal/clock"
	"github.com/jkindrix/plumbot/internal/config"
	"github.com/jkindrix/plumbot/internal/delivery"
	"github.com/jkindrix/plumbot/internal/domain"
	"github.com/jkindrix/plumbot/internal/generator"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/repository"
	"github.com/jkindrix/plumbot/internal/storage"
	"github.com/jkindrix/plumbot/internal/whatsapp"
)

const (
	customerPhone = "263771234567"
	operatorPhone = "263770000001"
)

type textMessage struct {
	to   string
	body string
}

type mockMessenger struct {
	mu          sync.Mutex
	texts       []textMessage
	media       []whatsapp.OutboundMedia
	downloadErr error
	sendErr     error
	read        []string
}

func (m *mockMessenger) MarkRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read = append(m.read, id)
	return nil
}

func (m *mockMessenger) SendText(_ context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, textMessage{to, body})
	return "wamid.out", m.sendErr
}

func (m *mockMessenger) SendMedia(_ context.Context, _ string, media whatsapp.OutboundMedia) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media = append(m.media, media)
	return "wamid.media", nil
}

func (m *mockMessenger) DownloadMedia(_ context.Context, mediaID string) (*whatsapp.DownloadedMedia, error) {
	if m.downloadErr != nil {
		return nil, m.downloadErr
	}
	return &whatsapp.DownloadedMedia{Data: []byte("file-" + mediaID), MimeType: "image/jpeg"}, nil
}

func (m *mockMessenger) textsTo(to string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, t := range m.texts {
		if t.to == to {
			out = append(out, t.body)
		}
	}
	return out
}

type scheduledSend struct {
	kind string
	to   string
	body string
}

// mockScheduler records sends instead of delaying them; tasks run inline.
type mockScheduler struct {
	mu    sync.Mutex
	sends []scheduledSend
	ch    chan scheduledSend
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{ch: make(chan scheduledSend, 32)}
}

func (s *mockScheduler) ScheduleSend(kind, to, body string, _ uuid.UUID) {
	send := scheduledSend{kind, to, body}
	s.mu.Lock()
	s.sends = append(s.sends, send)
	s.mu.Unlock()
	s.ch <- send
}

func (s *mockScheduler) Schedule(kind, to string, _ uuid.UUID, fn delivery.Task) {
	err := fn(context.Background())
	send := scheduledSend{kind: kind, to: to}
	if err != nil {
		send.body = err.Error()
	}
	s.mu.Lock()
	s.sends = append(s.sends, send)
	s.mu.Unlock()
	s.ch <- send
}

func (s *mockScheduler) byKind(kind string) []scheduledSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scheduledSend
	for _, send := range s.sends {
		if send.kind == kind {
			out = append(out, send)
		}
	}
	return out
}

func (s *mockScheduler) last(t *testing.T) scheduledSend {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sends) == 0 {
		t.Fatal("nothing scheduled")
	}
	return s.sends[len(s.sends)-1]
}

type fixture struct {
	bot       *Bot
	leads     *repository.MemoryLeadRepository
	messenger *mockMessenger
	scheduler *mockScheduler
	fs        afero.Fs
	clock     *clock.Mock
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	clk := clock.NewMock(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	leads := repository.NewMemoryLeadRepository(clk)
	fs := afero.NewMemMapFs()
	f := &fixture{
		leads:     leads,
		messenger: &mockMessenger{},
		scheduler: newMockScheduler(),
		fs:        fs,
		clock:     clk,
	}

	cfg := Config{
		OperatorPhone:  "+" + operatorPhone,
		CRMBaseURL:     "https://crm.example.com/",
		DebounceWindow: 80 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	logger := zap.NewNop()
	f.bot = New(Deps{
		Leads:      leads,
		Classifier: classifier.New(nil, logger, nil),
		Generator:  generator.New(nil, config.BusinessConfig{Name: "Homebase Plumbers", AssistantName: "Sarah"}, logger, nil),
		Messenger:  f.messenger,
		Reader:     f.messenger,
		Scheduler:  f.scheduler,
		Store:      storage.NewLocalStoreFs(fs, "https://bot.example.com/media"),
		Clock:      clk,
		Logger:     logger,
	}, cfg)
	return f
}

func (f *fixture) text(t *testing.T, body string) {
	t.Helper()
	err := f.bot.Handle(context.Background(), whatsapp.InboundMessage{
		ID: uuid.NewString(), From: customerPhone, Type: whatsapp.TypeText, Text: body,
	})
	if err != nil {
		t.Fatalf("Handle(%q) error = %v", body, err)
	}
}

func (f *fixture) lead(t *testing.T) *domain.Lead {
	t.Helper()
	lead, err := f.leads.GetByPhone(context.Background(), customerPhone)
	if err != nil {
		t.Fatalf("GetByPhone() error = %v", err)
	}
	return lead
}

func ptr[T any](v T) *T { return &v }

func TestHandle_FirstContactCreatesOneLead(t *testing.T) {
	f := newFixture(t)
	f.text(t, "hi")
	f.text(t, "hello?")

	lead := f.lead(t)
	if lead.Status != domain.StatusPending || lead.ProjectType != nil || lead.CustomerName != nil {
		t.Errorf("lead = %+v, want pending with empty fields", lead)
	}
	if len(lead.ConversationHistory) != 4 {
		t.Fatalf("history length = %d, want 4", len(lead.ConversationHistory))
	}
	roles := []domain.Role{domain.RoleCustomer, domain.RoleAssistant, domain.RoleCustomer, domain.RoleAssistant}
	for i, want := range roles {
		if lead.ConversationHistory[i].Role != want {
			t.Errorf("history[%d].Role = %s, want %s", i, lead.ConversationHistory[i].Role, want)
		}
	}
	if lead.LastCustomerResponse == nil || lead.FollowupStage != domain.StageResponded {
		t.Error("expected last_customer_response to be stamped")
	}

	first := f.scheduler.sends[0]
	if !strings.Contains(first.body, "I'm Sarah from Homebase Plumbers") {
		t.Errorf("first reply = %q, want introduction", first.body)
	}
	if first.kind != metrics.SendReply || first.to != customerPhone {
		t.Errorf("first send = %+v", first)
	}
}

func TestHandle_MarksRead(t *testing.T) {
	f := newFixture(t)
	err := f.bot.Handle(context.Background(), whatsapp.InboundMessage{
		ID: "wamid.abc", From: customerPhone, Type: whatsapp.TypeText, Text: "hi",
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(f.messenger.read) != 1 || f.messenger.read[0] != "wamid.abc" {
		t.Errorf("read = %v", f.messenger.read)
	}
}

func TestHandle_BathroomInquiry(t *testing.T) {
	f := newFixture(t)
	f.text(t, "do you do bathroom renovations?")

	lead := f.lead(t)
	if lead.ProjectType == nil || *lead.ProjectType != domain.ProjectBathroom {
		t.Fatalf("ProjectType = %v, want bathroom_renovation", lead.ProjectType)
	}
	reply := f.scheduler.last(t).body
	if !strings.Contains(reply, "bathroom renovation") {
		t.Errorf("reply = %q, want mention of bathroom renovation", reply)
	}
	if !strings.Contains(reply, "building plan") {
		t.Errorf("reply = %q, want the plan question next", reply)
	}
}

func TestHandle_PricingWithAllDetails(t *testing.T) {
	f := newFixture(t)
	lead := domain.NewLead(customerPhone, f.clock.Now())
	lead.ProjectType = ptr(domain.ProjectKitchen)
	lead.PropertyType = ptr(domain.PropertyHouse)
	lead.CustomerArea = ptr("Harare Hatfield")
	lead.SetHasPlan(true)
	f.leads.Put(lead)

	f.text(t, "how much will this cost?")

	reply := f.scheduler.last(t).body
	if !strings.Contains(reply, generator.PriceRange(domain.ProjectKitchen)) {
		t.Errorf("reply = %q, want kitchen price range", reply)
	}
	if !strings.Contains(reply, "plan review") {
		t.Errorf("reply = %q, want plan review note", reply)
	}
}

func TestHandle_ShowMePriceGetsPricing(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.PortfolioURLs = []string{"https://example.com/kitchen.jpg"}
	})
	lead := domain.NewLead(customerPhone, f.clock.Now())
	lead.ProjectType = ptr(domain.ProjectKitchen)
	lead.PropertyType = ptr(domain.PropertyHouse)
	lead.CustomerArea = ptr("Harare Hatfield")
	lead.SetHasPlan(true)
	f.leads.Put(lead)

	f.text(t, "show me the price please")

	reply := f.scheduler.last(t).body
	if !strings.Contains(reply, generator.PriceRange(domain.ProjectKitchen)) {
		t.Errorf("reply = %q, want kitchen price range", reply)
	}
	if got := f.scheduler.byKind(metrics.SendPortfolio); len(got) != 0 {
		t.Errorf("portfolio sends = %+v, want none", got)
	}
}

func TestHandle_PricingWithMissingDetails(t *testing.T) {
	f := newFixture(t)
	lead := domain.NewLead(customerPhone, f.clock.Now())
	lead.ProjectType = ptr(domain.ProjectBathroom)
	lead.CustomerArea = ptr("Avondale")
	f.leads.Put(lead)

	f.text(t, "how much?")

	reply := f.scheduler.last(t).body
	if !strings.Contains(reply, "the type of property and whether you have a building plan") {
		t.Errorf("reply = %q, want the missing details named", reply)
	}
	if strings.Contains(reply, "US$") {
		t.Errorf("reply = %q, should not quote a price yet", reply)
	}
	// Intake continues with the next question.
	if !strings.Contains(reply, "Do you have a building plan") {
		t.Errorf("reply = %q, want the next intake question", reply)
	}
}

func TestHandle_FullIntake(t *testing.T) {
	f := newFixture(t)

	steps := []struct {
		say   string
		check func(*domain.Lead) bool
	}{
		{"I need help with my kitchen", func(l *domain.Lead) bool { return l.ProjectType != nil && *l.ProjectType == domain.ProjectKitchen }},
		{"no, please come for a site visit", func(l *domain.Lead) bool { return l.HasPlan != nil && !*l.HasPlan }},
		{"Mount Pleasant", func(l *domain.Lead) bool { return l.CustomerArea != nil && *l.CustomerArea == "Mount Pleasant" }},
		{"it's a townhouse", func(l *domain.Lead) bool { return l.PropertyType != nil && *l.PropertyType == domain.PropertyTownhouse }},
		{"next month", func(l *domain.Lead) bool { return l.Timeline != nil && *l.Timeline == "next month" }},
		{"Saturday morning", func(l *domain.Lead) bool { return l.Availability != nil && *l.Availability == "Saturday morning" }},
		{"my name is tatenda moyo", func(l *domain.Lead) bool { return l.CustomerName != nil && *l.CustomerName == "Tatenda Moyo" }},
	}
	for _, step := range steps {
		f.text(t, step.say)
		if !step.check(f.lead(t)) {
			t.Fatalf("after %q lead = %+v", step.say, f.lead(t))
		}
	}

	reply := f.scheduler.last(t).body
	if !strings.Contains(reply, "Thank you Tatenda Moyo") || !strings.Contains(reply, "confirm your booking") {
		t.Errorf("final reply = %q, want booking ready", reply)
	}

	f.text(t, "thanks!")
	if reply := f.scheduler.last(t).body; !strings.Contains(reply, "passed your message on") {
		t.Errorf("reply after completion = %q, want handover", reply)
	}
}

func TestHandle_UnrecognisedAnswerIsAskedAgain(t *testing.T) {
	f := newFixture(t)
	lead := domain.NewLead(customerPhone, f.clock.Now())
	lead.ProjectType = ptr(domain.ProjectBathroom)
	f.leads.Put(lead)

	f.text(t, "hmm let me think")

	if f.lead(t).HasPlan != nil {
		t.Error("has_plan should stay unknown")
	}
	if reply := f.scheduler.last(t).body; !strings.Contains(reply, "building plan") {
		t.Errorf("reply = %q, want the plan question again", reply)
	}
}

func TestHandle_UnsurePlanAnswerStaysUnknown(t *testing.T) {
	f := newFixture(t)
	lead := domain.NewLead(customerPhone, f.clock.Now())
	lead.ProjectType = ptr(domain.ProjectBathroom)
	f.leads.Put(lead)

	f.text(t, "not sure")

	got := f.lead(t)
	if got.HasPlan != nil || got.PlanStatus != domain.PlanNone {
		t.Fatalf("has_plan = %v plan_status = %s, want unknown and none", got.HasPlan, got.PlanStatus)
	}
	if reply := f.scheduler.last(t).body; !strings.Contains(reply, "building plan") {
		t.Errorf("reply = %q, want the plan question again", reply)
	}

	// An undecided lead still gets followed up once it goes quiet.
	q := domain.FollowupQuery{Now: f.clock.Now().Add(48 * time.Hour)}
	if !got.IsFollowupCandidate(q) {
		t.Error("lead should stay eligible for follow-up")
	}
}

func TestHandle_PhotoRequestSendsPortfolio(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.PortfolioURLs = []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/2.jpg"}
	})

	f.text(t, "can I see your work?")

	if len(f.messenger.media) != 2 || f.messenger.media[0].Link != "https://cdn.example.com/1.jpg" {
		t.Errorf("media sent = %+v", f.messenger.media)
	}
	if got := f.scheduler.byKind(metrics.SendPortfolio); len(got) != 1 || got[0].body != "" {
		t.Errorf("portfolio sends = %+v", got)
	}
	// The ladder stops at the photo rung.
	if len(f.scheduler.byKind(metrics.SendReply)) != 0 {
		t.Error("no intake question should follow a photo request")
	}
	lead := f.lead(t)
	last := lead.ConversationHistory[len(lead.ConversationHistory)-1]
	if last.Role != domain.RoleAssistant || !strings.Contains(last.Content, "[sent 2 photos]") {
		t.Errorf("last history entry = %+v", last)
	}
}

func TestHandle_PhotoRequestWithoutPortfolio(t *testing.T) {
	f := newFixture(t)
	f.text(t, "do you have photos of your work")

	if reply := f.scheduler.last(t).body; !strings.Contains(reply, "photos of our recent work") {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandle_MediaBurstOneAckManyAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	types := []whatsapp.MessageType{whatsapp.TypeImage, whatsapp.TypeDocument, whatsapp.TypeImage}
	for i, mt := range types {
		err := f.bot.Handle(ctx, whatsapp.InboundMessage{
			ID:    uuid.NewString(),
			From:  customerPhone,
			Type:  mt,
			Media: &whatsapp.MediaObject{ID: "MEDIA" + string(rune('A'+i)), MimeType: "image/jpeg"},
		})
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}

	select {
	case send := <-f.scheduler.ch:
		if send.kind != metrics.SendMediaAck {
			t.Fatalf("first scheduled send = %+v, want media ack", send)
		}
		if !strings.Contains(send.body, "received your file") {
			t.Errorf("ack = %q", send.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no acknowledgment sent")
	}
	time.Sleep(200 * time.Millisecond)

	if acks := f.scheduler.byKind(metrics.SendMediaAck); len(acks) != 1 {
		t.Errorf("acks = %d, want 1", len(acks))
	}
	alerts := f.messenger.textsTo(operatorPhone)
	if len(alerts) != 3 {
		t.Fatalf("operator alerts = %d, want 3", len(alerts))
	}
	lead := f.lead(t)
	if !strings.Contains(alerts[0], "https://crm.example.com/appointments/"+lead.ID.String()) {
		t.Errorf("alert = %q, want deep link", alerts[0])
	}
	if !strings.Contains(alerts[0], "https://bot.example.com/media/leads/") {
		t.Errorf("alert = %q, want file link", alerts[0])
	}

	if lead.PlanStatus != domain.PlanUploaded || lead.HasPlan == nil || !*lead.HasPlan {
		t.Errorf("plan status = %s, has_plan = %v", lead.PlanStatus, lead.HasPlan)
	}
	// The first stored file stays the plan.
	if lead.PlanFile == nil || !strings.HasSuffix(*lead.PlanFile, "MEDIAA.jpg") {
		t.Errorf("plan file = %v", lead.PlanFile)
	}
	if ok, _ := afero.Exists(f.fs, "/"+*lead.PlanFile); !ok {
		t.Error("plan file not written to the store")
	}
}

func TestHandle_VideoAckUsesLatestType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, mt := range []whatsapp.MessageType{whatsapp.TypeImage, whatsapp.TypeVideo} {
		_ = f.bot.Handle(ctx, whatsapp.InboundMessage{
			ID: uuid.NewString(), From: customerPhone, Type: mt,
			Media: &whatsapp.MediaObject{ID: uuid.NewString()},
		})
	}

	select {
	case send := <-f.scheduler.ch:
		if !strings.Contains(send.body, "video") {
			t.Errorf("ack = %q, want video acknowledgment", send.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no acknowledgment sent")
	}
}

func TestHandle_MediaStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.messenger.downloadErr = errors.New("media url expired")

	err := f.bot.Handle(context.Background(), whatsapp.InboundMessage{
		ID: uuid.NewString(), From: customerPhone, Type: whatsapp.TypeDocument,
		Media: &whatsapp.MediaObject{ID: "DOC1", MimeType: "application/pdf", Filename: "plan.pdf"},
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	alerts := f.messenger.textsTo(operatorPhone)
	if len(alerts) != 1 || !strings.Contains(alerts[0], "could not be saved automatically") {
		t.Errorf("alerts = %v, want failure flag", alerts)
	}
	if f.lead(t).PlanFile != nil {
		t.Error("plan file should stay empty")
	}

	select {
	case send := <-f.scheduler.ch:
		if send.kind != metrics.SendMediaAck {
			t.Errorf("send = %+v, want customer acknowledgment", send)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("customer acknowledgment should still be sent")
	}
}

func TestHandle_LocationFillsArea(t *testing.T) {
	f := newFixture(t)
	lead := domain.NewLead(customerPhone, f.clock.Now())
	lead.ProjectType = ptr(domain.ProjectNewPlumbing)
	lead.SetHasPlan(false)
	f.leads.Put(lead)

	err := f.bot.Handle(context.Background(), whatsapp.InboundMessage{
		ID: uuid.NewString(), From: customerPhone, Type: whatsapp.TypeLocation,
		Location: &whatsapp.Location{Name: "Borrowdale Brooke", Address: "Harare"},
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := f.lead(t)
	if got.CustomerArea == nil || *got.CustomerArea != "Borrowdale Brooke, Harare" {
		t.Errorf("area = %v", got.CustomerArea)
	}
	if reply := f.scheduler.last(t).body; !strings.Contains(reply, "house, apartment") {
		t.Errorf("reply = %q, want property type question", reply)
	}
}

func TestHandle_UnsupportedType(t *testing.T) {
	f := newFixture(t)
	err := f.bot.Handle(context.Background(), whatsapp.InboundMessage{
		ID: uuid.NewString(), From: customerPhone, Type: whatsapp.TypeSticker,
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if reply := f.scheduler.last(t).body; !strings.Contains(reply, "type your message") {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandle_ReactionIgnored(t *testing.T) {
	f := newFixture(t)
	err := f.bot.Handle(context.Background(), whatsapp.InboundMessage{
		ID: uuid.NewString(), From: customerPhone, Type: whatsapp.TypeReaction,
	})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if _, err := f.leads.GetByPhone(context.Background(), customerPhone); err == nil {
		t.Error("a reaction should not create a lead")
	}
}

func TestHandle_ResponseReactivatesLead(t *testing.T) {
	f := newFixture(t)
	lead := domain.NewLead(customerPhone, f.clock.Now().Add(-60*24*time.Hour))
	lead.FollowupStage = domain.StageCompleted
	lead.MarkInactive(f.clock.Now().Add(-time.Hour))
	f.leads.Put(lead)

	f.text(t, "hi again, still interested")

	got := f.lead(t)
	if !got.IsLeadActive || got.FollowupStage != domain.StageResponded {
		t.Errorf("lead active = %v stage = %s", got.IsLeadActive, got.FollowupStage)
	}
}

func TestStaffReply(t *testing.T) {
	f := newFixture(t)
	f.text(t, "hi")

	lead, err := f.bot.StaffReply(context.Background(), customerPhone, "Hi, this is Farai the plumber.")
	if err != nil {
		t.Fatalf("StaffReply() error = %v", err)
	}
	if got := f.messenger.textsTo(customerPhone); len(got) != 1 || got[0] != "Hi, this is Farai the plumber." {
		t.Errorf("sent = %v", got)
	}
	stored := f.lead(t)
	last := stored.ConversationHistory[len(stored.ConversationHistory)-1]
	if last.Content != "Hi, this is Farai the plumber." || lead.ID != stored.ID {
		t.Errorf("last entry = %+v", last)
	}
}

func TestStaffReply_SendFailureNotRecorded(t *testing.T) {
	f := newFixture(t)
	f.text(t, "hi")
	before := len(f.lead(t).ConversationHistory)
	f.messenger.sendErr = errors.New("window closed")

	if _, err := f.bot.StaffReply(context.Background(), customerPhone, "hello"); err == nil {
		t.Fatal("expected error")
	}
	if after := len(f.lead(t).ConversationHistory); after != before {
		t.Errorf("history grew from %d to %d", before, after)
	}
}

type panickingClassifier struct{ IntentClassifier }

func (panickingClassifier) IsPhotoRequest(context.Context, string) bool { panic("boom") }

func TestHandle_PanicDropsTurn(t *testing.T) {
	f := newFixture(t)
	f.bot.classifier = panickingClassifier{}

	f.text(t, "hello")

	if len(f.scheduler.sends) != 0 {
		t.Errorf("sends = %+v, want none", f.scheduler.sends)
	}
	if got := f.lead(t); len(got.ConversationHistory) != 1 {
		t.Errorf("history = %d entries, want only the customer message", len(got.ConversationHistory))
	}
}
