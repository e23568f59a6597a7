package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jkindrix/plumbot/internal/clock"
	"github.com/jkindrix/plumbot/internal/domain"
	apperrors "github.com/jkindrix/plumbot/internal/errors"
	"github.com/jkindrix/plumbot/internal/followup"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/repository"
)

type stubReplier struct {
	leads domain.LeadRepository
	err   error
	phone string
	text  string
}

func (s *stubReplier) StaffReply(ctx context.Context, phone, text string) (*domain.Lead, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.phone, s.text = phone, text
	return s.leads.GetByPhone(ctx, phone)
}

type stubRunner struct {
	opts   followup.Options
	report *followup.Report
	err    error
}

func (s *stubRunner) Run(_ context.Context, opts followup.Options) (*followup.Report, error) {
	s.opts = opts
	return s.report, s.err
}

type leadFixture struct {
	router  chi.Router
	leads   *repository.MemoryLeadRepository
	replier *stubReplier
	runner  *stubRunner
	events  *observer.ObservedLogs
	lead    *domain.Lead
}

func newLeadFixture(t *testing.T) *leadFixture {
	t.Helper()
	clk := clock.NewMock(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	leads := repository.NewMemoryLeadRepository(clk)
	lead := domain.NewLead("263771234567", clk.Now())
	leads.Put(lead)

	core, events := observer.New(zap.InfoLevel)
	replier := &stubReplier{leads: leads}
	runner := &stubRunner{report: &followup.Report{Candidates: 3, Sent: 2, Skipped: 1}}
	h := NewLeadHandler(LeadHandlerConfig{
		Leads:     leads,
		Replier:   replier,
		Followups: runner,
		Events:    metrics.NewBusinessEventLogger(zap.New(core)),
		Logger:    zap.NewNop(),
	})
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)
	return &leadFixture{router: r, leads: leads, replier: replier, runner: runner, events: events, lead: lead}
}

func (f *leadFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeLead(t *testing.T, rec *httptest.ResponseRecorder) domain.Lead {
	t.Helper()
	var lead domain.Lead
	if err := json.NewDecoder(rec.Body).Decode(&lead); err != nil {
		t.Fatalf("decode lead: %v", err)
	}
	return lead
}

func TestLeadHandler_Get(t *testing.T) {
	f := newLeadFixture(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"digits", "/api/leads/263771234567", http.StatusOK},
		{"formatted", "/api/leads/+263%2077%20123%204567", http.StatusOK},
		{"unknown", "/api/leads/263779999999", http.StatusNotFound},
		{"invalid", "/api/leads/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				if got := decodeLead(t, rec); got.ID != f.lead.ID {
					t.Errorf("lead id = %s, want %s", got.ID, f.lead.ID)
				}
			}
		})
	}
}

func TestLeadHandler_Status(t *testing.T) {
	f := newLeadFixture(t)

	rec := f.do(http.MethodPost, "/api/leads/263771234567/status", StatusRequest{Status: "confirmed", Note: "site visit Tuesday"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeLead(t, rec); got.Status != domain.StatusConfirmed {
		t.Errorf("response status = %s", got.Status)
	}
	stored, _ := f.leads.GetByPhone(context.Background(), "263771234567")
	if stored.Status != domain.StatusConfirmed {
		t.Errorf("stored status = %s", stored.Status)
	}
	if f.events.FilterMessage("lead_status_changed").Len() != 1 {
		t.Error("expected a status change event")
	}
}

func TestLeadHandler_StatusValidation(t *testing.T) {
	f := newLeadFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{"unknown status", StatusRequest{Status: "booked"}},
		{"missing status", StatusRequest{}},
		{"unknown field", map[string]string{"status": "confirmed", "extra": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/leads/263771234567/status", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	rec := f.do(http.MethodPost, "/api/leads/263771234567/status", StatusRequest{Status: "booked"})
	var resp ValidationErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "status" {
		t.Errorf("fields = %+v", resp.Fields)
	}
}

func TestLeadHandler_Reply(t *testing.T) {
	f := newLeadFixture(t)

	rec := f.do(http.MethodPost, "/api/leads/263771234567/reply", ReplyRequest{Message: "Hi, this is Tafadzwa from the office."})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if f.replier.phone != "263771234567" || f.replier.text == "" {
		t.Errorf("replier got phone %q text %q", f.replier.phone, f.replier.text)
	}

	if rec := f.do(http.MethodPost, "/api/leads/263771234567/reply", ReplyRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}

	f.replier.err = apperrors.TransportError("whatsapp.SendText", 0, errors.New("timeout"))
	if rec := f.do(http.MethodPost, "/api/leads/263771234567/reply", ReplyRequest{Message: "hello"}); rec.Code != http.StatusBadGateway {
		t.Errorf("send failure status = %d, want 502", rec.Code)
	}
}

func TestLeadHandler_PlanStatus(t *testing.T) {
	f := newLeadFixture(t)

	rec := f.do(http.MethodPost, "/api/leads/263771234567/plan-status", PlanStatusRequest{PlanStatus: "plan_reviewed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decodeLead(t, rec)
	if got.PlanStatus != domain.PlanReviewed || got.HasPlan == nil || !*got.HasPlan {
		t.Errorf("plan = %s has_plan = %v", got.PlanStatus, got.HasPlan)
	}

	rec = f.do(http.MethodPost, "/api/leads/263771234567/plan-status", PlanStatusRequest{PlanStatus: "none"})
	got = decodeLead(t, rec)
	if got.PlanStatus != domain.PlanNone || got.HasPlan == nil || *got.HasPlan {
		t.Errorf("after none: plan = %s has_plan = %v", got.PlanStatus, got.HasPlan)
	}

	if rec := f.do(http.MethodPost, "/api/leads/263771234567/plan-status", PlanStatusRequest{PlanStatus: "lost"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid plan status = %d, want 400", rec.Code)
	}
}

func TestLeadHandler_RunFollowups(t *testing.T) {
	f := newLeadFixture(t)

	rec := f.do(http.MethodPost, "/api/followups/run?dry_run=true&force=1&limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !f.runner.opts.DryRun || !f.runner.opts.Force || f.runner.opts.Limit != 10 {
		t.Errorf("options = %+v", f.runner.opts)
	}
	var report followup.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Sent != 2 || report.Candidates != 3 {
		t.Errorf("report = %+v", report)
	}

	for _, q := range []string{"dry_run=maybe", "limit=-1", "limit=x"} {
		if rec := f.do(http.MethodPost, "/api/followups/run?"+q, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}

	f.runner.err = followup.ErrRunInProgress
	if rec := f.do(http.MethodPost, "/api/followups/run", nil); rec.Code != http.StatusConflict {
		t.Errorf("overlapping run status = %d, want 409", rec.Code)
	}
}
