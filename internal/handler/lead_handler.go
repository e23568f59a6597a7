package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/domain"
	apperrors "github.com/jkindrix/plumbot/internal/errors"
	"github.com/jkindrix/plumbot/internal/followup"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/middleware"
	"github.com/jkindrix/plumbot/internal/sanitize"
	"github.com/jkindrix/plumbot/internal/validation"
)

// StaffReplier sends a staff-written message to a lead.
type StaffReplier interface {
	StaffReply(ctx context.Context, phone, text string) (*domain.Lead, error)
}

// FollowupRunner starts a follow-up pass on demand.
type FollowupRunner interface {
	Run(ctx context.Context, opts followup.Options) (*followup.Report, error)
}

// LeadHandler serves the staff API.
type LeadHandler struct {
	leads     domain.LeadRepository
	replier   StaffReplier
	followups FollowupRunner
	events    *metrics.BusinessEventLogger
	logger    *zap.Logger
}

// LeadHandlerConfig holds configuration for LeadHandler.
type LeadHandlerConfig struct {
	Leads     domain.LeadRepository
	Replier   StaffReplier
	Followups FollowupRunner
	Events    *metrics.BusinessEventLogger
	Logger    *zap.Logger
}

// NewLeadHandler creates a LeadHandler.
func NewLeadHandler(cfg LeadHandlerConfig) *LeadHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	return &LeadHandler{
		leads:     cfg.Leads,
		replier:   cfg.Replier,
		followups: cfg.Followups,
		events:    cfg.Events,
		logger:    cfg.Logger.Named("staff_api"),
	}
}

// RegisterRoutes registers the staff routes. The caller applies the admin
// guard.
func (h *LeadHandler) RegisterRoutes(r chi.Router) {
	r.Route("/leads/{phone}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Post("/status", h.HandleStatus)
		r.Post("/reply", h.HandleReply)
		r.Post("/plan-status", h.HandlePlanStatus)
	})
	r.Post("/followups/run", h.HandleRunFollowups)
}

// StatusRequest changes a lead's booking status.
type StatusRequest struct {
	Status string `json:"status" validate:"required,lead_status"`
	Note   string `json:"note" validate:"max=500"`
}

// ReplyRequest is a manual staff message.
type ReplyRequest struct {
	Message string `json:"message" validate:"required,max=4096"`
}

// PlanStatusRequest moves a lead through plan review.
type PlanStatusRequest struct {
	PlanStatus string `json:"plan_status" validate:"required,plan_status"`
}

// phoneParam reads and checks the {phone} path parameter.
func phoneParam(r *http.Request) (string, error) {
	phone := sanitize.NormalizePhone(chi.URLParam(r, "phone"))
	if !validation.Phone(phone) {
		return "", apperrors.New(apperrors.CodeInvalidInput, "invalid phone number")
	}
	return phone, nil
}

// HandleGet returns a lead with its history.
func (h *LeadHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	lead, err := h.lookup(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, lead)
}

// HandleStatus records a staff booking decision.
func (h *LeadHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lead, err := h.lookup(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	from := lead.Status
	lead.Status = domain.LeadStatus(req.Status)
	if err := h.leads.Update(r.Context(), lead); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.events.StatusChanged(r.Context(), lead.ID, string(from), req.Status)
	middleware.LoggerWithCorrelation(r.Context(), h.logger).Info("lead status changed",
		zap.String("lead_id", lead.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", req.Status),
		zap.String("note", sanitize.Text(req.Note, 200)),
	)
	writeJSON(w, r, http.StatusOK, lead)
}

// HandleReply sends a staff message immediately.
func (h *LeadHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	phone, err := phoneParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lead, err := h.replier.StaffReply(r.Context(), phone, req.Message)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, lead)
}

// HandlePlanStatus sets the plan review state. Moving back to none also
// clears has_plan.
func (h *LeadHandler) HandlePlanStatus(w http.ResponseWriter, r *http.Request) {
	var req PlanStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	lead, err := h.lookup(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := domain.PlanStatus(req.PlanStatus)
	has := status != domain.PlanNone
	lead.HasPlan = &has
	lead.PlanStatus = status
	if err := h.leads.Update(r.Context(), lead); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, lead)
}

// HandleRunFollowups runs a follow-up pass and returns its report.
func (h *LeadHandler) HandleRunFollowups(w http.ResponseWriter, r *http.Request) {
	opts, err := parseRunOptions(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	report, err := h.followups.Run(r.Context(), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func parseRunOptions(r *http.Request) (followup.Options, error) {
	q := r.URL.Query()
	var opts followup.Options
	var err error
	if v := q.Get("dry_run"); v != "" {
		if opts.DryRun, err = strconv.ParseBool(v); err != nil {
			return opts, apperrors.New(apperrors.CodeInvalidInput, "dry_run must be a boolean")
		}
	}
	if v := q.Get("force"); v != "" {
		if opts.Force, err = strconv.ParseBool(v); err != nil {
			return opts, apperrors.New(apperrors.CodeInvalidInput, "force must be a boolean")
		}
	}
	if v := q.Get("limit"); v != "" {
		if opts.Limit, err = strconv.Atoi(v); err != nil || opts.Limit < 0 {
			return opts, apperrors.New(apperrors.CodeInvalidInput, "limit must be a non-negative integer")
		}
	}
	return opts, nil
}

func (h *LeadHandler) lookup(r *http.Request) (*domain.Lead, error) {
	phone, err := phoneParam(r)
	if err != nil {
		return nil, err
	}
	return h.leads.GetByPhone(r.Context(), phone)
}
