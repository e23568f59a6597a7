package followup

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jkindrix/plumbot/internal/clock"
	"github.com/jkindrix/plumbot/internal/domain"
	apperrors "github.com/jkindrix/plumbot/internal/errors"
	"github.com/jkindrix/plumbot/internal/generator"
	"github.com/jkindrix/plumbot/internal/metrics"
	"github.com/jkindrix/plumbot/internal/sanitize"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still going.
var ErrRunInProgress = apperrors.New(apperrors.CodeConflict, "a follow-up run is already in progress")

// Messenger sends follow-up texts.
type Messenger interface {
	SendText(ctx context.Context, to, body string) (string, error)
}

// Outcome is what a run did with one lead.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Options control a single run.
type Options struct {
	// DryRun selects, stages and generates but neither writes nor sends.
	DryRun bool
	// Force ignores the once-per-day limit.
	Force bool
	// Limit caps the number of leads selected; 0 uses the engine default.
	Limit int
}

// LeadResult reports the outcome for one lead.
type LeadResult struct {
	LeadID      uuid.UUID            `json:"lead_id"`
	Phone       string               `json:"phone"`
	From        domain.FollowupStage `json:"from"`
	To          domain.FollowupStage `json:"to,omitempty"`
	Outcome     Outcome              `json:"outcome"`
	Message     string               `json:"message,omitempty"`
	AIGenerated bool                 `json:"ai_generated,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	DryRun     bool          `json:"dry_run"`
	Candidates int           `json:"candidates"`
	Sent       int           `json:"sent"`
	Completed  int           `json:"completed"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"duration_ns"`
	Results    []LeadResult  `json:"results"`
}

// Config holds engine settings.
type Config struct {
	BatchLimit  int
	Concurrency int
	// Location defines the calendar day for the once-per-day limit.
	Location    *time.Location
	SendTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		BatchLimit:  200,
		Concurrency: 4,
		Location:    time.UTC,
		SendTimeout: 30 * time.Second,
	}
}

// Deps are the engine's collaborators.
type Deps struct {
	Leads     domain.LeadRepository
	Generator *generator.Generator
	Messenger Messenger
	Clock     clock.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Events    *metrics.BusinessEventLogger
}

// Engine runs the follow-up cadence.
type Engine struct {
	leads     domain.LeadRepository
	generator *generator.Generator
	messenger Messenger
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics
	events    *metrics.BusinessEventLogger
	cfg       Config

	running atomic.Bool
}

// NewEngine creates an Engine. Zero config fields take their defaults.
func NewEngine(deps Deps, cfg Config) *Engine {
	if deps.Logger == nil {
		panic("followup: logger is required")
	}
	def := DefaultConfig()
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = def.BatchLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	return &Engine{
		leads:     deps.Leads,
		generator: deps.Generator,
		messenger: deps.Messenger,
		clock:     clock.OrDefault(deps.Clock),
		logger:    deps.Logger.Named("followup"),
		metrics:   deps.Metrics,
		events:    deps.Events,
		cfg:       cfg,
	}
}

// Run performs one pass over the eligible leads. Per-lead failures are
// reported in the result and never abort the run; an error means the
// candidates could not be selected.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	start := time.Now()
	now := e.clock.Now()
	limit := opts.Limit
	if limit <= 0 {
		limit = e.cfg.BatchLimit
	}

	candidates, err := e.leads.ListFollowupCandidates(ctx, domain.FollowupQuery{
		Now:      now,
		Force:    opts.Force,
		Location: e.cfg.Location,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	results := make([]LeadResult, len(candidates))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, lead := range candidates {
		g.Go(func() error {
			results[i] = e.process(ctx, lead, now, opts.DryRun)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{DryRun: opts.DryRun, Candidates: len(candidates), Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSent:
			report.Sent++
		case OutcomeCompleted:
			report.Completed++
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeFailed:
			report.Failed++
		}
	}
	report.Duration = time.Since(start)

	e.metrics.RecordFollowupRun(report.Duration)
	e.events.FollowupRun(ctx, metrics.FollowupRunStats{
		Candidates: report.Candidates,
		Sent:       report.Sent,
		Completed:  report.Completed,
		Skipped:    report.Skipped,
		Failed:     report.Failed,
		DryRun:     report.DryRun,
		Duration:   report.Duration,
	})
	return report, nil
}

func (e *Engine) process(ctx context.Context, lead *domain.Lead, now time.Time, dryRun bool) LeadResult {
	res := LeadResult{
		LeadID:  lead.ID,
		Phone:   sanitize.Phone(lead.PhoneNumber),
		From:    lead.FollowupStage,
		Outcome: OutcomeSkipped,
	}
	logger := e.logger.With(
		zap.String("lead_id", lead.ID.String()),
		zap.String("stage", string(lead.FollowupStage)),
	)

	next, ok := NextStage(lead, now)
	if !ok {
		return res
	}
	res.To = next

	if next == domain.StageCompleted {
		res.Outcome = OutcomeCompleted
		if dryRun {
			return res
		}
		lead.FollowupStage = domain.StageCompleted
		lead.MarkInactive(now)
		if err := e.leads.Update(ctx, lead); err != nil {
			logger.Error("failed to deactivate lead", zap.Error(err))
			return e.fail(res, next, err)
		}
		e.metrics.RecordFollowup(string(next), string(OutcomeCompleted))
		e.events.LeadDeactivated(ctx, lead.ID, lead.FollowupCount)
		logger.Info("follow-up cadence completed, lead deactivated")
		return res
	}

	msg := e.generator.Generate(ctx, lead, generator.FollowupTopic(next), "")
	res.Message = msg.Text
	res.AIGenerated = msg.AIGenerated
	if dryRun {
		res.Outcome = OutcomeSent
		return res
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	_, err := e.messenger.SendText(sendCtx, lead.PhoneNumber, msg.Text)
	cancel()
	e.metrics.RecordSend(metrics.SendFollowup, err)
	if err != nil {
		// The stage is left alone so the next run tries again.
		logger.Error("failed to send follow-up", zap.String("next_stage", string(next)), zap.Error(err))
		return e.fail(res, next, err)
	}

	lead.LastFollowupSent = &now
	lead.FollowupCount++
	lead.FollowupStage = next
	entry := lead.AppendMessage(domain.RoleAssistant, domain.FollowupTag+" "+msg.Text, now)
	if err := e.leads.Update(ctx, lead); err != nil {
		logger.Error("follow-up sent but lead not updated", zap.Error(err))
		return e.fail(res, next, err)
	}
	if err := e.leads.AppendMessage(ctx, lead.ID, entry); err != nil {
		logger.Error("failed to record follow-up in history", zap.Error(err))
	}

	res.Outcome = OutcomeSent
	e.metrics.RecordFollowup(string(next), string(OutcomeSent))
	e.events.FollowupSent(ctx, lead.ID, string(next), lead.FollowupCount, msg.AIGenerated)
	logger.Info("follow-up sent",
		zap.String("next_stage", string(next)),
		zap.Bool("ai_generated", msg.AIGenerated),
	)
	return res
}

func (e *Engine) fail(res LeadResult, next domain.FollowupStage, err error) LeadResult {
	res.Outcome = OutcomeFailed
	res.Error = err.Error()
	e.metrics.RecordFollowup(string(next), string(OutcomeFailed))
	return res
}
