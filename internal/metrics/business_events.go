package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/sanitize"
)

// BusinessEventLogger provides structured logging for lead lifecycle events.
// This complements Prometheus metrics with searchable per-lead records for
// the sales team. A nil logger is a no-op.
type BusinessEventLogger struct {
	logger *zap.Logger
}

// NewBusinessEventLogger creates a new business event logger.
func NewBusinessEventLogger(logger *zap.Logger) *BusinessEventLogger {
	return &BusinessEventLogger{
		logger: logger.Named("business_events"),
	}
}

// LeadCreated logs first contact from a new phone number.
func (l *BusinessEventLogger) LeadCreated(_ context.Context, leadID uuid.UUID, phone string) {
	if l == nil {
		return
	}
	l.logger.Info("lead_created",
		zap.String("event_type", "lead.created"),
		zap.String("lead_id", leadID.String()),
		zap.String("phone", sanitize.Phone(phone)),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// ServiceIdentified logs a high-confidence service inquiry.
func (l *BusinessEventLogger) ServiceIdentified(_ context.Context, leadID uuid.UUID, projectType string) {
	if l == nil {
		return
	}
	l.logger.Info("service_identified",
		zap.String("event_type", "lead.service_identified"),
		zap.String("lead_id", leadID.String()),
		zap.String("project_type", projectType),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// BookingReady logs a lead whose intake is complete.
func (l *BusinessEventLogger) BookingReady(_ context.Context, leadID uuid.UUID, projectType string) {
	if l == nil {
		return
	}
	l.logger.Info("booking_ready",
		zap.String("event_type", "lead.booking_ready"),
		zap.String("lead_id", leadID.String()),
		zap.String("project_type", projectType),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// PlanUploaded logs a stored plan file.
func (l *BusinessEventLogger) PlanUploaded(_ context.Context, leadID uuid.UUID, mediaType string, stored bool) {
	if l == nil {
		return
	}
	l.logger.Info("plan_uploaded",
		zap.String("event_type", "lead.plan_uploaded"),
		zap.String("lead_id", leadID.String()),
		zap.String("media_type", mediaType),
		zap.Bool("stored", stored),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// StatusChanged logs a staff status change.
func (l *BusinessEventLogger) StatusChanged(_ context.Context, leadID uuid.UUID, from, to string) {
	if l == nil {
		return
	}
	l.logger.Info("lead_status_changed",
		zap.String("event_type", "lead.status_changed"),
		zap.String("lead_id", leadID.String()),
		zap.String("from", from),
		zap.String("to", to),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// FollowupSent logs an automatic follow-up.
func (l *BusinessEventLogger) FollowupSent(_ context.Context, leadID uuid.UUID, stage string, count int, aiGenerated bool) {
	if l == nil {
		return
	}
	l.logger.Info("followup_sent",
		zap.String("event_type", "followup.sent"),
		zap.String("lead_id", leadID.String()),
		zap.String("stage", stage),
		zap.Int("followup_count", count),
		zap.Bool("ai_generated", aiGenerated),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// LeadDeactivated logs a lead that exhausted the follow-up cadence.
func (l *BusinessEventLogger) LeadDeactivated(_ context.Context, leadID uuid.UUID, followups int) {
	if l == nil {
		return
	}
	l.logger.Info("lead_deactivated",
		zap.String("event_type", "lead.deactivated"),
		zap.String("lead_id", leadID.String()),
		zap.Int("followup_count", followups),
		zap.Time("timestamp", time.Now().UTC()),
	)
}

// FollowupRunStats summarizes one cadence run.
type FollowupRunStats struct {
	Candidates int
	Sent       int
	Completed  int
	Skipped    int
	Failed     int
	DryRun     bool
	Duration   time.Duration
}

// FollowupRun logs the summary of a cadence run.
func (l *BusinessEventLogger) FollowupRun(_ context.Context, stats FollowupRunStats) {
	if l == nil {
		return
	}
	l.logger.Info("followup_run",
		zap.String("event_type", "followup.run"),
		zap.Int("candidates", stats.Candidates),
		zap.Int("sent", stats.Sent),
		zap.Int("completed", stats.Completed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Bool("dry_run", stats.DryRun),
		zap.Duration("duration", stats.Duration),
		zap.Time("timestamp", time.Now().UTC()),
	)
}
